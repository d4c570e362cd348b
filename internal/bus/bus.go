// Package bus implements the cross-frame message channel between the host
// loader and the embedded widget application. Messages are flat JSON objects
// with a type discriminator; the channel is origin-unchecked by design, so
// receivers tolerate unknown and malformed traffic by dropping it.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/favloyalty/widgetbridge/model"
)

// Conn is one endpoint of a cross-frame message channel. Post never blocks
// beyond the context deadline; there is no synchronous call path between the
// two sides.
type Conn interface {
	// Post encodes and sends a message to the peer.
	Post(ctx context.Context, msg model.Message) error
	// Messages returns the stream of raw inbound wire messages. The channel
	// is closed when the peer closes its end.
	Messages() <-chan []byte
	// Close shuts down this endpoint's outbound side. A Post blocked on a
	// full buffer is released with ErrConnClosed.
	Close() error
}

// ErrConnClosed is returned by Post after the endpoint has been closed.
var ErrConnClosed = fmt.Errorf("bus: connection closed")

// defaultBuffer is the per-direction message buffer. Browser message queues
// are effectively unbounded; a small buffer plus context-aware sends is the
// in-process equivalent.
const defaultBuffer = 64

// half is one direction of the pipe. Post writes into send; the forwarder
// goroutine moves messages onto out and is the sole sender and closer of
// out, so shutting the direction down can never race a concurrent Post into
// a closed channel.
type half struct {
	send chan []byte
	out  chan []byte
	done chan struct{}
}

func newHalf() *half {
	h := &half{
		send: make(chan []byte, defaultBuffer),
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go h.forward()
	return h
}

func (h *half) forward() {
	defer close(h.out)
	for {
		select {
		case raw := <-h.send:
			select {
			case h.out <- raw:
			case <-h.done:
				return
			}
		case <-h.done:
			// Hand already-buffered messages to a waiting reader, then stop.
			for {
				select {
				case raw := <-h.send:
					select {
					case h.out <- raw:
					default:
						return
					}
				default:
					return
				}
			}
		}
	}
}

type endpoint struct {
	tx *half
	in <-chan []byte

	once sync.Once
}

// Pipe returns two connected in-process endpoints. Everything posted on one
// side, after wire encoding, arrives on the other side's Messages channel in
// order.
func Pipe() (Conn, Conn) {
	ab := newHalf()
	ba := newHalf()
	a := &endpoint{tx: ab, in: ba.out}
	b := &endpoint{tx: ba, in: ab.out}
	return a, b
}

func (e *endpoint) Post(ctx context.Context, msg model.Message) error {
	raw, err := model.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-e.tx.done:
		return ErrConnClosed
	default:
	}

	select {
	case e.tx.send <- raw:
		return nil
	case <-e.tx.done:
		return ErrConnClosed
	case <-ctx.Done():
		return fmt.Errorf("bus: posting %s: %w", msg.MessageType(), ctx.Err())
	}
}

func (e *endpoint) Messages() <-chan []byte {
	return e.in
}

func (e *endpoint) Close() error {
	e.once.Do(func() { close(e.tx.done) })
	return nil
}
