package bus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/observability"
	"github.com/favloyalty/widgetbridge/model"
)

// Handler processes a single decoded inbound message.
type Handler func(ctx context.Context, msg model.Message) error

// Dispatcher routes decoded inbound messages to registered handlers. One
// handler per message type; unknown types and decode failures are dropped
// without tearing down the channel, since the wire is shared with arbitrary
// other page scripts.
type Dispatcher struct {
	direction string
	handlers  map[model.MessageType]Handler
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewDispatcher creates a dispatcher for one side of the channel. The
// direction label ("host" or "frame") names the receiving side in logs and
// metrics.
func NewDispatcher(direction string, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		direction: direction,
		handlers:  make(map[model.MessageType]Handler),
		logger:    logger,
		metrics:   metrics,
	}
}

// Handle registers the handler for a message type. Registering the same type
// twice is a programming error and panics at wiring time.
func (d *Dispatcher) Handle(t model.MessageType, h Handler) {
	if _, dup := d.handlers[t]; dup {
		panic(fmt.Sprintf("bus: duplicate handler for message type %q", t))
	}
	d.handlers[t] = h
}

// Dispatch decodes one raw wire message and invokes its handler. Handler
// panics are contained here so a single bad message cannot kill the receive
// loop.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) {
	msg, err := model.Decode(raw)
	if err != nil {
		// 1. Foreign or malformed traffic: drop silently at debug level.
		d.metrics.RecordMessageDrop(d.direction, "decode")
		d.logger.Debug("dropping undecodable message",
			zap.String("direction", d.direction),
			zap.Error(err))
		return
	}

	h, ok := d.handlers[msg.MessageType()]
	if !ok {
		// 2. Known type, no handler on this side.
		d.metrics.RecordMessageDrop(d.direction, "unhandled")
		d.logger.Debug("no handler for message type",
			zap.String("direction", d.direction),
			zap.String("type", string(msg.MessageType())))
		return
	}

	d.metrics.RecordMessage(d.direction, string(msg.MessageType()))

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handler panicked",
				zap.String("direction", d.direction),
				zap.String("type", string(msg.MessageType())),
				zap.Any("panic", r))
		}
	}()

	// 3. Handler errors are logged, never propagated across the channel.
	if err := h(ctx, msg); err != nil {
		d.logger.Warn("message handler failed",
			zap.String("direction", d.direction),
			zap.String("type", string(msg.MessageType())),
			zap.Error(err))
	}
}

// Listen consumes the connection's inbound stream until the peer closes it or
// the context is cancelled.
func (d *Dispatcher) Listen(ctx context.Context, conn Conn) {
	for {
		select {
		case raw, ok := <-conn.Messages():
			if !ok {
				return
			}
			d.Dispatch(ctx, raw)
		case <-ctx.Done():
			return
		}
	}
}
