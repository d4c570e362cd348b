package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/model"
)

func TestPipeDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	host, frame := Pipe()
	defer host.Close()
	defer frame.Close()

	if err := host.Post(ctx, model.WidgetOpened{}); err != nil {
		t.Fatalf("post widget-opened: %v", err)
	}
	if err := host.Post(ctx, model.CustomerResolved{CustomerID: "42", CustomerEmail: "a@b.test"}); err != nil {
		t.Fatalf("post customer: %v", err)
	}

	first := <-frame.Messages()
	second := <-frame.Messages()

	msg1, err := model.Decode(first)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if msg1.MessageType() != model.MsgWidgetOpened {
		t.Errorf("first message type = %q, want %q", msg1.MessageType(), model.MsgWidgetOpened)
	}

	msg2, err := model.Decode(second)
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	customer, ok := msg2.(model.CustomerResolved)
	if !ok {
		t.Fatalf("second message = %T, want CustomerResolved", msg2)
	}
	if customer.CustomerID != "42" {
		t.Errorf("customer id = %q, want 42", customer.CustomerID)
	}
}

func TestPostAfterCloseFails(t *testing.T) {
	host, frame := Pipe()
	defer frame.Close()

	if err := host.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := host.Post(context.Background(), model.WidgetClose{}); err != ErrConnClosed {
		t.Fatalf("post after close = %v, want ErrConnClosed", err)
	}

	// Peer's inbound stream ends once the sender closes.
	if _, ok := <-frame.Messages(); ok {
		t.Error("frame stream still open after host close")
	}
}

func TestCloseReleasesBlockedPost(t *testing.T) {
	host, _ := Pipe()

	// Fill the outbound direction; nothing drains the peer side.
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		err := host.Post(ctx, model.WidgetClose{})
		cancel()
		if err != nil {
			break
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- host.Post(context.Background(), model.WidgetClose{})
	}()

	time.Sleep(10 * time.Millisecond)
	if err := host.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrConnClosed {
			t.Fatalf("blocked post = %v, want ErrConnClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("post still blocked after close")
	}
}

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewDispatcher("host", zap.NewNop(), nil)

	var gotHeight int
	d.Handle(model.MsgWidgetHeight, func(ctx context.Context, msg model.Message) error {
		gotHeight = msg.(model.WidgetHeight).Height
		return nil
	})

	raw, err := model.Encode(model.WidgetHeight{Height: 580})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.Dispatch(context.Background(), raw)

	if gotHeight != 580 {
		t.Errorf("height = %d, want 580", gotHeight)
	}
}

func TestDispatcherDropsForeignTraffic(t *testing.T) {
	d := NewDispatcher("host", zap.NewNop(), nil)

	called := false
	d.Handle(model.MsgWidgetLoaded, func(ctx context.Context, msg model.Message) error {
		called = true
		return nil
	})

	// Other page scripts share the channel: none of these may reach a
	// handler or panic the dispatcher.
	for _, raw := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"some-other-widget"}`),
		[]byte(`{"no":"type"}`),
		mustJSON(t, map[string]any{"type": "fav-loyalty-widget-close"}),
	} {
		d.Dispatch(context.Background(), raw)
	}

	if called {
		t.Error("foreign traffic reached the widget-loaded handler")
	}
}

func TestDispatcherContainsPanics(t *testing.T) {
	d := NewDispatcher("frame", zap.NewNop(), nil)
	d.Handle(model.MsgWidgetOpened, func(ctx context.Context, msg model.Message) error {
		panic("boom")
	})

	raw, err := model.Encode(model.WidgetOpened{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.Dispatch(context.Background(), raw) // must not propagate
}

func TestDispatcherDuplicateHandlerPanics(t *testing.T) {
	d := NewDispatcher("host", zap.NewNop(), nil)
	d.Handle(model.MsgWidgetLoaded, func(ctx context.Context, msg model.Message) error { return nil })

	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	d.Handle(model.MsgWidgetLoaded, func(ctx context.Context, msg model.Message) error { return nil })
}

func TestListenStopsOnContextCancel(t *testing.T) {
	host, frame := Pipe()
	defer host.Close()
	defer frame.Close()

	d := NewDispatcher("frame", zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Listen(ctx, frame)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listen did not stop after cancel")
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}
