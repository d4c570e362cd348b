package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeProducesFlatObject(t *testing.T) {
	raw, err := Encode(CustomerResolved{CustomerID: "42", CustomerEmail: "a@b.com"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["type"] != string(MsgCustomerResolved) {
		t.Fatalf("type = %v, want %s", obj["type"], MsgCustomerResolved)
	}
	if obj["customerId"] != "42" {
		t.Fatalf("customerId = %v, want flat field next to type", obj["customerId"])
	}
	if _, nested := obj["payload"]; nested {
		t.Fatal("payload must not be nested under an envelope key")
	}
}

func TestDecodeRoundTripsEveryType(t *testing.T) {
	msgs := []Message{
		CustomerResolved{CustomerID: "42", CustomerEmail: "a@b.com"},
		WidgetOpened{},
		ApplyCouponResult{Success: true, CouponID: "c1"},
		SubscribeNewsletterResult{Success: false, Error: "nope"},
		WidgetLoaded{},
		WidgetHeight{Height: 580},
		WidgetClose{},
		WidgetTheme{LauncherTheme: DefaultLauncherTheme()},
		ApplyCoupon{CouponID: "c1", CouponCode: "SAVE10", IsProductSpecific: true, Products: []string{"p1"}},
		SubscribeNewsletter{Email: "a@b.com"},
	}
	for _, want := range msgs {
		raw, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %s: %v", want.MessageType(), err)
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", want.MessageType(), err)
		}
		if got.MessageType() != want.MessageType() {
			t.Fatalf("decoded type = %s, want %s", got.MessageType(), want.MessageType())
		}
	}
}

func TestDecodeSignOutSignal(t *testing.T) {
	// An empty customerId is a valid message, not a decode error.
	got, err := Decode([]byte(`{"type":"fav-loyalty-customer","customerId":""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := got.(CustomerResolved)
	if id.CustomerID != "" {
		t.Fatalf("customerId = %q, want empty", id.CustomerID)
	}
}

func TestDecodeForeignTraffic(t *testing.T) {
	for _, raw := range []string{
		`{"type":"webpackOk"}`,
		`{"source":"react-devtools"}`,
		`{"type":""}`,
	} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrUnknownMessage) {
			t.Fatalf("Decode(%s) err = %v, want ErrUnknownMessage", raw, err)
		}
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil || errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("err = %v, want a decode error distinct from ErrUnknownMessage", err)
	}
}
