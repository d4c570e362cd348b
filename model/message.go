package model

import (
	"encoding/json"
	"fmt"
)

// MessageType is the discriminator carried in every cross-frame message.
type MessageType string

// Host → frame message types.
const (
	MsgCustomerResolved          MessageType = "fav-loyalty-customer"
	MsgWidgetOpened              MessageType = "fav-loyalty-widget-opened"
	MsgApplyCouponResult         MessageType = "fav-loyalty-apply-coupon-result"
	MsgSubscribeNewsletterResult MessageType = "fav-loyalty-subscribe-newsletter-result"
)

// Frame → host message types. MsgWidgetTheme also flows host → frame in the
// theme sync sub-protocol.
const (
	MsgWidgetLoaded        MessageType = "fav-loyalty-widget-loaded"
	MsgWidgetHeight        MessageType = "fav-loyalty-widget-height"
	MsgWidgetClose         MessageType = "fav-loyalty-widget-close"
	MsgWidgetTheme         MessageType = "fav-loyalty-widget-theme"
	MsgApplyCoupon         MessageType = "fav-loyalty-apply-coupon"
	MsgSubscribeNewsletter MessageType = "fav-loyalty-subscribe-newsletter"
)

// Message is implemented by every cross-frame payload type.
type Message interface {
	MessageType() MessageType
}

// CustomerResolved delivers a resolved customer identity into the frame.
// An empty CustomerID is a valid sign-out signal, not an error: the frame
// must clear any cached identity-derived state when it receives one.
type CustomerResolved struct {
	CustomerID    string `json:"customerId"`
	CustomerEmail string `json:"customerEmail"`
}

func (CustomerResolved) MessageType() MessageType { return MsgCustomerResolved }

// WidgetOpened tells the frame the widget was (re)opened so it can refresh
// identity- and points-dependent state.
type WidgetOpened struct{}

func (WidgetOpened) MessageType() MessageType { return MsgWidgetOpened }

// ApplyCouponResult settles an in-flight coupon application round-trip.
type ApplyCouponResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	CouponID string `json:"couponId,omitempty"`
}

func (ApplyCouponResult) MessageType() MessageType { return MsgApplyCouponResult }

// SubscribeNewsletterResult settles an in-flight newsletter subscription
// round-trip.
type SubscribeNewsletterResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (SubscribeNewsletterResult) MessageType() MessageType { return MsgSubscribeNewsletterResult }

// WidgetLoaded announces that the frame's listener is attached. The host must
// not deliver identity before receiving it.
type WidgetLoaded struct{}

func (WidgetLoaded) MessageType() MessageType { return MsgWidgetLoaded }

// WidgetHeight announces the frame's preferred height in pixels.
type WidgetHeight struct {
	Height int `json:"height"`
}

func (WidgetHeight) MessageType() MessageType { return MsgWidgetHeight }

// WidgetClose asks the host to hide the frame.
type WidgetClose struct{}

func (WidgetClose) MessageType() MessageType { return MsgWidgetClose }

// WidgetTheme pushes launcher appearance and placement. The embedded
// application sends it whenever it loads or reloads channel settings; the
// host applies it without ever initiating a settings fetch of its own past
// the one boot-time prefetch.
type WidgetTheme struct {
	LauncherTheme
}

func (WidgetTheme) MessageType() MessageType { return MsgWidgetTheme }

// ApplyCoupon asks the host to apply a coupon via the host-page cart, a
// capability the frame does not have.
type ApplyCoupon struct {
	CouponID          string   `json:"couponId"`
	CouponCode        string   `json:"couponCode"`
	IsProductSpecific bool     `json:"isProductSpecific,omitempty"`
	Products          []string `json:"products,omitempty"`
}

func (ApplyCoupon) MessageType() MessageType { return MsgApplyCoupon }

// SubscribeNewsletter asks the host to subscribe the email via the host-page
// storefront session.
type SubscribeNewsletter struct {
	Email string `json:"email"`
}

func (SubscribeNewsletter) MessageType() MessageType { return MsgSubscribeNewsletter }

// ErrUnknownMessage is returned by Decode for type values outside the
// protocol. Receivers ignore such messages rather than failing, since the
// channel is origin-unchecked and may carry unrelated traffic.
var ErrUnknownMessage = fmt.Errorf("model: unknown message type")

// Encode serializes a message to its wire form: a flat JSON object with the
// type discriminator merged into the payload fields.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("model: encoding %s: %w", m.MessageType(), err)
	}
	obj := make(map[string]any)
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("model: encoding %s: %w", m.MessageType(), err)
	}
	obj["type"] = string(m.MessageType())
	return json.Marshal(obj)
}

// Decode parses a wire message into its typed form. Unknown discriminators
// return ErrUnknownMessage; missing or empty discriminators are treated the
// same way.
func Decode(raw []byte) (Message, error) {
	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("model: decoding message: %w", err)
	}

	var (
		msg Message
		err error
	)
	switch probe.Type {
	case MsgCustomerResolved:
		var m CustomerResolved
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgWidgetOpened:
		msg = WidgetOpened{}
	case MsgApplyCouponResult:
		var m ApplyCouponResult
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgSubscribeNewsletterResult:
		var m SubscribeNewsletterResult
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgWidgetLoaded:
		msg = WidgetLoaded{}
	case MsgWidgetHeight:
		var m WidgetHeight
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgWidgetClose:
		msg = WidgetClose{}
	case MsgWidgetTheme:
		var m WidgetTheme
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgApplyCoupon:
		var m ApplyCoupon
		err = json.Unmarshal(raw, &m)
		msg = m
	case MsgSubscribeNewsletter:
		var m SubscribeNewsletter
		err = json.Unmarshal(raw, &m)
		msg = m
	default:
		return nil, ErrUnknownMessage
	}
	if err != nil {
		return nil, fmt.Errorf("model: decoding %s: %w", probe.Type, err)
	}
	return msg, nil
}
