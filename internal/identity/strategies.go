package identity

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/favloyalty/widgetbridge/model"
)

// GlobalsStrategy reads customer objects exposed by common storefront
// runtimes on the page's global scope. The snapshot lists them in the
// runtime's precedence order; the first with a non-empty id wins.
type GlobalsStrategy struct{}

func (GlobalsStrategy) Name() string { return "page-globals" }

func (GlobalsStrategy) Resolve(_ context.Context, in Input) (model.CustomerIdentity, error) {
	for _, g := range in.Page.CustomerGlobals {
		if strings.TrimSpace(g.ID) != "" {
			return model.Resolved(strings.TrimSpace(g.ID), g.Email, g.Source), nil
		}
	}
	return model.CustomerIdentity{}, nil
}

// ScriptJSONStrategy scans inline JSON script blocks for a customer object.
// Some themes embed page context as `{"customer": {...}}` or
// `{"context": {"customer": {...}}}`; ids and emails appear under several
// historical key names.
type ScriptJSONStrategy struct{}

func (ScriptJSONStrategy) Name() string { return "script-json" }

type scriptCustomer struct {
	ID           *json.Number `json:"id"`
	CustomerID   *json.Number `json:"customer_id"`
	Email        string       `json:"email"`
	EmailAddress string       `json:"email_address"`
}

func (c scriptCustomer) identity() (model.CustomerIdentity, bool) {
	id := c.ID
	if id == nil {
		id = c.CustomerID
	}
	if id == nil || id.String() == "" {
		return model.CustomerIdentity{}, false
	}
	email := c.Email
	if email == "" {
		email = c.EmailAddress
	}
	return model.Resolved(id.String(), email, "script-json"), true
}

func (ScriptJSONStrategy) Resolve(_ context.Context, in Input) (model.CustomerIdentity, error) {
	for _, raw := range in.Page.InlineJSONBlocks() {
		if !strings.Contains(raw, "customer") {
			continue
		}
		var doc struct {
			Customer *scriptCustomer `json:"customer"`
			Context  *struct {
				Customer *scriptCustomer `json:"customer"`
			} `json:"context"`
		}
		// Malformed blocks belong to other scripts; skip them.
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		cust := doc.Customer
		if cust == nil && doc.Context != nil {
			cust = doc.Context.Customer
		}
		if cust == nil {
			continue
		}
		if id, ok := cust.identity(); ok {
			return id, nil
		}
	}
	return model.CustomerIdentity{}, nil
}

// DataAttrStrategy reads a page-level data-customer-id attribute.
type DataAttrStrategy struct{}

func (DataAttrStrategy) Name() string { return "data-attr" }

func (DataAttrStrategy) Resolve(_ context.Context, in Input) (model.CustomerIdentity, error) {
	id := strings.TrimSpace(in.Page.DataAttrs["customer-id"])
	if id == "" {
		return model.CustomerIdentity{}, nil
	}
	return model.Resolved(id, in.Page.DataAttrs["customer-email"], "data-customer-id"), nil
}

// TokenSource mints a storefront GraphQL token when the page does not expose
// one. The backend client implements it.
type TokenSource interface {
	StorefrontToken(ctx context.Context, storeHash, channelID, origin string) (string, error)
}

// CustomerQuerier runs the same-origin storefront customer query. The
// storefront client implements it.
type CustomerQuerier interface {
	CurrentCustomer(ctx context.Context, token, csrfToken string) (model.CustomerIdentity, error)
}

// GraphQLStrategy is the asynchronous fallback: query the storefront's own
// GraphQL endpoint with a bearer token taken from the page or minted by the
// backend. It is the only strategy that can confirm "signed out" rather than
// merely fail to find a customer.
type GraphQLStrategy struct {
	Tokens    TokenSource
	Customers CustomerQuerier
}

func (*GraphQLStrategy) Name() string { return "graphql" }

func (s *GraphQLStrategy) Resolve(ctx context.Context, in Input) (model.CustomerIdentity, error) {
	token := in.Page.StorefrontAPIToken
	if token == "" {
		// Minting requires a well-formed store hash; malformed identifiers
		// are rejected before anything goes upstream.
		if s.Tokens == nil || in.Config.APIURL == "" || !IsValidStoreHash(in.Config.StoreHash) {
			return model.CustomerIdentity{}, nil
		}
		minted, err := s.Tokens.StorefrontToken(ctx, strings.TrimSpace(in.Config.StoreHash), in.Config.ChannelID, in.Page.Origin)
		if err != nil {
			return model.CustomerIdentity{}, err
		}
		token = minted
	}
	if token == "" || s.Customers == nil {
		return model.CustomerIdentity{}, nil
	}
	return s.Customers.CurrentCustomer(ctx, token, in.Page.CSRFToken)
}

// IsValidStoreHash reports whether the value looks like a store hash: short
// alphanumeric, never a URL. Malformed values are rejected outright so they
// are never sent upstream.
func IsValidStoreHash(val string) bool {
	s := strings.TrimSpace(val)
	if s == "" || len(s) > 64 {
		return false
	}
	if strings.Contains(s, "//") || strings.Contains(s, "http") {
		return false
	}
	return true
}
