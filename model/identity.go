package model

import "strings"

// CustomerIdentity is the result of resolving the currently authenticated
// storefront customer, if any. It is resolved independently of the
// configuration snapshot taken at boot.
type CustomerIdentity struct {
	// CustomerID is empty when no customer is signed in. An empty or
	// whitespace-only id must never be treated as a valid session.
	CustomerID    string `json:"customerId"`
	CustomerEmail string `json:"customerEmail,omitempty"`

	// ResolvedVia names the strategy that produced the identity, for
	// diagnostics only. "none" when resolution exhausted all strategies.
	ResolvedVia string `json:"resolvedVia,omitempty"`
}

// Anonymous is the identity used when every resolution strategy failed or
// returned no customer.
func Anonymous() CustomerIdentity {
	return CustomerIdentity{ResolvedVia: "none"}
}

// Authenticated reports whether the identity carries a non-empty customer id.
// Whitespace-only ids do not count.
func (id CustomerIdentity) Authenticated() bool {
	return strings.TrimSpace(id.CustomerID) != ""
}

// Resolved builds an authenticated identity tagged with the strategy that
// produced it.
func Resolved(id, email, via string) CustomerIdentity {
	return CustomerIdentity{CustomerID: id, CustomerEmail: email, ResolvedVia: via}
}
