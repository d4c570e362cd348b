package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/hostpage"
	"github.com/favloyalty/widgetbridge/model"
)

type stubTokens struct {
	token string
	err   error
	calls int
}

func (s *stubTokens) StorefrontToken(_ context.Context, storeHash, channelID, origin string) (string, error) {
	s.calls++
	return s.token, s.err
}

type stubCustomers struct {
	identity  model.CustomerIdentity
	err       error
	gotToken  string
	gotCSRF   string
	callCount int
}

func (s *stubCustomers) CurrentCustomer(_ context.Context, token, csrf string) (model.CustomerIdentity, error) {
	s.callCount++
	s.gotToken = token
	s.gotCSRF = csrf
	return s.identity, s.err
}

func newResolver(t *testing.T, strategies ...Strategy) *Resolver {
	t.Helper()
	return NewResolver(zap.NewNop(), nil, strategies...)
}

func TestStrategyOrderFirstMatchWins(t *testing.T) {
	customers := &stubCustomers{}
	r := newResolver(t, DefaultStrategies(&stubTokens{}, customers)...)

	in := Input{Page: hostpage.Snapshot{
		CustomerGlobals: []hostpage.CustomerGlobal{
			{Source: "bc", ID: "11", Email: "bc@x.test"},
			{Source: "window", ID: "22"},
		},
		DataAttrs: map[string]string{"customer-id": "33"},
	}}

	id, err := r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.CustomerID != "11" || id.ResolvedVia != "bc" {
		t.Errorf("identity = %+v, want first global", id)
	}
	if customers.callCount != 0 {
		t.Error("graphql ran despite a synchronous hit")
	}
}

func TestScriptJSONFallback(t *testing.T) {
	r := newResolver(t, DefaultStrategies(nil, nil)...)

	in := Input{Page: hostpage.Snapshot{Scripts: []hostpage.ScriptTag{
		{Inline: `{not json, mentions customer`},
		{Inline: `{"context":{"customer":{"customer_id":77,"email_address":"s@x.test"}}}`},
	}}}

	id, err := r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.CustomerID != "77" || id.CustomerEmail != "s@x.test" {
		t.Errorf("identity = %+v", id)
	}
}

func TestGraphQLFallbackMintsToken(t *testing.T) {
	tokens := &stubTokens{token: "minted"}
	customers := &stubCustomers{identity: model.Resolved("55", "g@x.test", "graphql")}
	r := newResolver(t, DefaultStrategies(tokens, customers)...)

	in := Input{
		Page:   hostpage.Snapshot{Origin: "https://shop.example", CSRFToken: "csrf-9"},
		Config: model.WidgetConfiguration{APIURL: "https://api.example", StoreHash: "abc123", ChannelID: "5"},
	}

	id, err := r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.CustomerID != "55" {
		t.Errorf("identity = %+v", id)
	}
	if tokens.calls != 1 {
		t.Errorf("token minted %d times, want 1", tokens.calls)
	}
	if customers.gotToken != "minted" || customers.gotCSRF != "csrf-9" {
		t.Errorf("query used token %q csrf %q", customers.gotToken, customers.gotCSRF)
	}
}

func TestGraphQLPrefersPageToken(t *testing.T) {
	tokens := &stubTokens{token: "minted"}
	customers := &stubCustomers{identity: model.Anonymous()}
	r := newResolver(t, DefaultStrategies(tokens, customers)...)

	in := Input{
		Page:   hostpage.Snapshot{StorefrontAPIToken: "from-page"},
		Config: model.WidgetConfiguration{APIURL: "https://api.example", StoreHash: "abc123"},
	}

	if _, err := r.Resolve(context.Background(), in); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tokens.calls != 0 {
		t.Error("token minted despite page token")
	}
	if customers.gotToken != "from-page" {
		t.Errorf("query used token %q", customers.gotToken)
	}
}

func TestStrategyFailureIsolated(t *testing.T) {
	failing := strategyFunc{name: "boom", fn: func(ctx context.Context, in Input) (model.CustomerIdentity, error) {
		return model.CustomerIdentity{}, errors.New("page exploded")
	}}
	r := newResolver(t, failing, DataAttrStrategy{})

	in := Input{Page: hostpage.Snapshot{DataAttrs: map[string]string{"customer-id": "9"}}}
	id, err := r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.CustomerID != "9" {
		t.Errorf("identity = %+v, later strategy did not run", id)
	}
}

func TestExhaustedWithErrorIsInconclusive(t *testing.T) {
	customers := &stubCustomers{err: errors.New("network down")}
	r := newResolver(t, DefaultStrategies(&stubTokens{token: "t"}, customers)...)

	in := Input{
		Page:   hostpage.Snapshot{StorefrontAPIToken: "t"},
		Config: model.WidgetConfiguration{},
	}

	id, err := r.Resolve(context.Background(), in)
	if id.Authenticated() {
		t.Errorf("identity = %+v, want anonymous", id)
	}
	if err == nil {
		t.Error("network failure did not surface as inconclusive")
	}
}

func TestConfirmedAnonymous(t *testing.T) {
	customers := &stubCustomers{identity: model.Anonymous()}
	r := newResolver(t, DefaultStrategies(&stubTokens{}, customers)...)

	in := Input{Page: hostpage.Snapshot{StorefrontAPIToken: "t"}}
	id, err := r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Authenticated() {
		t.Errorf("identity = %+v", id)
	}
}

func TestResolveSyncSkipsGraphQL(t *testing.T) {
	customers := &stubCustomers{identity: model.Resolved("1", "", "graphql")}
	r := newResolver(t, DefaultStrategies(&stubTokens{token: "t"}, customers)...)

	id := r.ResolveSync(context.Background(), Input{Page: hostpage.Snapshot{StorefrontAPIToken: "t"}})
	if id.Authenticated() {
		t.Errorf("sync resolve returned %+v", id)
	}
	if customers.callCount != 0 {
		t.Error("sync resolve hit the network")
	}
}

func TestIsValidStoreHash(t *testing.T) {
	cases := []struct {
		val  string
		want bool
	}{
		{"7v0bcn6k91", true},
		{" abc123 ", true},
		{"", false},
		{"https://evil.example", false},
		{"a//b", false},
		{"xhttpx", false},
		{string(make([]byte, 65)), false},
	}
	for _, c := range cases {
		if got := IsValidStoreHash(c.val); got != c.want {
			t.Errorf("IsValidStoreHash(%q) = %v, want %v", c.val, got, c.want)
		}
	}
}

func TestUsableCustomerJWT(t *testing.T) {
	now := time.Now()
	mk := func(claims jwt.MapClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tok
	}

	valid := mk(jwt.MapClaims{"sub": "42", "exp": now.Add(time.Hour).Unix()})
	expired := mk(jwt.MapClaims{"sub": "42", "exp": now.Add(-time.Hour).Unix()})
	noExp := mk(jwt.MapClaims{"sub": "42"})

	if !UsableCustomerJWT(valid, now) {
		t.Error("valid token rejected")
	}
	if UsableCustomerJWT(expired, now) {
		t.Error("expired token accepted")
	}
	if UsableCustomerJWT(noExp, now) {
		t.Error("token without exp accepted")
	}
	if UsableCustomerJWT("not-a-jwt", now) {
		t.Error("garbage accepted")
	}

	claims, err := InspectCustomerJWT(valid)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if claims.CustomerID != "42" {
		t.Errorf("customer id = %q", claims.CustomerID)
	}
}

type strategyFunc struct {
	name string
	fn   func(ctx context.Context, in Input) (model.CustomerIdentity, error)
}

func (s strategyFunc) Name() string { return s.name }
func (s strategyFunc) Resolve(ctx context.Context, in Input) (model.CustomerIdentity, error) {
	return s.fn(ctx, in)
}
