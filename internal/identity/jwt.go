package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomerJWTClaims is what the bridge reads out of a current-customer JWT.
// The token is backend-verified; the host only inspects it to decide whether
// the JWT auth mode is still usable and to pick up the customer id for
// diagnostics.
type CustomerJWTClaims struct {
	CustomerID string
	ExpiresAt  time.Time
}

// InspectCustomerJWT parses the token without signature verification and
// extracts the customer claims. Verification happens at the backend; the
// host must not carry the signing secret.
func InspectCustomerJWT(token string) (CustomerJWTClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return CustomerJWTClaims{}, fmt.Errorf("parse customer jwt: %w", err)
	}

	out := CustomerJWTClaims{}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		out.CustomerID = sub
	} else if id, ok := claims["customer_id"]; ok {
		out.CustomerID = fmt.Sprint(id)
	}
	return out, nil
}

// UsableCustomerJWT reports whether the token can still serve as an auth
// mode: parseable and not expired. Tokens without an exp claim are rejected.
func UsableCustomerJWT(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	claims, err := InspectCustomerJWT(token)
	if err != nil {
		return false
	}
	if claims.ExpiresAt.IsZero() {
		return false
	}
	return claims.ExpiresAt.After(now)
}
