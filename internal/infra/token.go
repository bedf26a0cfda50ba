// README: Verified caller identity and the verifier chain used by the auth middleware.
package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Roles carried in the "role" claim. A token without one is a customer.
const (
	RoleCustomer = "customer"
	RoleDriver   = "driver"
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
	RoleInternal = "internal"
)

var ErrInvalidToken = errors.New("invalid token")

// Token holds the verified token data used by downstream middleware.
type Token struct {
	UID    string
	Claims map[string]interface{}
}

func (t *Token) claim(key string) string {
	if t == nil || t.Claims == nil {
		return ""
	}
	s, _ := t.Claims[key].(string)
	return s
}

func (t *Token) Role() string {
	if r := t.claim("role"); r != "" {
		return r
	}
	return RoleCustomer
}

func (t *Token) Name() string  { return t.claim("name") }
func (t *Token) Email() string { return t.claim("email") }

// VehicleType is the driver's vehicle class claim, empty when absent.
func (t *Token) VehicleType() string { return t.claim("vehicleType") }

// TokenVerifier verifies a raw bearer token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Token, error)
}

// ChainVerifier tries each verifier in order and returns the first success.
type ChainVerifier []TokenVerifier

func (c ChainVerifier) VerifyIDToken(ctx context.Context, idToken string) (*Token, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, ErrInvalidToken
	}
	var errs []error
	for _, v := range c {
		tok, err := v.VerifyIDToken(ctx, idToken)
		if err == nil {
			return tok, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrInvalidToken
	}
	return nil, fmt.Errorf("%w: %w", ErrInvalidToken, errors.Join(errs...))
}
