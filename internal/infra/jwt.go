// README: HS256 service tokens for internal callers and operational tooling.
package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ServiceClaims are the claims minted for internal callers.
type ServiceClaims struct {
	Role        string `json:"role"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	VehicleType string `json:"vehicleType,omitempty"`
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifier) VerifyIDToken(_ context.Context, raw string) (*Token, error) {
	claims := &ServiceClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, errors.New("unexpected issuer")
	}
	if claims.Subject == "" {
		return nil, errors.New("missing subject")
	}
	out := map[string]interface{}{"role": claims.Role}
	if claims.Name != "" {
		out["name"] = claims.Name
	}
	if claims.Email != "" {
		out["email"] = claims.Email
	}
	if claims.VehicleType != "" {
		out["vehicleType"] = claims.VehicleType
	}
	return &Token{UID: claims.Subject, Claims: out}, nil
}

// SignServiceToken mints a token accepted by a JWTVerifier with the same secret.
func SignServiceToken(secret, issuer string, subject string, claims ServiceClaims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
