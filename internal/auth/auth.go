package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingBearer  = errors.New("missing bearer token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingAddress = errors.New("missing " + AddressHeader + " header")
)

// AddressHeader names the acting address when a request uses the dev token.
const AddressHeader = "X-Surety-Address"

// Claims identify the caller. Subject is the marketplace address the caller acts as.
type Claims struct {
	Subject string
	Issuer  string
	Token   string
}

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

// MultiAuthenticator accepts the static dev token or a signed JWT.
type MultiAuthenticator struct {
	DevToken string
	JWT      *JWTAuthenticator
}

func NewAuthenticator(devToken, jwtSecret string) *MultiAuthenticator {
	a := &MultiAuthenticator{DevToken: devToken}
	if jwtSecret != "" {
		a.JWT = NewJWTAuthenticator(jwtSecret)
	}
	return a
}

func (a *MultiAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}

	if a.DevToken != "" && bearer == a.DevToken {
		addr := strings.TrimSpace(r.Header.Get(AddressHeader))
		if addr == "" {
			return Claims{}, ErrMissingAddress
		}
		return Claims{Subject: strings.ToLower(addr), Issuer: "surety-dev", Token: bearer}, nil
	}

	if a.JWT != nil {
		claims, err := a.JWT.AuthenticateBearer(bearer)
		if err == nil {
			claims.Token = bearer
			return claims, nil
		}
	}

	return Claims{}, ErrInvalidToken
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
