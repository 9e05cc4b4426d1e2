// Package auth verifies admin credentials. Admin identity is issued elsewhere;
// this service only checks it.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoCredentials      = errors.New("no credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const roleAdmin = "admin"

type Principal struct {
	Subject string
	Method  string
}

type Authenticator interface {
	Authenticate(r *http.Request) (*Principal, error)
}

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SessionAuth verifies HS256 session tokens carried in a cookie
type SessionAuth struct {
	secret []byte
	cookie string
}

func NewSessionAuth(secret, cookie string) *SessionAuth {
	return &SessionAuth{secret: []byte(secret), cookie: cookie}
}

// Issue signs a session token for subject. Used by tooling and tests.
func (a *SessionAuth) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *SessionAuth) Authenticate(r *http.Request) (*Principal, error) {
	if len(a.secret) == 0 {
		return nil, ErrNoCredentials
	}
	c, err := r.Cookie(a.cookie)
	if err != nil || c.Value == "" {
		return nil, ErrNoCredentials
	}

	var claims sessionClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || claims.Role != roleAdmin {
		return nil, ErrInvalidCredentials
	}

	return &Principal{Subject: claims.Subject, Method: "session"}, nil
}

// APIKeyAuth checks a bearer key against a bcrypt hash
type APIKeyAuth struct {
	hash []byte
}

func NewAPIKeyAuth(hash string) *APIKeyAuth {
	return &APIKeyAuth{hash: []byte(hash)}
}

func (a *APIKeyAuth) Authenticate(r *http.Request) (*Principal, error) {
	if len(a.hash) == 0 {
		return nil, ErrNoCredentials
	}
	header := r.Header.Get("Authorization")
	key, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || key == "" {
		return nil, ErrNoCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Principal{Subject: "api-key", Method: "api_key"}, nil
}

type chain []Authenticator

// Chain tries each authenticator in order and returns the first principal
func Chain(auths ...Authenticator) Authenticator {
	return chain(auths)
}

func (c chain) Authenticate(r *http.Request) (*Principal, error) {
	result := ErrNoCredentials
	for _, a := range c {
		p, err := a.Authenticate(r)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, ErrInvalidCredentials) {
			result = ErrInvalidCredentials
		}
	}
	return nil, result
}
