// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/portolan-project/portolan/internal/logging"
)

// AnonymousSubject is the principal assigned in permissive mode when no
// valid token is presented.
const AnonymousSubject = "anonymous"

var (
	// ErrMissingToken rejects a strict-mode connection without credentials.
	ErrMissingToken = errors.New("missing auth token")
	// ErrInvalidToken rejects a strict-mode connection with bad credentials.
	ErrInvalidToken = errors.New("invalid auth token")
)

// Authenticator validates connection credentials. Strict mode rejects
// missing or invalid tokens; permissive mode downgrades them to an anonymous
// principal. Either way the outcome is logged.
type Authenticator struct {
	secret []byte
	strict bool
}

// NewAuthenticator creates an authenticator. An empty secret disables
// validation entirely (every connection is anonymous).
func NewAuthenticator(secret string, strict bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), strict: strict}
}

// Authenticate extracts and validates the token from the request. Tokens are
// accepted from the Authorization header or, because browser WebSocket APIs
// cannot set headers, the "token" query parameter.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if len(a.secret) == 0 {
		return AnonymousSubject, nil
	}

	raw := tokenFromRequest(r)
	if raw == "" {
		if a.strict {
			logging.Warn().Str("remote", r.RemoteAddr).Msg("rejecting connection without token")
			return "", ErrMissingToken
		}
		return AnonymousSubject, nil
	}

	subject, err := a.validate(raw)
	if err != nil {
		if a.strict {
			logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rejecting connection with invalid token")
			return "", ErrInvalidToken
		}
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("invalid token downgraded to anonymous")
		return AnonymousSubject, nil
	}

	logging.Debug().Str("subject", subject).Str("remote", r.RemoteAddr).Msg("connection authenticated")
	return subject, nil
}

func (a *Authenticator) validate(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return AnonymousSubject, nil
	}
	return subject, nil
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
	}
	return r.URL.Query().Get("token")
}
