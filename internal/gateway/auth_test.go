// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/portolan-project/portolan/internal/models"
)

// marshalForTest round-trips through the same codec the pump uses.
func marshalForTest(v any) ([]byte, error) {
	return json.Marshal(v)
}

func signedToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestAuthenticateStrictRejectsMissingToken(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("secret", true)
	r := httptest.NewRequest("GET", "/ws", nil)

	if _, err := auth.Authenticate(r); err == nil {
		t.Fatal("strict mode accepted a connection without a token")
	}
}

func TestAuthenticateStrictAcceptsValidToken(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("secret", true)
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+signedToken(t, "secret", "user-7"))

	subject, err := auth.Authenticate(r)
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if subject != "user-7" {
		t.Errorf("subject = %q, want user-7", subject)
	}
}

func TestAuthenticateStrictRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("secret", true)
	r := httptest.NewRequest("GET", "/ws", nil)
	r.URL.RawQuery = "token=" + signedToken(t, "other-secret", "user-7")

	if _, err := auth.Authenticate(r); err == nil {
		t.Fatal("strict mode accepted a token signed with the wrong secret")
	}
}

func TestAuthenticatePermissiveDowngradesToAnonymous(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("secret", false)

	// No token.
	r := httptest.NewRequest("GET", "/ws", nil)
	subject, err := auth.Authenticate(r)
	if err != nil || subject != AnonymousSubject {
		t.Errorf("no token: subject=%q err=%v, want anonymous", subject, err)
	}

	// Invalid token.
	r = httptest.NewRequest("GET", "/ws", nil)
	r.URL.RawQuery = "token=garbage"
	subject, err = auth.Authenticate(r)
	if err != nil || subject != AnonymousSubject {
		t.Errorf("bad token: subject=%q err=%v, want anonymous", subject, err)
	}
}

func TestAuthenticateDisabledAcceptsEverything(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("", true)
	r := httptest.NewRequest("GET", "/ws", nil)

	subject, err := auth.Authenticate(r)
	if err != nil || subject != AnonymousSubject {
		t.Errorf("disabled auth: subject=%q err=%v", subject, err)
	}
}

func TestClientMessageDecoding(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"subscribeViewport","bbox":[10.0,50.0,12.0,52.0]}`)
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != MsgSubscribeViewport {
		t.Errorf("type = %q", msg.Type)
	}
	bbox, err := models.BboxFromSlice(msg.Bbox)
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	if !bbox.Contains(11, 51) {
		t.Error("decoded bbox does not contain its center")
	}
}
