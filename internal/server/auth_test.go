package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestSignupRejectsBadInput(t *testing.T) {
	h := &AuthHandler{Secret: []byte("test-secret")}
	e := echo.New()

	cases := []struct {
		name string
		body string
	}{
		{"missing email", `{"email":"","password":"longenough"}`},
		{"no at sign", `{"email":"nobody","password":"longenough"}`},
		{"short password", `{"email":"a@b.example","password":"short"}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(tc.body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := h.signup(c)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %v", tc.name, err)
		}
	}
}

func TestWithAuthRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := signJWT("user-42", secret, time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}

	e := echo.New()
	handler := withAuth(func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("user_id").(string))
	}, secret)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if rec.Body.String() != "user-42" {
		t.Fatalf("user id not propagated, got %q", rec.Body.String())
	}
}

func TestWithAuthRejectsMissingAndBadTokens(t *testing.T) {
	e := echo.New()
	handler := withAuth(func(c echo.Context) error { return c.NoContent(http.StatusOK) }, []byte("secret"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	err := handler(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %v", err)
	}

	// A token signed with a different secret must be rejected too.
	other, err := signJWT("user-1", []byte("other-secret"), time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: expected 401, got %v", err)
	}
}
