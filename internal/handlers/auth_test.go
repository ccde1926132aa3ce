package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cartloopapp/cartloop/internal/config"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func newAuthHandlers() *Handlers {
	return &Handlers{
		config: &config.Config{JWTSecret: testJWTSecret},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func issueToken(t *testing.T, secret string, subject, email, role string, expiresAt time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, apiClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestRequireAuth_StoresActorInContext(t *testing.T) {
	t.Parallel()

	h := newAuthHandlers()
	userID := uuid.New()
	signed := issueToken(t, testJWTSecret, userID.String(), "ravi@example.com", "customer", time.Now().Add(time.Hour))

	var got Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			t.Fatal("expected actor in request context")
		}
		got = actor
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()

	h.RequireAuth(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusNoContent)
	}
	if got.UserID != userID {
		t.Fatalf("unexpected actor user id: got=%s want=%s", got.UserID, userID)
	}
	if got.Email != "ravi@example.com" {
		t.Fatalf("unexpected actor email: got=%q", got.Email)
	}
	if got.IsAdmin() {
		t.Fatal("customer actor should not be admin")
	}
}

func TestRequireAuth_RejectsBadTokens(t *testing.T) {
	t.Parallel()

	userID := uuid.New().String()

	tests := []struct {
		name   string
		header func(t *testing.T) string
	}{
		{
			name:   "missing header",
			header: func(*testing.T) string { return "" },
		},
		{
			name:   "wrong scheme",
			header: func(*testing.T) string { return "Basic abc123" },
		},
		{
			name:   "empty token",
			header: func(*testing.T) string { return "Bearer " },
		},
		{
			name:   "garbage token",
			header: func(*testing.T) string { return "Bearer not-a-jwt" },
		},
		{
			name: "wrong secret",
			header: func(t *testing.T) string {
				return "Bearer " + issueToken(t, "ffffffffffffffffffffffffffffffff", userID, "ravi@example.com", "customer", time.Now().Add(time.Hour))
			},
		},
		{
			name: "expired token",
			header: func(t *testing.T) string {
				return "Bearer " + issueToken(t, testJWTSecret, userID, "ravi@example.com", "customer", time.Now().Add(-time.Hour))
			},
		},
		{
			name: "non-uuid subject",
			header: func(t *testing.T) string {
				return "Bearer " + issueToken(t, testJWTSecret, "user-42", "ravi@example.com", "customer", time.Now().Add(time.Hour))
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newAuthHandlers()

			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("next handler should not run")
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
			if header := tc.header(t); header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()

			h.RequireAuth(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequireAdmin_BlocksNonAdminActors(t *testing.T) {
	t.Parallel()

	h := newAuthHandlers()
	signed := issueToken(t, testJWTSecret, uuid.New().String(), "ravi@example.com", "customer", time.Now().Add(time.Hour))

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next handler should not run")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/1/status", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()

	h.RequireAuth(h.RequireAdmin(next)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusForbidden)
	}
}

func TestRequireAdmin_AllowsAdminActors(t *testing.T) {
	t.Parallel()

	h := newAuthHandlers()
	signed := issueToken(t, testJWTSecret, uuid.New().String(), "ops@example.com", "admin", time.Now().Add(time.Hour))

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/1/status", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()

	h.RequireAuth(h.RequireAdmin(next)).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusNoContent)
	}
}
