package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims, secret []byte) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestAuthenticator(t *testing.T, cfg Config) *Authenticator {
	t.Helper()

	if cfg.Secret == nil {
		cfg.Secret = testSecret
	}
	a, err := NewAuthenticator(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	return a
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	if _, err := NewAuthenticator(Config{}, zerolog.Nop()); err == nil {
		t.Error("Expected error without secret")
	}
}

func TestAuthenticator_Authenticate(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	past := time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name          string
		header        string
		wantPrincipal string
		wantTenant    string
		wantErr       error
	}{
		{
			name:    "missing header",
			header:  "",
			wantErr: ErrMissingToken,
		},
		{
			name:    "wrong scheme",
			header:  "Basic dXNlcjpwYXNz",
			wantErr: ErrMissingToken,
		},
		{
			name:          "valid token",
			header:        "Bearer " + signToken(t, jwt.MapClaims{"sub": "alice", "tid": "acme", "exp": future}, testSecret),
			wantPrincipal: "alice",
			wantTenant:    "acme",
		},
		{
			name:    "expired token",
			header:  "Bearer " + signToken(t, jwt.MapClaims{"sub": "alice", "exp": past}, testSecret),
			wantErr: ErrTokenExpired,
		},
		{
			name:    "wrong secret",
			header:  "Bearer " + signToken(t, jwt.MapClaims{"sub": "alice", "exp": future}, []byte("other")),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "missing subject",
			header:  "Bearer " + signToken(t, jwt.MapClaims{"exp": future}, testSecret),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "garbage",
			header:  "Bearer not.a.token",
			wantErr: ErrInvalidToken,
		},
	}

	a := newTestAuthenticator(t, Config{TenantClaim: "tid"})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			id, err := a.Authenticate(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if id.Principal != tt.wantPrincipal {
				t.Errorf("Principal = %v, want %v", id.Principal, tt.wantPrincipal)
			}
			if id.TenantID != tt.wantTenant {
				t.Errorf("TenantID = %v, want %v", id.TenantID, tt.wantTenant)
			}
		})
	}
}

func TestAuthenticator_Issuer(t *testing.T) {
	a := newTestAuthenticator(t, Config{Issuer: "viewcache"})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "bob", "iss": "someone-else"}, testSecret))
	if _, err := a.Authenticate(req); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for wrong issuer, got %v", err)
	}

	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "bob", "iss": "viewcache"}, testSecret))
	if _, err := a.Authenticate(req); err != nil {
		t.Errorf("Authenticate with matching issuer failed: %v", err)
	}
}

func TestAuthenticator_Middleware(t *testing.T) {
	valid := "Bearer " + signToken(t, jwt.MapClaims{"sub": "carol"}, testSecret)

	tests := []struct {
		name          string
		required      bool
		header        string
		wantStatus    int
		wantPrincipal string
	}{
		{"optional anonymous", false, "", http.StatusOK, ""},
		{"optional invalid", false, "Bearer junk", http.StatusOK, ""},
		{"optional valid", false, valid, http.StatusOK, "carol"},
		{"required anonymous", true, "", http.StatusUnauthorized, ""},
		{"required valid", true, valid, http.StatusOK, "carol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAuthenticator(t, Config{Required: tt.required})

			var seen string
			handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if id := FromContext(r.Context()); id != nil {
					seen = id.Principal
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if seen != tt.wantPrincipal {
				t.Errorf("principal = %q, want %q", seen, tt.wantPrincipal)
			}
		})
	}
}

func TestIdentity_CacheValue(t *testing.T) {
	tests := []struct {
		name string
		id   *Identity
		want any
	}{
		{"nil", nil, nil},
		{"anonymous", &Identity{}, nil},
		{"principal only", &Identity{Principal: "alice"}, "alice"},
		{"with tenant", &Identity{Principal: "alice", TenantID: "acme"}, "acme/alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.CacheValue(); got != tt.want {
				t.Errorf("CacheValue() = %v, want %v", got, tt.want)
			}
		})
	}
}
