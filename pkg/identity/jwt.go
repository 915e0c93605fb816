package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Config configures the bearer token authenticator.
type Config struct {
	// Secret is the HMAC key tokens are signed with.
	Secret []byte

	// Issuer is the expected iss claim. Empty disables the check.
	Issuer string

	// HeaderName is the header carrying the token (default: "Authorization").
	HeaderName string

	// TokenPrefix precedes the token in the header (default: "Bearer ").
	TokenPrefix string

	// PrincipalClaim names the principal claim (default: "sub").
	PrincipalClaim string

	// TenantClaim names the tenant claim. Empty disables tenants.
	TenantClaim string

	// Required rejects requests without a valid token with 401.
	// When false, such requests continue anonymously.
	Required bool
}

// Authenticator validates HMAC-signed JWT bearer tokens.
type Authenticator struct {
	config Config
	logger zerolog.Logger
}

// NewAuthenticator creates an authenticator, applying defaults.
func NewAuthenticator(cfg Config, logger zerolog.Logger) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("identity: secret is required")
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Authorization"
	}
	if cfg.TokenPrefix == "" {
		cfg.TokenPrefix = "Bearer "
	}
	if cfg.PrincipalClaim == "" {
		cfg.PrincipalClaim = "sub"
	}
	return &Authenticator{config: cfg, logger: logger}, nil
}

// Authenticate extracts and validates the token carried by r.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	header := r.Header.Get(a.config.HeaderName)
	tokenString := strings.TrimPrefix(header, a.config.TokenPrefix)
	if header == "" || tokenString == header {
		return nil, ErrMissingToken
	}
	tokenString = strings.TrimSpace(tokenString)

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.config.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	principal, _ := claims[a.config.PrincipalClaim].(string)
	if principal == "" {
		return nil, fmt.Errorf("%w: missing %s claim", ErrInvalidToken, a.config.PrincipalClaim)
	}

	id := &Identity{Principal: principal}
	if a.config.TenantClaim != "" {
		id.TenantID, _ = claims[a.config.TenantClaim].(string)
	}
	return id, nil
}

// Middleware attaches the authenticated identity to the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authenticate(r)
		if err != nil {
			if a.config.Required {
				a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejecting unauthenticated request")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if !errors.Is(err, ErrMissingToken) {
				a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Ignoring invalid token")
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
