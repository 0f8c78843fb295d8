package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"erp/ecommerce/internal/platform/errors"
)

// RoleSuperAdmin may act on any tenant.
const RoleSuperAdmin = "superadmin"

type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for tenantID valid for ttl.
func IssueToken(secret, tenantID, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New(errors.EInvalid, "auth secret is not configured")
	}
	now := time.Now().UTC()
	claims := Claims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(secret, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, &errors.Error{Code: errors.EUnauthorized, Msg: "invalid bearer token", Err: err}
	}
	return claims, nil
}

// Auth requires a bearer token whose tenant matches X-Tenant-ID. An empty
// secret disables the check. Must run after Tenant.
func Auth(api *API, secret string) Middleware {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
			if raw == "" || token == raw {
				api.Err(w, r, errors.New(errors.EUnauthorized, "missing bearer token"))
				return
			}
			claims, err := ParseToken(secret, token)
			if err != nil {
				api.Err(w, r, err)
				return
			}
			if claims.Role != RoleSuperAdmin && claims.TenantID != TenantID(r.Context()) {
				api.Err(w, r, errors.New(errors.EForbidden, "token is not valid for this tenant"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
