package helpers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingToken = errors.New("missing bearer token")

type callerCtx struct{}

// CallerFrom returns the subject of the service token that authenticated the
// request.
func CallerFrom(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(callerCtx{}).(string)
	return sub, ok
}

// IssueServiceToken signs an HS256 token for internal callers.
func IssueServiceToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseServiceToken(secret []byte, header string) (*jwt.RegisteredClaims, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, ErrMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// RequireServiceToken rejects requests without a valid HS256 bearer token.
// Paths starting with one of publicPrefixes pass through; webhooks carry
// their own provider signatures.
func RequireServiceToken(secret []byte, publicPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range publicPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			claims, err := parseServiceToken(secret, r.Header.Get("Authorization"))
			if err != nil {
				logger.Warn().
					Str("event", "auth_rejected").
					Str("path", r.URL.Path).
					Err(err).
					Msg("Service token rejected")
				w.Header().Set("WWW-Authenticate", `Bearer realm="ongopool"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerCtx{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
