// ABOUTME: HTTP middleware that establishes the caller's identity on API endpoints
// ABOUTME: Requires a bearer JWT when a verifier is configured, else trusts X-User-ID or a default

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// UserIDHeader carries the caller's user ID when JWT auth is disabled.
const UserIDHeader = "X-User-ID"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// HTTPAuthMiddleware attaches an Identity to every request.
//
// With a verifier, a valid "Authorization: Bearer <jwt>" header is required and
// its subject is the user ID. Without one, the X-User-ID header is used, then
// defaultUserID. A request that ends up with no user ID is rejected.
func HTTPAuthMiddleware(verifier TokenVerifier, defaultUserID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id *Identity

			if verifier != nil {
				token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
				if errMsg != "" {
					writeAuthError(w, http.StatusUnauthorized, errMsg)
					return
				}
				userID, err := verifier.Verify(token)
				if err != nil {
					msg := "invalid token"
					if errors.Is(err, ErrExpiredToken) {
						msg = "token expired"
					}
					writeAuthError(w, http.StatusUnauthorized, msg)
					return
				}
				id = &Identity{UserID: userID, Method: MethodJWT}
			} else if h := strings.TrimSpace(r.Header.Get(UserIDHeader)); h != "" {
				id = &Identity{UserID: h, Method: MethodHeader}
			} else if defaultUserID != "" {
				id = &Identity{UserID: defaultUserID, Method: MethodDefault}
			} else {
				writeAuthError(w, http.StatusUnauthorized, "missing user id")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
