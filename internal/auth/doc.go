// Package auth establishes who an API request acts for.
//
// # Identity
//
// Every session is scoped to a user ID. HTTPAuthMiddleware resolves it and
// stores an Identity in the request context:
//
//   - JWT: when auth.jwt_secret is configured, "Authorization: Bearer <token>"
//     is required. Tokens are HS256, issued by "coven-concierge", and must
//     carry "sub" (the user ID) and "exp".
//   - Header: without a secret, X-User-ID names the user.
//   - Default: otherwise app.default_user_id is used.
//
// Handlers read it back with FromContext or UserID.
//
// # Token Management
//
//	verifier, err := auth.NewJWTVerifier(secret) // secret >= 32 bytes
//	token, err := verifier.Generate(userID, 24*time.Hour)
//	userID, err := verifier.Verify(token)
//
// Errors: ErrInvalidToken, ErrExpiredToken, ErrMissingClaim, ErrWeakSecret.
package auth
