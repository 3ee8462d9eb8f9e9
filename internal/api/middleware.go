/**
 * @description
 * This file contains custom middleware for the HTTP router. The registry
 * trusts the deployment substrate to authenticate callers; concretely that is
 * a bearer JWT signed with the shared service secret, whose subject claim is
 * the caller's principal identity.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// PrincipalContextKey is a custom type for the context key to avoid collisions.
type PrincipalContextKey string

const principalKey PrincipalContextKey = "principal"

// AuthMiddleware creates a middleware that validates bearer JWTs signed with
// the shared HMAC secret and stores the subject claim as the caller principal.
// Issuer and audience enforcement are optional and skipped when empty.
func AuthMiddleware(secret, issuer, audience string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}
			if !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			if issuer != "" {
				if iss, ok := claims["iss"].(string); !ok || iss != issuer {
					http.Error(w, "Invalid issuer", http.StatusUnauthorized)
					return
				}
			}
			if audience != "" {
				if aud, ok := claims["aud"].(string); !ok || aud != audience {
					http.Error(w, "Invalid audience", http.StatusUnauthorized)
					return
				}
			}

			// The subject claim carries the caller's principal identity.
			principal, ok := claims["sub"].(string)
			if !ok || strings.TrimSpace(principal) == "" {
				http.Error(w, "Principal not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal retrieves the authenticated caller principal from the context.
func GetPrincipal(ctx context.Context) (string, bool) {
	principal, ok := ctx.Value(principalKey).(string)
	return principal, ok
}
