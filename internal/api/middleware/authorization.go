package middleware

import (
	"net/http"
	"strings"
	"time"

	iternal_jwt "support-chat-backend/internal/jwt"

	"github.com/golang-jwt/jwt"
)

const bearerPrefix = "Bearer "

// bearerToken pulls the token out of an Authorization header. A header
// without the Bearer prefix is malformed credentials, never fatal.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(header, bearerPrefix)
}

func expired(claims jwt.MapClaims) bool {
	exp, ok := claims["exp"].(float64)
	if !ok {
		return true
	}
	return time.Now().Unix() > int64(exp)
}

func ValidateJWTMiddleware(role iternal_jwt.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := iternal_jwt.ParseToken(tokenString, role)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if expired(claims) {
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}

			next(w, r)
		}
	}
}

func ValidateMultipleJWTMiddleware(roles ...iternal_jwt.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			var claims jwt.MapClaims
			var err error

			for _, role := range roles {
				claims, err = iternal_jwt.ParseToken(tokenString, role)
				if err == nil {
					break
				}
			}

			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if expired(claims) {
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}

			next(w, r)
		}
	}
}

var ValidateCustomerJWT = ValidateJWTMiddleware(iternal_jwt.RoleCustomer)
var ValidateStaffJWT = ValidateJWTMiddleware(iternal_jwt.RoleStaff)
var ValidateAnyJWT = ValidateMultipleJWTMiddleware(iternal_jwt.RoleStaff, iternal_jwt.RoleCustomer)
