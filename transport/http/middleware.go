package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quorumdao/gatehouse/core"
	"github.com/quorumdao/gatehouse/service"
)

// Context keys set by the auth middleware.
const (
	ContextAddress = "userAddress"
	ContextToken   = "userToken"
)

func bearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

// RequireAuth validates the bearer credential on every request and aborts
// with 401 when it is missing, expired, forged or revoked. On success the
// verified address and the raw token are attached to the request context.
func RequireAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}

		cred, err := authService.ValidateCredential(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": authErrorMessage(err)})
			return
		}

		c.Set(ContextAddress, cred.Address)
		c.Set(ContextToken, token)

		c.Next()
	}
}

// OptionalAuth performs the same validation as RequireAuth but lets a
// request without any credential through anonymously. A credential that is
// present but invalid still fails the request.
func OptionalAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		cred, err := authService.ValidateCredential(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": authErrorMessage(err)})
			return
		}

		c.Set(ContextAddress, cred.Address)
		c.Set(ContextToken, token)

		c.Next()
	}
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrCredentialMissing):
		return "credential is missing"
	case errors.Is(err, core.ErrCredentialExpired):
		return "credential has expired"
	case errors.Is(err, core.ErrCredentialRevoked):
		return "credential has been revoked"
	default:
		return "invalid credential"
	}
}
