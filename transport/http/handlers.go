package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quorumdao/gatehouse/core"
	"github.com/quorumdao/gatehouse/internal/eth"
	"github.com/quorumdao/gatehouse/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints.
type AuthHandlers struct {
	authService *service.AuthService
}

// NewAuthHandlers creates new auth handlers.
func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

// CredentialResponse is returned by sign-in and refresh.
type CredentialResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Nonce handles GET /auth/nonce.
func (h *AuthHandlers) Nonce(c *gin.Context) {
	nonce, err := h.authService.IssueNonce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue nonce"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

// SignIn handles POST /auth/signin. The three failure classes are kept
// distinct for the client: 400 malformed request, 401 verification failure,
// 403 verified wallet without a profile.
func (h *AuthHandlers) SignIn(c *gin.Context) {
	var req struct {
		Message   string `json:"message" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	cred, err := h.authService.SignIn(c.Request.Context(), req.Message, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrProfileRequired):
			c.JSON(http.StatusForbidden, gin.H{"needs_setup": true, "error": "profile setup required"})
		case errors.Is(err, core.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge message"})
		case core.IsUnauthenticated(err):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign-in failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, CredentialResponse{
		Token:     cred.Token,
		Address:   cred.Address,
		ExpiresAt: cred.ExpiresAt,
	})
}

// CheckUser handles GET /auth/check-user?address=.
func (h *AuthHandlers) CheckUser(c *gin.Context) {
	address := c.Query("address")

	exists, err := h.authService.CheckUser(c.Request.Context(), address)
	if err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"exists": exists, "needs_setup": !exists})
}

// Me handles GET /auth/me.
func (h *AuthHandlers) Me(c *gin.Context) {
	address, exists := c.Get(ContextAddress)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user not found in context"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"authenticated": true, "address": address})
}

// SignOut handles POST /auth/signout.
func (h *AuthHandlers) SignOut(c *gin.Context) {
	token, exists := c.Get(ContextToken)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential not found in context"})
		return
	}

	if err := h.authService.SignOut(c.Request.Context(), token.(string)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign out"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "signed out"})
}

// Refresh handles POST /auth/refresh: a new credential is issued and the
// presented one revoked in one step.
func (h *AuthHandlers) Refresh(c *gin.Context) {
	token, exists := c.Get(ContextToken)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential not found in context"})
		return
	}

	cred, err := h.authService.Refresh(c.Request.Context(), token.(string))
	if err != nil {
		if core.IsUnauthenticated(err) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh"})
		return
	}

	c.JSON(http.StatusOK, CredentialResponse{
		Token:     cred.Token,
		Address:   cred.Address,
		ExpiresAt: cred.ExpiresAt,
	})
}

// CreateUser handles POST /users. It runs behind OptionalAuth: profile
// creation happens before any credential exists, but an authenticated caller
// may only create a profile for their own address.
func (h *AuthHandlers) CreateUser(c *gin.Context) {
	var req struct {
		Address      string `json:"address" binding:"required"`
		Name         string `json:"name" binding:"required"`
		Organization string `json:"organization"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if authed, ok := c.Get(ContextAddress); ok && authed.(string) != eth.NormalizeAddress(req.Address) {
		c.JSON(http.StatusForbidden, gin.H{"error": "address does not match credential"})
		return
	}

	profile, err := h.authService.CreateProfile(c.Request.Context(), req.Address, req.Name, req.Organization)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{"error": "profile already exists"})
		case errors.Is(err, core.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create profile"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"address":      profile.Address,
		"name":         profile.Name,
		"organization": profile.Organization,
	})
}

// Healthz handles GET /healthz.
func (h *AuthHandlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
