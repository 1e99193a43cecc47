package http

import (
	"github.com/gin-gonic/gin"

	"github.com/quorumdao/gatehouse/service"
)

// SetupRouter sets up the Gin router.
func SetupRouter(authService *service.AuthService) *gin.Engine {
	router := gin.Default()

	handlers := NewAuthHandlers(authService)

	router.GET("/healthz", handlers.Healthz)

	// Auth routes. Nonce, sign-in and check-user establish auth and are
	// open; me, signout and refresh require a live credential.
	auth := router.Group("/auth")
	{
		auth.GET("/nonce", handlers.Nonce)
		auth.POST("/signin", handlers.SignIn)
		auth.GET("/check-user", handlers.CheckUser)

		auth.GET("/me", RequireAuth(authService), handlers.Me)
		auth.POST("/signout", RequireAuth(authService), handlers.SignOut)
		auth.POST("/refresh", RequireAuth(authService), handlers.Refresh)
	}

	// Profile creation runs before a credential exists.
	router.POST("/users", OptionalAuth(authService), handlers.CreateUser)

	return router
}
