package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"stylehaven/analytics/database"
	"stylehaven/analytics/handlers"
	"stylehaven/analytics/middleware"
	"stylehaven/analytics/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// PostgreSQL holds operator accounts.
	dbClient, err := database.NewPostgresDB()
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
	}
	defer dbClient.Close()

	// ClickHouse holds tracking events.
	chClient, err := database.NewClickHouseDB()
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse database: %v", err)
	}
	defer chClient.Close()

	userStore := store.NewUserStore(dbClient.DB)
	analyticsStore := store.NewAnalyticsStore(chClient)

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 10*time.Second)
	if err := analyticsStore.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		log.Fatalf("Failed to ensure ClickHouse schema: %v", err)
	}
	cancelSchema()

	authHandlers := handlers.NewAuthHandlers(userStore)
	analyticsHandlers := handlers.NewAnalyticsHandlers(analyticsStore)

	r := gin.Default()
	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		// Operator authentication (no token required).
		api.POST("/signup", authHandlers.Signup)
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		// Collector and reporting (API key or operator JWT).
		protected := api.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			protected.POST("/analytics", analyticsHandlers.TrackEvent)
			protected.GET("/analytics/data", analyticsHandlers.GetAnalyticsData)

			protected.GET("/profile", func(c *gin.Context) {
				userID := c.MustGet("user_id").(int)
				userEmail := c.MustGet("user_email").(string)

				c.JSON(http.StatusOK, gin.H{
					"message":    "Welcome to your profile!",
					"user_id":    userID,
					"user_email": userEmail,
					"ip_address": c.ClientIP(),
				})
			})

			statsGroup := protected.Group("/stats")
			{
				statsGroup.GET("/event-counts", analyticsHandlers.GetEventCountsOverTime)
				statsGroup.GET("/top-pages", analyticsHandlers.GetTopPages)
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Analytics collector starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Analytics collector failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
