package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	swag "github.com/gofiber/swagger"
	"github.com/joho/godotenv"

	_ "mietplatz/docs" // <-- required to register swagger spec

	"mietplatz/controller"
	"mietplatz/middleware"
	"mietplatz/repository"
	"mietplatz/seeder"
	"mietplatz/service"
	"mietplatz/util"
)

// @title           Mietplatz Auth API
// @version         1.0
// @description     Authentication service for the Mietplatz rental marketplace.
// @termsOfService  http://swagger.io/terms/

// @license.name    Apache 2.0
// @license.url     http://www.apache.org/licenses/LICENSE-2.0.html

// @host            localhost:4000
// @BasePath        /api/v1
func main() {
	// Load .env file with proper error handling
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v (using system environment variables)", err)
	}

	db := util.InitDB()
	rdb := util.InitRedis()

	seeder.SeedRoles(db)

	userRepo := repository.NewUserRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	refreshTokenRepo := repository.NewRefreshTokenRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	markerRepo := repository.NewSecurityMarkerRepository(rdb)

	util.StartDailyCleanup(refreshTokenRepo)

	// Replay incidents go to the log by default; add the email sink when a
	// security mailbox is configured
	sinks := []service.IncidentSink{service.LogSink{}}
	if recipient := os.Getenv("SECURITY_ALERT_EMAIL"); recipient != "" {
		sinks = append(sinks, service.NewEmailSink(recipient))
	}
	incidentService := service.NewIncidentService(markerRepo, sinks...)
	defer incidentService.Close()

	tokenService := service.NewTokenService(refreshTokenRepo, userRepo, incidentService)
	authService := service.NewAuthService(userRepo, credentialRepo, roleRepo, markerRepo, tokenService)

	app := fiber.New()
	setupRoutes(app, authService, markerRepo)

	port := os.Getenv("PORT")
	if port == "" {
		port = "4000"
	}

	log.Fatal(app.Listen(":" + port))
}

func setupRoutes(app *fiber.App, authService *service.AuthService, markerRepo repository.SecurityMarkerRepository) {
	// Apply timer metrics middleware globally to all routes
	app.Use(middleware.TimerMetrics)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/swagger/*", swag.HandlerDefault)

	authController := controller.NewAuthController(authService)

	api := app.Group("/api/v1")
	auth := api.Group("/auth", middleware.InitRateLimiter())

	auth.Post("/register", authController.Register)
	auth.Post("/login", authController.Login)
	auth.Post("/refresh", authController.Refresh)
	auth.Post("/logout", middleware.AuthRequired(markerRepo), authController.Logout)
}
