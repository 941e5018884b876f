// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/typerace/typerace/internal/auth"
	"github.com/typerace/typerace/internal/cache"
	"github.com/typerace/typerace/internal/database"
	"github.com/typerace/typerace/internal/handlers"
	"github.com/typerace/typerace/internal/middleware"
)

func main() {
	auth.Init()
	database.ConnectDB()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	// Redis is optional. Without it result events are not mirrored and code
	// lookups always hit Postgres.
	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, continuing without event mirroring: %v", err)
	}

	srv := handlers.NewServer(logger)
	defer srv.Directory.Close()

	mux := http.NewServeMux()

	// organizer endpoints
	mux.Handle("/organizer/register", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.RegisterOrganizerHandler,
	)))
	mux.Handle("/organizer/login", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.LoginOrganizerHandler,
	)))
	mux.Handle("/organizer/me", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.MeHandler,
	)))

	// competition endpoints
	mux.Handle("/competition/create", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.CreateCompetitionHandler,
	)))
	mux.Handle("/competition/mine", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.MyCompetitionsHandler,
	)))
	mux.Handle("/competition/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.GetCompetitionHandler,
	)))

	// competition ws
	mux.Handle("/competition/ws/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.CompetitionWSHandler(),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
