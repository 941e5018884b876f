// internal/handlers/server.go
package handlers

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/typerace/typerace/internal/database"
	"github.com/typerace/typerace/internal/session"
)

// Server is a high-level struct tying the live session directory to the
// pgx-backed durable store. Handlers hang off it.
type Server struct {
	Directory *session.Directory
	Store     *database.Store
	Logger    *logrus.Logger
}

// NewServer builds the server with eviction and auto-end behavior taken from
// the environment:
//   - SESSION_IDLE_TIMEOUT (Go duration, default 30m)
//   - ROUND_AUTO_END ("true" to arm per-round timers, default false)
func NewServer(logger *logrus.Logger) *Server {
	store := database.NewStore()

	idleAfter := session.DefaultIdleAfter
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Warnf("invalid SESSION_IDLE_TIMEOUT %q, using default: %v", v, err)
		} else {
			idleAfter = d
		}
	}

	autoEnd := false
	if v := os.Getenv("ROUND_AUTO_END"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warnf("invalid ROUND_AUTO_END %q, auto-end disabled: %v", v, err)
		} else {
			autoEnd = b
		}
	}

	return &Server{
		Directory: session.NewDirectory(store, idleAfter, autoEnd),
		Store:     store,
		Logger:    logger,
	}
}
