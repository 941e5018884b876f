// internal/handlers/competition_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/typerace/typerace/internal/auth"
	"github.com/typerace/typerace/internal/database"
	"github.com/typerace/typerace/internal/joincode"
	"github.com/typerace/typerace/internal/middleware"
	"github.com/typerace/typerace/internal/models"
	"github.com/typerace/typerace/internal/session"
)

// clientMessage is the tagged inbound frame. Only the fields relevant to the
// tagged type are read.
type clientMessage struct {
	Type     string   `json:"type"`
	Name     string   `json:"name,omitempty"`
	WPM      *float64 `json:"wpm,omitempty"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// CompetitionWSHandler upgrades /competition/ws/{code} connections and binds
// them to the live session for that code, creating the session on first
// contact.
func (s *Server) CompetitionWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		logger := s.Logger

		pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/competition/ws/"), "/")
		if len(pathParts) < 1 || pathParts[0] == "" {
			http.Error(w, "missing competition code", http.StatusBadRequest)
			return
		}
		code := strings.ToUpper(pathParts[0])
		if !joincode.Valid(code) {
			http.Error(w, "invalid competition code", http.StatusBadRequest)
			return
		}

		competitionID, err := database.ResolveCode(r.Context(), code)
		if errors.Is(err, database.ErrCompetitionNotFound) {
			http.Error(w, "competition not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Errorf("code resolution failed for %s: %v", code, err)
			http.Error(w, "failed to resolve competition", http.StatusInternalServerError)
			return
		}

		// Resolve organizer identity before the upgrade so the cookie is
		// still available. Failure is fine; the connection is then a plain
		// participant.
		var organizerID uuid.UUID
		if token := extractCookieToken(r.Header.Get("Cookie"), "auth_token"); token != "" {
			if idStr, err := auth.AuthenticateJWT(token); err == nil {
				organizerID, _ = uuid.Parse(idStr)
			}
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"typerace"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "typerace" {
			c.Close(BadSubprotocolError, "client must speak the typerace subprotocol")
			return
		}

		sess, err := s.Directory.GetOrCreate(r.Context(), competitionID, func(ctx context.Context) (*models.Competition, error) {
			return database.GetCompetitionByID(ctx, competitionID)
		})
		if err != nil {
			logger.Errorf("failed to open session %s: %v", competitionID, err)
			c.Close(InvalidCompetitionError, "competition could not be loaded")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		conn := &session.Conn{
			Handle:  uuid.New(),
			Cancel:  cancel,
			OutChan: make(chan session.Event, 16),
		}

		middleware.LogWebSocketConnect(logger, remoteAddr, r.URL.Path)
		logger.Infof("Connection %v opened on competition %s", conn.Handle, code)

		go s.writePump(ctx, c, conn)
		s.readPump(ctx, c, sess, conn, organizerID)

		sess.Leave(conn.Handle)
		cancel()
		middleware.LogWebSocketDisconnect(logger, remoteAddr, r.URL.Path, nil)
	}
}

// readPump handles inbound frames until the connection closes. Session
// methods do their own locking, so dispatch never holds the session mutex
// across a network read.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, sess *session.Session, conn *session.Conn, organizerID uuid.UUID) {
	logger := s.Logger
	joined := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				logger.Infof("Competition %s: WebSocket closed normally for %v.", sess.Code, conn.Handle)
			} else if !strings.Contains(err.Error(), "context canceled") {
				logger.Warnf("Competition %s: Read error for %v: %v (CloseStatus: %d)", sess.Code, conn.Handle, err, closeStatus)
			}
			return
		}

		if typ != websocket.MessageText {
			logger.Warnf("Competition %s: Non-text message type %d from %v. Ignoring.", sess.Code, typ, conn.Handle)
			continue
		}

		var packet clientMessage
		if err := json.Unmarshal(msg, &packet); err != nil {
			logger.Warnf("Competition %s: Invalid json from %v: %v", sess.Code, conn.Handle, err)
			conn.WriteError("Invalid JSON format")
			continue
		}

		switch packet.Type {
		case "join":
			if joined {
				conn.WriteError("Already joined")
				continue
			}
			name := strings.TrimSpace(packet.Name)
			if name == "" {
				conn.WriteError("Name must not be empty")
				continue
			}
			if _, err := sess.Join(conn, name); err != nil {
				conn.WriteError(joinErrorMessage(err))
				continue
			}
			joined = true

		case "organizer_join":
			if organizerID == uuid.Nil || organizerID != sess.OrganizerID {
				conn.WriteError("Organizer authentication required")
				continue
			}
			sess.AttachOrganizer(conn)
			joined = true

		case "start_round":
			if !conn.IsOrganizer {
				conn.WriteError("Only the organizer can start rounds")
				continue
			}
			if _, err := sess.StartNextRound(); err != nil {
				conn.WriteError(roundErrorMessage(err))
			}

		case "end_round":
			if !conn.IsOrganizer {
				conn.WriteError("Only the organizer can end rounds")
				continue
			}
			if _, err := sess.EndCurrentRound(); err != nil {
				conn.WriteError(roundErrorMessage(err))
			}

		case "submit_result":
			if packet.WPM == nil || packet.Accuracy == nil {
				conn.WriteError("wpm and accuracy are required")
				continue
			}
			if err := sess.SubmitResult(conn.Handle, *packet.WPM, *packet.Accuracy); err != nil {
				conn.WriteError(submitErrorMessage(err))
			}

		default:
			logger.Warnf("Competition %s: Unknown message type %q from %v", sess.Code, packet.Type, conn.Handle)
			conn.WriteError("Unknown message type")
		}
	}
}

// writePump drains the connection's OutChan onto the wire and keeps the
// connection alive with periodic pings.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *session.Conn) {
	logger := s.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	defer func() {
		_ = c.Close(websocket.StatusGoingAway, "Write pump stopping")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Warnf("Failed to marshal outgoing event for %v: %v", conn.Handle, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("Failed to write to websocket for %v: %v", conn.Handle, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("Failed to ping %v: %v. Assuming disconnect.", conn.Handle, err)
				return
			}
		}
	}
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrNameTaken):
		return "That name is already taken"
	default:
		return "Unable to join competition"
	}
}

func roundErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrRoundInProgress):
		return "A round is already in progress"
	case errors.Is(err, session.ErrNoMoreRounds):
		return "There are no more rounds"
	case errors.Is(err, session.ErrRoundClosed):
		return "No round is currently active"
	default:
		return "Round operation failed"
	}
}

func submitErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidResult):
		return "Result values are out of range"
	case errors.Is(err, session.ErrRoundClosed):
		return "No round is accepting results"
	case errors.Is(err, session.ErrAlreadySubmitted):
		return "Result already submitted for this round"
	case errors.Is(err, session.ErrNotFound):
		return "Join the competition before submitting results"
	default:
		return "Unable to record result"
	}
}
