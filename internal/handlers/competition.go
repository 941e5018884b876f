// internal/handlers/competition.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/typerace/typerace/internal/database"
	"github.com/typerace/typerace/internal/joincode"
	"github.com/typerace/typerace/internal/models"
)

type roundDefinition struct {
	Text     string `json:"text"`
	Duration int    `json:"duration"`
}

type createCompetitionRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Rounds      []roundDefinition `json:"rounds"`
}

const maxRoundsPerCompetition = 20

// CreateCompetitionHandler creates a new competition owned by the
// authenticated organizer and returns its join code.
func (s *Server) CreateCompetitionHandler(w http.ResponseWriter, r *http.Request) {
	organizerID, err := authedOrganizer(r)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusForbidden)
		return
	}

	var req createCompetitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if len(req.Rounds) == 0 {
		http.Error(w, "at least one round is required", http.StatusBadRequest)
		return
	}
	if len(req.Rounds) > maxRoundsPerCompetition {
		http.Error(w, "too many rounds", http.StatusBadRequest)
		return
	}

	rounds := make([]*models.Round, 0, len(req.Rounds))
	for i, rd := range req.Rounds {
		if strings.TrimSpace(rd.Text) == "" {
			http.Error(w, "round text must not be empty", http.StatusBadRequest)
			return
		}
		if rd.Duration <= 0 {
			http.Error(w, "round duration must be positive", http.StatusBadRequest)
			return
		}
		rounds = append(rounds, &models.Round{
			Number:   i + 1,
			Text:     rd.Text,
			Duration: rd.Duration,
			Status:   models.RoundPending,
		})
	}

	comp := models.Competition{
		Name:        req.Name,
		Description: req.Description,
		OrganizerID: organizerID,
		Rounds:      rounds,
	}
	if err := database.CreateCompetition(r.Context(), &comp); err != nil {
		s.Logger.Errorf("failed to create competition: %v", err)
		http.Error(w, "failed to create competition", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":       true,
		"code":          comp.Code,
		"competitionId": comp.ID.String(),
	})
}

// GetCompetitionHandler returns the public summary for a join code. If the
// session is live in the directory the in-memory snapshot takes precedence
// over the persisted row.
func (s *Server) GetCompetitionHandler(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.URL.Query().Get("code"))
	if code == "" {
		// Also accept /competition/{code} style paths.
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		code = strings.ToUpper(parts[len(parts)-1])
	}
	if !joincode.Valid(code) {
		http.Error(w, "invalid competition code", http.StatusBadRequest)
		return
	}

	summary, err := database.GetCompetitionSummaryByCode(r.Context(), code)
	if errors.Is(err, database.ErrCompetitionNotFound) {
		http.Error(w, "competition not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Logger.Errorf("failed to load competition %s: %v", code, err)
		http.Error(w, "failed to load competition", http.StatusInternalServerError)
		return
	}

	// Live sessions carry fresher state than the persisted row.
	if sess, ok := s.Directory.Get(summary.ID); ok {
		view := sess.Snapshot()
		summary.Status = view.Status
		summary.RoundsCompleted = view.RoundsCompleted
		summary.Participants = view.Participants
		summary.CurrentRound = view.CurrentRound
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// MyCompetitionsHandler lists the authenticated organizer's competitions.
func (s *Server) MyCompetitionsHandler(w http.ResponseWriter, r *http.Request) {
	organizerID, err := authedOrganizer(r)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusForbidden)
		return
	}

	summaries, err := database.ListCompetitionsByOrganizer(r.Context(), organizerID)
	if err != nil {
		s.Logger.Errorf("failed to list competitions for %s: %v", organizerID, err)
		http.Error(w, "failed to list competitions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"competitions": summaries})
}
