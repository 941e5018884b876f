// internal/session/session.go
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/typerace/typerace/internal/cache"
	"github.com/typerace/typerace/internal/models"
)

// Store is the durable record store a session writes through. Every call is
// fire-and-forget from the session's perspective; the initial competition
// load happens before the session exists (see Directory.GetOrCreate).
type Store interface {
	SaveRoundSnapshot(ctx context.Context, competitionID uuid.UUID, round *models.Round) error
	SaveFinalRankings(ctx context.Context, competitionID uuid.UUID, rankings []*models.RankingEntry) error
	CreateParticipantRecord(ctx context.Context, competitionID uuid.UUID, name string, handle uuid.UUID) error
}

// rankingWriteAttempts bounds the retry loop for persisting final rankings.
// The in-memory copy stays authoritative regardless of write outcome.
const rankingWriteAttempts = 4

// liveStats is the O(1) incremental projection of the active round's result
// set. The result set itself is ground truth; models.ComputeRoundStats over
// it must always agree with this cache.
type liveStats struct {
	count  int
	sumWPM float64
	sumAcc float64
	maxWPM float64
	minWPM float64
}

func (ls *liveStats) add(wpm, accuracy float64) {
	if ls.count == 0 {
		ls.maxWPM = wpm
		ls.minWPM = wpm
	} else {
		if wpm > ls.maxWPM {
			ls.maxWPM = wpm
		}
		if wpm < ls.minWPM {
			ls.minWPM = wpm
		}
	}
	ls.count++
	ls.sumWPM += wpm
	ls.sumAcc += accuracy
}

func (ls *liveStats) stats() models.RoundStats {
	if ls.count == 0 {
		return models.RoundStats{}
	}
	return models.RoundStats{
		ParticipantsCompleted: ls.count,
		HighestWPM:            ls.maxWPM,
		LowestWPM:             ls.minWPM,
		AverageWPM:            ls.sumWPM / float64(ls.count),
		AverageAccuracy:       ls.sumAcc / float64(ls.count),
	}
}

// Session holds the entire live state for a single competition in memory:
// the participant registry (twin indices over the same owned Participant
// objects), the round cursor, and the broadcast group. A single mutex guards
// all of it; operations inside the lock never touch the network or the
// database. Durable writes and the Redis event log are dispatched on
// separate goroutines after the mutation is applied.
type Session struct {
	ID          uuid.UUID
	Code        string
	Name        string
	OrganizerID uuid.UUID

	Mu sync.Mutex

	status          models.CompetitionStatus
	rounds          []*models.Round
	current         int // -1 before the first round starts
	roundsCompleted int
	finalRankings   []*models.RankingEntry

	byHandle map[uuid.UUID]*models.Participant
	byName   map[string]*models.Participant

	// departed keeps entries for disconnected participants who submitted at
	// least one result, so final rankings still include them.
	departed []*models.Participant

	conns map[uuid.UUID]*Conn

	live       liveStats
	roundTimer *time.Timer
	autoEnd    bool

	lastActivity time.Time
	eventIndex   int

	store Store

	// OnEmpty is called when the last connection leaves a completed
	// session. Typically assigned by the Directory, e.g.
	//   sess.OnEmpty = func(id uuid.UUID) { dir.Remove(id) }
	OnEmpty func(competitionID uuid.UUID)
}

// New builds a live session around a freshly loaded competition record. The
// session takes ownership of the record's rounds; callers must not retain
// them.
func New(comp *models.Competition, store Store) *Session {
	return &Session{
		ID:           comp.ID,
		Code:         comp.Code,
		Name:         comp.Name,
		OrganizerID:  comp.OrganizerID,
		status:       comp.Status,
		rounds:       comp.Rounds,
		current:      comp.CurrentRound,
		roundsCompleted: comp.RoundsCompleted,
		finalRankings:   comp.FinalRankings,
		byHandle:     make(map[uuid.UUID]*models.Participant),
		byName:       make(map[string]*models.Participant),
		conns:        make(map[uuid.UUID]*Conn),
		store:        store,
		lastActivity: time.Now(),
	}
}

// SetAutoEnd enables the per-round auto-end timer: an active round is ended
// through the session mutex once its target duration elapses, even if no
// organizer is connected.
func (s *Session) SetAutoEnd(enabled bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.autoEnd = enabled
}

// RoundView is an immutable snapshot of one round, safe to serialize after
// the session mutex has been released.
type RoundView struct {
	Number      int                `json:"number"`
	TotalRounds int                `json:"total_rounds"`
	Text        string             `json:"text"`
	Duration    int                `json:"duration"`
	Status      models.RoundStatus `json:"status"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	EndedAt     *time.Time         `json:"ended_at,omitempty"`
	Stats       models.RoundStats  `json:"stats"`
}

// View is a point-in-time summary of the whole session.
type View struct {
	CompetitionID   uuid.UUID                `json:"competition_id"`
	Name            string                   `json:"name"`
	Code            string                   `json:"code"`
	Status          models.CompetitionStatus `json:"status"`
	CurrentRound    int                      `json:"current_round"`
	TotalRounds     int                      `json:"total_rounds"`
	RoundsCompleted int                      `json:"rounds_completed"`
	Participants    int                      `json:"participants"`
}

func (s *Session) roundView(r *models.Round) RoundView {
	return RoundView{
		Number:      r.Number,
		TotalRounds: len(s.rounds),
		Text:        r.Text,
		Duration:    r.Duration,
		Status:      r.Status,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		Stats:       r.Stats,
	}
}

// Snapshot returns the session summary. Used for resync after reconnect and
// by the HTTP status endpoint.
func (s *Session) Snapshot() View {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return View{
		CompetitionID:   s.ID,
		Name:            s.Name,
		Code:            s.Code,
		Status:          s.status,
		CurrentRound:    s.current,
		TotalRounds:     len(s.rounds),
		RoundsCompleted: s.roundsCompleted,
		Participants:    len(s.byHandle),
	}
}

// AttachOrganizer registers an organizer connection in the broadcast group.
// Attaching to an already-completed competition replays the final standings.
func (s *Session) AttachOrganizer(c *Conn) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	c.IsOrganizer = true
	s.conns[c.Handle] = c
	s.lastActivity = time.Now()
	if s.finalRankings != nil {
		c.Write(Event{
			Type:    EventFinalRankings,
			Payload: map[string]interface{}{"rankings": s.rankingsPayloadLocked()},
		})
	}
	s.logEvent(uuid.Nil, "organizer_attached", nil)
}

// SendTo delivers an event to a single attached connection.
func (s *Session) SendTo(handle uuid.UUID, ev Event) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.sendToLocked(handle, ev)
}

func (s *Session) sendToLocked(handle uuid.UUID, ev Event) {
	if c, ok := s.conns[handle]; ok {
		c.Write(ev)
	}
}

// rankingsPayloadLocked renders the final standings for the wire. Assumes
// lock held and finalRankings non-nil.
func (s *Session) rankingsPayloadLocked() []map[string]interface{} {
	payload := make([]map[string]interface{}, len(s.finalRankings))
	for i, e := range s.finalRankings {
		payload[i] = map[string]interface{}{
			"rank":             e.Rank,
			"name":             e.Name,
			"score":            e.Score,
			"rounds_completed": e.RoundsCompleted,
		}
	}
	return payload
}

// Join registers a new participant under the given display name. Fails with
// ErrNameTaken if any currently-connected participant holds the same name
// (case-sensitive exact match). A disconnecting participant frees their name
// only through Leave, never implicitly.
func (s *Session) Join(c *Conn, name string) (*models.Participant, error) {
	s.Mu.Lock()

	if _, taken := s.byName[name]; taken {
		s.Mu.Unlock()
		return nil, ErrNameTaken
	}

	p := &models.Participant{
		Handle:   c.Handle,
		Name:     name,
		JoinedAt: time.Now(),
		Results:  make(map[int]*models.RoundResult),
	}
	s.byHandle[c.Handle] = p
	s.byName[name] = p
	s.conns[c.Handle] = c
	total := len(s.byHandle)
	s.lastActivity = time.Now()

	c.Write(Event{
		Type: EventJoinSuccess,
		Payload: map[string]interface{}{
			"competition_id": s.ID.String(),
			"name":           s.Name,
			"round_count":    len(s.rounds),
		},
	})
	s.broadcast(Event{
		Type: EventParticipantJoined,
		Payload: map[string]interface{}{
			"name":               name,
			"total_participants": total,
		},
	})
	s.logEvent(c.Handle, "participant_joined", map[string]interface{}{"name": name})
	s.Mu.Unlock()

	// Durable participant record is off the critical path.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.CreateParticipantRecord(ctx, s.ID, name, c.Handle); err != nil {
			log.Printf("session %s: failed to persist participant %q: %v", s.ID, name, err)
		}
	}()

	return p, nil
}

// Leave removes the connection (participant or organizer) with the given
// handle. It is idempotent: duplicate disconnect signals are no-ops. Already
// submitted results are kept and still count toward final rankings.
func (s *Session) Leave(handle uuid.UUID) {
	s.Mu.Lock()

	delete(s.conns, handle)

	p, ok := s.byHandle[handle]
	if ok {
		delete(s.byHandle, handle)
		if s.byName[p.Name] == p {
			delete(s.byName, p.Name)
		}
		if len(p.Results) > 0 {
			s.departed = append(s.departed, p)
		}
		s.broadcast(Event{
			Type: EventParticipantLeft,
			Payload: map[string]interface{}{
				"name":               p.Name,
				"total_participants": len(s.byHandle),
			},
		})
		s.logEvent(handle, "participant_left", map[string]interface{}{"name": p.Name})
	}
	s.lastActivity = time.Now()

	empty := len(s.conns) == 0 && len(s.byHandle) == 0
	completed := s.status == models.CompetitionCompleted
	onEmpty := s.OnEmpty
	s.Mu.Unlock()

	if empty && completed && onEmpty != nil {
		go onEmpty(s.ID)
	}
}

// FindByHandle returns the connected participant for a handle, if any.
func (s *Session) FindByHandle(handle uuid.UUID) (*models.Participant, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	p, ok := s.byHandle[handle]
	return p, ok
}

// FindByName returns the connected participant with the given display name.
func (s *Session) FindByName(name string) (*models.Participant, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	p, ok := s.byName[name]
	return p, ok
}

// ParticipantCount returns the number of currently-connected participants.
func (s *Session) ParticipantCount() int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return len(s.byHandle)
}

// StartNextRound advances the round cursor and activates the next pending
// round. The previous round must have been ended explicitly; starting over
// an active round fails with ErrRoundInProgress.
func (s *Session) StartNextRound() (RoundView, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.status == models.CompetitionCompleted {
		return RoundView{}, ErrNoMoreRounds
	}
	if s.current >= 0 && s.current < len(s.rounds) && s.rounds[s.current].Status == models.RoundActive {
		return RoundView{}, ErrRoundInProgress
	}
	next := s.current + 1
	if next >= len(s.rounds) {
		return RoundView{}, ErrNoMoreRounds
	}

	round := s.rounds[next]
	now := time.Now()
	s.current = next
	round.Status = models.RoundActive
	round.StartedAt = &now
	round.EndedAt = nil
	round.Results = nil
	round.Stats = models.RoundStats{}
	s.live = liveStats{}
	s.status = models.CompetitionActive
	s.lastActivity = now

	s.scheduleAutoEnd(round)

	s.broadcast(Event{
		Type: EventRoundStarted,
		Payload: map[string]interface{}{
			"number":       round.Number,
			"total_rounds": len(s.rounds),
			"text":         round.Text,
			"duration":     round.Duration,
		},
	})
	s.logEvent(uuid.Nil, "round_started", map[string]interface{}{"number": round.Number})

	return s.roundView(round), nil
}

// scheduleAutoEnd arms a timer that ends the round after its target duration
// if the organizer has not done so. The callback re-enters through the
// session mutex and checks for staleness, mirroring how disconnects and late
// timers must never act on a round that already moved on. Assumes lock held.
func (s *Session) scheduleAutoEnd(round *models.Round) {
	if !s.autoEnd || round.Duration <= 0 {
		return
	}
	if s.roundTimer != nil {
		s.roundTimer.Stop()
	}
	number := round.Number
	s.roundTimer = time.AfterFunc(time.Duration(round.Duration)*time.Second, func() {
		go func() {
			s.Mu.Lock()
			defer s.Mu.Unlock()
			if s.current < 0 || s.current >= len(s.rounds) {
				return
			}
			cur := s.rounds[s.current]
			if cur.Number != number || cur.Status != models.RoundActive {
				// Stale timer: the organizer already ended this round.
				return
			}
			log.Printf("session %s: auto-ending round %d after %ds", s.ID, number, round.Duration)
			s.endCurrentRoundLocked()
		}()
	})
}

// SubmitResult records one participant's performance for the active round.
// Duplicate submissions are rejected, not overwritten.
func (s *Session) SubmitResult(handle uuid.UUID, wpm, accuracy float64) error {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if wpm < 0 || accuracy < 0 || accuracy > 100 {
		return ErrInvalidResult
	}
	p, ok := s.byHandle[handle]
	if !ok {
		return ErrNotFound
	}
	if s.current < 0 || s.current >= len(s.rounds) {
		return ErrRoundClosed
	}
	round := s.rounds[s.current]
	if round.Status != models.RoundActive {
		return ErrRoundClosed
	}
	if _, dup := p.Results[round.Number]; dup {
		return ErrAlreadySubmitted
	}

	res := &models.RoundResult{
		Name:        p.Name,
		WPM:         wpm,
		Accuracy:    accuracy,
		SubmittedAt: time.Now(),
	}
	round.Results = append(round.Results, res)
	p.Results[round.Number] = res
	s.live.add(wpm, accuracy)
	round.Stats = s.live.stats()
	s.lastActivity = res.SubmittedAt

	s.sendToLocked(handle, Event{
		Type:    EventResultAck,
		Payload: map[string]interface{}{"round": round.Number},
	})
	s.broadcast(Event{
		Type: EventResultProgress,
		Payload: map[string]interface{}{
			"round":     round.Number,
			"name":      p.Name,
			"completed": s.live.count,
			"total":     len(s.byHandle),
		},
	})
	s.logEvent(handle, "result_submitted", map[string]interface{}{
		"round":    round.Number,
		"wpm":      wpm,
		"accuracy": accuracy,
	})
	return nil
}

// EndCurrentRound completes the active round, finalizes its statistics over
// whatever was submitted, and, if it was the last round, completes the
// competition and computes final rankings.
func (s *Session) EndCurrentRound() (RoundView, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.current < 0 || s.current >= len(s.rounds) || s.rounds[s.current].Status != models.RoundActive {
		return RoundView{}, ErrRoundClosed
	}
	return s.endCurrentRoundLocked(), nil
}

// endCurrentRoundLocked does the actual round completion. Assumes lock held
// and that rounds[current] is active.
func (s *Session) endCurrentRoundLocked() RoundView {
	round := s.rounds[s.current]
	now := time.Now()
	round.Status = models.RoundCompleted
	round.EndedAt = &now
	// Recompute from the result set rather than trusting the incremental
	// cache; the two must agree, and the result set is ground truth.
	round.Stats = models.ComputeRoundStats(round.Results)
	s.roundsCompleted++
	s.lastActivity = now

	if s.roundTimer != nil {
		s.roundTimer.Stop()
		s.roundTimer = nil
	}

	s.broadcast(Event{
		Type: EventRoundEnded,
		Payload: map[string]interface{}{
			"number":                 round.Number,
			"participants_completed": round.Stats.ParticipantsCompleted,
			"highest_wpm":            round.Stats.HighestWPM,
			"lowest_wpm":             round.Stats.LowestWPM,
			"average_wpm":            round.Stats.AverageWPM,
			"average_accuracy":       round.Stats.AverageAccuracy,
		},
	})
	s.logEvent(uuid.Nil, "round_ended", map[string]interface{}{"number": round.Number})

	snapshot := *round
	go func(r models.Round) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.SaveRoundSnapshot(ctx, s.ID, &r); err != nil {
			log.Printf("session %s: failed to persist round %d snapshot: %v", s.ID, r.Number, err)
		}
	}(snapshot)

	if s.current == len(s.rounds)-1 {
		s.finishCompetitionLocked()
	}
	return s.roundView(round)
}

// finishCompetitionLocked marks the competition completed and computes the
// final rankings exactly once. Assumes lock held.
func (s *Session) finishCompetitionLocked() {
	if s.status == models.CompetitionCompleted {
		return
	}
	s.status = models.CompetitionCompleted

	entrants := make([]*models.Participant, 0, len(s.byHandle)+len(s.departed))
	for _, p := range s.byHandle {
		entrants = append(entrants, p)
	}
	entrants = append(entrants, s.departed...)
	s.finalRankings = ComputeRankings(entrants)

	s.broadcast(Event{
		Type: EventCompetitionFinished,
		Payload: map[string]interface{}{
			"competition_id": s.ID.String(),
			"rankings":       s.rankingsPayloadLocked(),
		},
	})
	s.logEvent(uuid.Nil, "competition_finished", map[string]interface{}{"entrants": len(s.finalRankings)})

	rankings := make([]*models.RankingEntry, len(s.finalRankings))
	copy(rankings, s.finalRankings)
	go s.persistRankings(rankings)
}

// persistRankings writes the final standings with bounded backoff. A failed
// write is logged and retried; it is never surfaced to participants, and the
// in-memory rankings remain authoritative either way.
func (s *Session) persistRankings(rankings []*models.RankingEntry) {
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= rankingWriteAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.store.SaveFinalRankings(ctx, s.ID, rankings)
		cancel()
		if err == nil {
			return
		}
		log.Printf("session %s: final rankings write attempt %d/%d failed: %v", s.ID, attempt, rankingWriteAttempts, err)
		if attempt < rankingWriteAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	log.Printf("session %s: giving up on final rankings write; in-memory copy remains authoritative", s.ID)
}

// Rankings returns the final standings, or nil before the competition
// completes. Held in memory for read access until eviction.
func (s *Session) Rankings() []*models.RankingEntry {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.finalRankings == nil {
		return nil
	}
	out := make([]*models.RankingEntry, len(s.finalRankings))
	copy(out, s.finalRankings)
	return out
}

// Evictable reports whether the janitor may remove this session: either it
// completed and drained, or nothing has touched it for the idle window and
// no organizer is attached.
func (s *Session) Evictable(now time.Time, idleAfter time.Duration) bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.status == models.CompetitionCompleted && len(s.byHandle) == 0 {
		return true
	}
	for _, c := range s.conns {
		if c.IsOrganizer {
			return false
		}
	}
	return now.Sub(s.lastActivity) >= idleAfter
}

// broadcast fans an event out to every connection in the session. Sends are
// non-blocking; a slow consumer drops events rather than stalling the
// session mutex. Assumes lock held.
func (s *Session) broadcast(ev Event) {
	for _, c := range s.conns {
		c.Write(ev)
	}
}

// logEvent pushes a record onto the Redis result event log for offline
// consumers. Asynchronous and best-effort. Assumes lock held.
func (s *Session) logEvent(actor uuid.UUID, eventType string, payload map[string]interface{}) {
	s.eventIndex++
	if payload == nil {
		payload = make(map[string]interface{})
	}
	rec := cache.ResultEventRecord{
		CompetitionID: s.ID,
		EventIndex:    s.eventIndex,
		ActorHandle:   actor,
		EventType:     eventType,
		EventPayload:  payload,
		Timestamp:     time.Now().UnixMilli(),
	}
	go func(rec cache.ResultEventRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cache.Rdb == nil {
			// Redis may not be connected (tests, local runs); skip silently.
			return
		}
		if err := cache.PublishResultEvent(ctx, rec); err != nil {
			log.Printf("session %s: failed to publish event %d to Redis: %v", s.ID, rec.EventIndex, err)
		}
	}(rec)
}
