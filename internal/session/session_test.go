// internal/session/session_test.go
package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typerace/typerace/internal/models"
)

// mockStore records persistence calls instead of touching Postgres.
type mockStore struct {
	mu                 sync.Mutex
	participantRecords []string
	roundSnapshots     []models.Round
	finalRankings      [][]*models.RankingEntry
	rankingFailures    int // number of SaveFinalRankings calls to fail first
}

func newMockStore() *mockStore {
	return &mockStore{}
}

func (m *mockStore) SaveRoundSnapshot(ctx context.Context, competitionID uuid.UUID, round *models.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roundSnapshots = append(m.roundSnapshots, *round)
	return nil
}

func (m *mockStore) SaveFinalRankings(ctx context.Context, competitionID uuid.UUID, rankings []*models.RankingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rankingFailures > 0 {
		m.rankingFailures--
		return fmt.Errorf("injected write failure")
	}
	m.finalRankings = append(m.finalRankings, rankings)
	return nil
}

func (m *mockStore) CreateParticipantRecord(ctx context.Context, competitionID uuid.UUID, name string, handle uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participantRecords = append(m.participantRecords, name)
	return nil
}

func (m *mockStore) snapshotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.roundSnapshots)
}

func (m *mockStore) rankingWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.finalRankings)
}

func (m *mockStore) participantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.participantRecords)
}

// setupTestSession builds a session with the given number of one-minute
// rounds and a mock store.
func setupTestSession(t *testing.T, numRounds int) (*Session, *mockStore) {
	t.Helper()
	rounds := make([]*models.Round, numRounds)
	for i := 0; i < numRounds; i++ {
		rounds[i] = &models.Round{
			Number:   i + 1,
			Text:     fmt.Sprintf("round %d prompt text", i+1),
			Duration: 60,
			Status:   models.RoundPending,
		}
	}
	comp := &models.Competition{
		ID:           uuid.New(),
		Name:         "Test Competition",
		Code:         "ABC234",
		OrganizerID:  uuid.New(),
		Status:       models.CompetitionPending,
		Rounds:       rounds,
		CurrentRound: -1,
	}
	store := newMockStore()
	return New(comp, store), store
}

func newTestConn() *Conn {
	return &Conn{
		Handle:  uuid.New(),
		OutChan: make(chan Event, 64),
	}
}

// drainEvents empties a connection's OutChan and returns what was queued.
func drainEvents(c *Conn) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.OutChan:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func lastEventOfType(events []Event, typ EventType) (Event, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == typ {
			return events[i], true
		}
	}
	return Event{}, false
}

func TestJoinDistinctNames(t *testing.T) {
	sess, store := setupTestSession(t, 2)

	names := []string{"Ada", "Grace", "Edsger"}
	conns := make([]*Conn, len(names))
	for i, name := range names {
		conns[i] = newTestConn()
		p, err := sess.Join(conns[i], name)
		require.NoError(t, err)
		require.Equal(t, name, p.Name)
	}
	assert.Equal(t, 3, sess.ParticipantCount())

	// The first joiner saw their own join_success plus every later
	// participant_joined broadcast.
	events := drainEvents(conns[0])
	joinOK, ok := lastEventOfType(events, EventJoinSuccess)
	require.True(t, ok)
	assert.Equal(t, 2, joinOK.Payload["round_count"])

	joinedCount := 0
	for _, ev := range events {
		if ev.Type == EventParticipantJoined {
			joinedCount++
		}
	}
	assert.Equal(t, 3, joinedCount, "first joiner should see all three join broadcasts")

	require.Eventually(t, func() bool {
		return store.participantCount() == 3
	}, time.Second, 10*time.Millisecond, "participant records should be persisted")
}

func TestJoinDuplicateName(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	_, err := sess.Join(newTestConn(), "Ada")
	require.NoError(t, err)

	_, err = sess.Join(newTestConn(), "Ada")
	require.ErrorIs(t, err, ErrNameTaken)
	assert.Equal(t, 1, sess.ParticipantCount())
}

func TestConcurrentSameNameJoin(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	const attempts = 16
	var wg sync.WaitGroup
	var successes int32
	var mu sync.Mutex

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sess.Join(newTestConn(), "Ada"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes, "exactly one of the racing joins must win")
	assert.Equal(t, 1, sess.ParticipantCount())
}

func TestNameFreedAfterLeave(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	c := newTestConn()
	_, err := sess.Join(c, "Ada")
	require.NoError(t, err)

	sess.Leave(c.Handle)
	sess.Leave(c.Handle) // idempotent

	_, err = sess.Join(newTestConn(), "Ada")
	require.NoError(t, err)
}

func TestStartNextRoundWhileActive(t *testing.T) {
	sess, _ := setupTestSession(t, 2)

	rv, err := sess.StartNextRound()
	require.NoError(t, err)
	assert.Equal(t, 1, rv.Number)
	assert.Equal(t, models.RoundActive, rv.Status)

	_, err = sess.StartNextRound()
	require.ErrorIs(t, err, ErrRoundInProgress)
}

func TestStartNextRoundExhausted(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	_, err := sess.StartNextRound()
	require.NoError(t, err)
	_, err = sess.EndCurrentRound()
	require.NoError(t, err)

	_, err = sess.StartNextRound()
	require.ErrorIs(t, err, ErrNoMoreRounds)
}

func TestSubmitResultValidation(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	c := newTestConn()
	_, err := sess.Join(c, "Ada")
	require.NoError(t, err)

	// No round active yet.
	err = sess.SubmitResult(c.Handle, 60, 95)
	require.ErrorIs(t, err, ErrRoundClosed)

	_, err = sess.StartNextRound()
	require.NoError(t, err)

	// Out-of-range values.
	require.ErrorIs(t, sess.SubmitResult(c.Handle, -1, 95), ErrInvalidResult)
	require.ErrorIs(t, sess.SubmitResult(c.Handle, 60, 101), ErrInvalidResult)
	require.ErrorIs(t, sess.SubmitResult(c.Handle, 60, -0.5), ErrInvalidResult)

	// Unknown handle.
	require.ErrorIs(t, sess.SubmitResult(uuid.New(), 60, 95), ErrNotFound)

	// First submission lands, duplicate is rejected and not overwritten.
	require.NoError(t, sess.SubmitResult(c.Handle, 60, 95))
	require.ErrorIs(t, sess.SubmitResult(c.Handle, 99, 99), ErrAlreadySubmitted)

	rv, err := sess.EndCurrentRound()
	require.NoError(t, err)
	assert.Equal(t, 1, rv.Stats.ParticipantsCompleted)
	assert.InDelta(t, 60, rv.Stats.HighestWPM, 1e-9)

	// Round is closed now.
	require.ErrorIs(t, sess.SubmitResult(c.Handle, 70, 90), ErrRoundClosed)
}

func TestRoundStatsAggregation(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	submissions := []struct {
		name     string
		wpm, acc float64
	}{
		{"Ada", 60, 95},
		{"Grace", 80, 90},
		{"Edsger", 40, 100},
	}
	conns := make(map[string]*Conn)
	for _, sub := range submissions {
		c := newTestConn()
		conns[sub.name] = c
		_, err := sess.Join(c, sub.name)
		require.NoError(t, err)
	}

	_, err := sess.StartNextRound()
	require.NoError(t, err)
	for _, sub := range submissions {
		require.NoError(t, sess.SubmitResult(conns[sub.name].Handle, sub.wpm, sub.acc))
	}

	rv, err := sess.EndCurrentRound()
	require.NoError(t, err)

	assert.Equal(t, 3, rv.Stats.ParticipantsCompleted)
	assert.InDelta(t, 80, rv.Stats.HighestWPM, 1e-9)
	assert.InDelta(t, 40, rv.Stats.LowestWPM, 1e-9)
	assert.InDelta(t, 60, rv.Stats.AverageWPM, 1e-9)
	assert.InDelta(t, 95, rv.Stats.AverageAccuracy, 1e-9)
}

func TestEmptyRoundStatsAreZero(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	_, err := sess.StartNextRound()
	require.NoError(t, err)
	rv, err := sess.EndCurrentRound()
	require.NoError(t, err)

	assert.Equal(t, models.RoundStats{}, rv.Stats)
}

func TestCompetitionLifecycleWithDeparture(t *testing.T) {
	sess, store := setupTestSession(t, 2)

	ada := newTestConn()
	grace := newTestConn()
	edsger := newTestConn()
	for name, c := range map[string]*Conn{"Ada": ada, "Grace": grace, "Edsger": edsger} {
		_, err := sess.Join(c, name)
		require.NoError(t, err)
	}

	// Round 1: everyone submits. Edsger tops the round, then disconnects.
	_, err := sess.StartNextRound()
	require.NoError(t, err)
	require.NoError(t, sess.SubmitResult(ada.Handle, 60, 95))    // 57.0
	require.NoError(t, sess.SubmitResult(grace.Handle, 70, 90))  // 63.0
	require.NoError(t, sess.SubmitResult(edsger.Handle, 90, 98)) // 88.2
	_, err = sess.EndCurrentRound()
	require.NoError(t, err)

	sess.Leave(edsger.Handle)
	assert.Equal(t, 2, sess.ParticipantCount())

	// Round 2: only the remaining two submit.
	_, err = sess.StartNextRound()
	require.NoError(t, err)
	require.NoError(t, sess.SubmitResult(ada.Handle, 65, 100))  // +65.0 = 122.0
	require.NoError(t, sess.SubmitResult(grace.Handle, 60, 90)) // +54.0 = 117.0
	rv, err := sess.EndCurrentRound()
	require.NoError(t, err)
	assert.Equal(t, models.RoundCompleted, rv.Status)

	view := sess.Snapshot()
	assert.Equal(t, models.CompetitionCompleted, view.Status)
	assert.Equal(t, 2, view.RoundsCompleted)

	rankings := sess.Rankings()
	require.Len(t, rankings, 3, "departed participant keeps their standing")

	assert.Equal(t, []int{1, 2, 3}, []int{rankings[0].Rank, rankings[1].Rank, rankings[2].Rank})
	assert.Equal(t, "Ada", rankings[0].Name)
	assert.InDelta(t, 122.0, rankings[0].Score, 1e-9)
	assert.Equal(t, "Grace", rankings[1].Name)
	assert.InDelta(t, 117.0, rankings[1].Score, 1e-9)
	assert.Equal(t, "Edsger", rankings[2].Name)
	assert.InDelta(t, 88.2, rankings[2].Score, 1e-9)
	assert.Equal(t, 1, rankings[2].RoundsCompleted)

	// Both participant broadcast groups saw the finish event.
	finish, ok := lastEventOfType(drainEvents(ada), EventCompetitionFinished)
	require.True(t, ok)
	assert.NotNil(t, finish.Payload["rankings"])

	require.Eventually(t, func() bool {
		return store.snapshotCount() == 2 && store.rankingWrites() == 1
	}, time.Second, 10*time.Millisecond, "round snapshots and rankings should be persisted")
}

func TestPersistRankingsRetries(t *testing.T) {
	sess, store := setupTestSession(t, 1)
	store.rankingFailures = 1

	c := newTestConn()
	_, err := sess.Join(c, "Ada")
	require.NoError(t, err)

	_, err = sess.StartNextRound()
	require.NoError(t, err)
	require.NoError(t, sess.SubmitResult(c.Handle, 60, 95))
	_, err = sess.EndCurrentRound()
	require.NoError(t, err)

	// First write fails, the retry after backoff lands.
	require.Eventually(t, func() bool {
		return store.rankingWrites() == 1
	}, 3*time.Second, 25*time.Millisecond)

	// In-memory rankings were available the whole time.
	require.Len(t, sess.Rankings(), 1)
}

func TestAutoEndTimer(t *testing.T) {
	sess, _ := setupTestSession(t, 1)
	sess.SetAutoEnd(true)

	sess.Mu.Lock()
	sess.rounds[0].Duration = 1
	sess.Mu.Unlock()

	c := newTestConn()
	_, err := sess.Join(c, "Ada")
	require.NoError(t, err)

	_, err = sess.StartNextRound()
	require.NoError(t, err)
	require.NoError(t, sess.SubmitResult(c.Handle, 60, 95))

	require.Eventually(t, func() bool {
		return sess.Snapshot().Status == models.CompetitionCompleted
	}, 3*time.Second, 25*time.Millisecond, "timer should end the final round")
}

func TestOrganizerEndCancelsTimer(t *testing.T) {
	sess, _ := setupTestSession(t, 2)
	sess.SetAutoEnd(true)

	sess.Mu.Lock()
	sess.rounds[0].Duration = 1
	sess.Mu.Unlock()

	_, err := sess.StartNextRound()
	require.NoError(t, err)
	_, err = sess.EndCurrentRound()
	require.NoError(t, err)

	before := sess.Snapshot().RoundsCompleted
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, before, sess.Snapshot().RoundsCompleted, "stale timer must not double-end")
}

func TestEvictable(t *testing.T) {
	sess, _ := setupTestSession(t, 1)
	now := time.Now()

	// Fresh session with recent activity is not evictable.
	assert.False(t, sess.Evictable(now, 30*time.Minute))

	// Idle long enough without an organizer attached.
	assert.True(t, sess.Evictable(now.Add(time.Hour), 30*time.Minute))

	// An attached organizer pins the session regardless of idleness.
	org := newTestConn()
	sess.AttachOrganizer(org)
	assert.False(t, sess.Evictable(now.Add(time.Hour), 30*time.Minute))

	// Completed and drained is always evictable.
	done, _ := setupTestSession(t, 1)
	c := newTestConn()
	_, err := done.Join(c, "Ada")
	require.NoError(t, err)
	_, err = done.StartNextRound()
	require.NoError(t, err)
	require.NoError(t, done.SubmitResult(c.Handle, 60, 95))
	_, err = done.EndCurrentRound()
	require.NoError(t, err)
	done.Leave(c.Handle)
	assert.True(t, done.Evictable(time.Now(), 30*time.Minute))
}

func TestOnEmptyFiresAfterCompletion(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	var mu sync.Mutex
	var fired []uuid.UUID
	sess.OnEmpty = func(id uuid.UUID) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, id)
	}

	c := newTestConn()
	_, err := sess.Join(c, "Ada")
	require.NoError(t, err)
	_, err = sess.StartNextRound()
	require.NoError(t, err)
	require.NoError(t, sess.SubmitResult(c.Handle, 60, 95))
	_, err = sess.EndCurrentRound()
	require.NoError(t, err)

	sess.Leave(c.Handle)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1 && fired[0] == sess.ID
	}, time.Second, 10*time.Millisecond)
}

func TestAttachOrganizerConcurrentWithEviction(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	// A joined participant being promoted to organizer while the janitor
	// checks evictability: the promotion must happen under the session
	// mutex, where Evictable reads IsOrganizer.
	c := newTestConn()
	_, err := sess.Join(c, "Ada")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sess.AttachOrganizer(c)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			sess.Evictable(time.Now(), time.Minute)
		}
	}()
	wg.Wait()

	assert.True(t, c.IsOrganizer)
	assert.False(t, sess.Evictable(time.Now().Add(time.Hour), 30*time.Minute),
		"an attached organizer pins the session")
}

func TestOrganizerAttachReplaysRankings(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	c := newTestConn()
	_, err := sess.Join(c, "Ada")
	require.NoError(t, err)
	_, err = sess.StartNextRound()
	require.NoError(t, err)
	require.NoError(t, sess.SubmitResult(c.Handle, 60, 95))
	_, err = sess.EndCurrentRound()
	require.NoError(t, err)

	// An organizer attaching after the fact gets the standings replayed.
	org := newTestConn()
	sess.AttachOrganizer(org)

	replay, ok := lastEventOfType(drainEvents(org), EventFinalRankings)
	require.True(t, ok)
	assert.NotNil(t, replay.Payload["rankings"])
}

func TestSendToTargetsOneConnection(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	ada := newTestConn()
	grace := newTestConn()
	_, err := sess.Join(ada, "Ada")
	require.NoError(t, err)
	_, err = sess.Join(grace, "Grace")
	require.NoError(t, err)
	drainEvents(ada)
	drainEvents(grace)

	sess.SendTo(ada.Handle, Event{Type: EventError, Payload: map[string]interface{}{"message": "just you"}})

	adaEvents := drainEvents(ada)
	require.Len(t, adaEvents, 1)
	assert.Empty(t, drainEvents(grace))

	// Unknown handles are a no-op.
	sess.SendTo(uuid.New(), Event{Type: EventError})
}

func TestBroadcastDropsInsteadOfBlocking(t *testing.T) {
	sess, _ := setupTestSession(t, 1)

	// A consumer with a tiny buffer that nobody drains.
	slow := &Conn{Handle: uuid.New(), OutChan: make(chan Event, 1)}
	_, err := sess.Join(slow, "Slow")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		// Plenty of broadcasts against the full channel.
		for i := 0; i < 50; i++ {
			_, _ = sess.Join(newTestConn(), fmt.Sprintf("p%d", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcasting against a full channel must never block the session")
	}
}
