package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/set"

	"github.com/triviaroyale/server/internal/v1/bus"
	"github.com/triviaroyale/server/internal/v1/lobby"
	"github.com/triviaroyale/server/internal/v1/questions"
	"github.com/triviaroyale/server/internal/v1/store"
)

const testRoom = "room-0001-test-test"

// capturingPublisher records every event instead of touching the bus.
type capturingPublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *capturingPublisher) PublishEvent(_ context.Context, roomName string, ev bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturingPublisher) byType(typ string) []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bus.Event
	for _, ev := range p.events {
		if ev.EventType() == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestStore(t *testing.T) *store.Service {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := store.New(mr.Addr(), "")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = svc.Close()
		mr.Close()
	})
	return svc
}

func seedCatalog(t *testing.T, st *store.Service, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		rec := questions.Record{
			Category: "general",
			Question: fmt.Sprintf("Question #%d?", i),
			Answer:   fmt.Sprintf("Answer-%d", i),
			Suggestions: []string{
				fmt.Sprintf("Wrong-%d-a", i),
				fmt.Sprintf("Wrong-%d-b", i),
			},
		}
		blob, err := json.Marshal(rec)
		require.NoError(t, err)
		require.NoError(t, st.HashSet(ctx, questions.NormalQuestionsKey, fmt.Sprintf("%d", i), string(blob)))
	}
}

func fastTimers() Timers {
	return Timers{
		Lobby:  10 * time.Millisecond,
		Round:  10 * time.Millisecond,
		Pause:  5 * time.Millisecond,
		Settle: 5 * time.Millisecond,
	}
}

func TestTally(t *testing.T) {
	st := newTestStore(t)
	pub := &capturingPublisher{}
	ctx := context.Background()

	require.NoError(t, st.SetAdd(ctx, testRoom, "alice"))
	require.NoError(t, st.SetAdd(ctx, testRoom, "bob"))
	require.NoError(t, st.SetAdd(ctx, testRoom, "carol"))

	answerKey := AnswerKey(testRoom, 1)
	require.NoError(t, st.HashSet(ctx, answerKey, "alice", "Mars"))
	require.NoError(t, st.HashSet(ctx, answerKey, "bob", "Venus"))
	// carol never answers.

	e := New(testRoom, st, pub, nil, fastTimers())
	q := questions.Playable{
		Prompt:  "What planet is known as the Red Planet?",
		Answer:  "Mars",
		Options: []string{"Mars", "Venus", "Jupiter"},
	}

	survivors := e.tally(ctx, 1, q, answerKey, set.New("alice", "bob", "carol"))
	assert.Equal(t, 1, survivors)

	// Wrong answer and no-show are both off the roster; the correct
	// answer stays.
	member, err := st.SetIsMember(ctx, testRoom, "alice")
	require.NoError(t, err)
	assert.True(t, member)
	for _, gone := range []string{"bob", "carol"} {
		member, err := st.SetIsMember(ctx, testRoom, gone)
		require.NoError(t, err)
		assert.False(t, member, "%s should be eliminated", gone)
	}

	statsEvents := pub.byType("round_stats")
	require.Len(t, statsEvents, 1)
	stats := statsEvents[0].(bus.RoundStats)
	assert.Equal(t, "Mars", stats.CorrectAnswer)
	assert.Equal(t, 1, stats.PlayersInGame)
	// Shares are out of the three-player cohort, so the silent player
	// shows up as a missing third.
	assert.InDelta(t, 1.0/3.0, stats.Stats["Mars"], 1e-9)
	assert.InDelta(t, 1.0/3.0, stats.Stats["Venus"], 1e-9)
	assert.InDelta(t, 0.0, stats.Stats["Jupiter"], 1e-9)

	leaves := pub.byType("players_update")
	require.Len(t, leaves, 2)
	left := make([]string, 0, 2)
	for _, ev := range leaves {
		upd := ev.(bus.PlayersUpdate)
		assert.Equal(t, "left", upd.Action)
		left = append(left, upd.Username)
	}
	assert.ElementsMatch(t, []string{"bob", "carol"}, left)

	// The answer table is gone.
	n, err := st.HashLen(ctx, answerKey)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTally_AnswerOutsideOptions(t *testing.T) {
	st := newTestStore(t)
	pub := &capturingPublisher{}
	ctx := context.Background()

	require.NoError(t, st.SetAdd(ctx, testRoom, "dave"))

	answerKey := AnswerKey(testRoom, 2)
	require.NoError(t, st.HashSet(ctx, answerKey, "dave", "Pluto"))

	e := New(testRoom, st, pub, nil, fastTimers())
	q := questions.Playable{
		Prompt:  "What planet is known as the Red Planet?",
		Answer:  "Mars",
		Options: []string{"Mars", "Venus", "Jupiter"},
	}

	survivors := e.tally(ctx, 2, q, answerKey, set.New("dave"))
	assert.Zero(t, survivors)

	stats := pub.byType("round_stats")[0].(bus.RoundStats)
	// An answer outside the options counts toward no share.
	assert.InDelta(t, 0.0, stats.Stats["Mars"], 1e-9)
	assert.InDelta(t, 0.0, stats.Stats["Venus"], 1e-9)
	assert.InDelta(t, 0.0, stats.Stats["Jupiter"], 1e-9)

	member, err := st.SetIsMember(ctx, testRoom, "dave")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestAnswerKey(t *testing.T) {
	assert.Equal(t, "room-0001-test-test-ROUND-3-ANSWERS", AnswerKey(testRoom, 3))
}

func TestRun_GameEndsWhenNobodySurvives(t *testing.T) {
	st := newTestStore(t)
	pub := &capturingPublisher{}
	ctx := context.Background()

	seedCatalog(t, st, 5)
	require.NoError(t, st.SetAdd(ctx, testRoom, "alice"))

	// Simulate the admission cells the election left behind.
	_, err := st.SetCellIfAbsent(ctx, lobby.NextGameRoomKey, testRoom)
	require.NoError(t, err)
	_, err = st.SetCellIfAbsent(ctx, lobby.NextGameServerKey, "SERVER-aaaa-bbbb")
	require.NoError(t, err)

	pool := questions.NewPool(ctx, st, testRoom, questions.PoolConfig{
		Sources:     map[string]int{questions.NormalQuestionsKey: 3},
		MinQueueLen: 0,
		RefillLimit: 2,
	})

	e := New(testRoom, st, pub, pool, fastTimers())

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("game did not finish")
	}

	// One lone player who never answers: announced game, one round, one
	// elimination, then over.
	assert.Len(t, pub.byType("new_game"), 1)
	assert.Len(t, pub.byType("new_round"), 1)
	assert.Len(t, pub.byType("round_stats"), 1)
	require.Len(t, pub.byType("players_update"), 1)
	assert.Equal(t, "alice", pub.byType("players_update")[0].(bus.PlayersUpdate).Username)

	// The admission cells were cleared for the next cohort.
	val, err := st.GetCell(ctx, lobby.NextGameRoomKey)
	require.NoError(t, err)
	assert.Empty(t, val)
	val, err = st.GetCell(ctx, lobby.NextGameServerKey)
	require.NoError(t, err)
	assert.Empty(t, val)

	// The roster is gone.
	n, err := st.SetCard(ctx, testRoom)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_StopsOnShutdown(t *testing.T) {
	st := newTestStore(t)
	pub := &capturingPublisher{}

	seedCatalog(t, st, 5)

	ctx, cancel := context.WithCancel(context.Background())
	pool := questions.NewPool(ctx, st, testRoom, questions.PoolConfig{
		Sources:     map[string]int{questions.NormalQuestionsKey: 3},
		MinQueueLen: 0,
		RefillLimit: 2,
	})

	timers := fastTimers()
	timers.Lobby = time.Hour

	e := New(testRoom, st, pub, pool, timers)

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on shutdown")
	}
	assert.Empty(t, pub.byType("new_round"))
}
