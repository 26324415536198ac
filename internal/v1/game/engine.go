// Package game runs one trivia game: a lobby hold followed by timed
// question rounds that eliminate players until at most one survives.
package game

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/triviaroyale/server/internal/v1/bus"
	"github.com/triviaroyale/server/internal/v1/lobby"
	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/metrics"
	"github.com/triviaroyale/server/internal/v1/questions"
	"github.com/triviaroyale/server/internal/v1/store"
)

// Timers configures the engine's phase durations.
type Timers struct {
	Lobby  time.Duration // lobby hold before round 1
	Round  time.Duration // answer window per round
	Pause  time.Duration // pause between rounds
	Settle time.Duration // grace after clearing admission keys
}

// Engine drives one game on the replica that won its election.
type Engine struct {
	room   string
	store  *store.Service
	pub    bus.Publisher
	pool   *questions.Pool
	timers Timers
	log    *zap.Logger
}

// New creates an Engine for a room.
func New(room string, st *store.Service, pub bus.Publisher, pool *questions.Pool, timers Timers) *Engine {
	return &Engine{
		room:   room,
		store:  st,
		pub:    pub,
		pool:   pool,
		timers: timers,
		log:    logging.GetLogger().With(zap.String("room_name", room)),
	}
}

// AnswerKey names the ephemeral hash map holding one round's answers.
func AnswerKey(room string, round int) string {
	return fmt.Sprintf("%s-ROUND-%d-ANSWERS", room, round)
}

// Run executes the game to completion. There is no external
// cancellation in normal operation; ctx only ends the game early on
// replica shutdown.
func (e *Engine) Run(ctx context.Context) {
	metrics.ActiveGames.Inc()
	defer metrics.ActiveGames.Dec()

	if !e.lobbyHold(ctx) {
		return
	}

	rounds := 0
	for round := 1; ; round++ {
		survivors, ok := e.playRound(ctx, round)
		if !ok {
			break
		}
		rounds++
		if survivors <= 1 {
			break
		}
		if !sleep(ctx, e.timers.Pause) {
			break
		}
	}

	// DONE: the roster is gone, the room is over.
	if err := e.store.DeleteKeys(ctx, e.room); err != nil {
		e.log.Error("failed to delete roster", zap.Error(err))
	}
	e.log.Info("game finished", zap.Int("rounds", rounds))
}

// lobbyHold announces the game, waits out the lobby timer, then
// clears the admission cells so the next cohort gets a fresh room.
// Returns false if the replica is shutting down.
func (e *Engine) lobbyHold(ctx context.Context) bool {
	if err := e.pub.PublishEvent(ctx, e.room, bus.NewGame{Timer: int(e.timers.Lobby.Seconds())}); err != nil {
		e.log.Error("failed to announce game", zap.Error(err))
	}

	if !sleep(ctx, e.timers.Lobby) {
		return false
	}

	if err := e.store.DeleteKeys(ctx, lobby.NextGameRoomKey, lobby.NextGameServerKey); err != nil {
		e.log.Error("failed to clear admission cells", zap.Error(err))
	}

	// Give the last-admitted clients a moment to finish joining their
	// room before round 1 broadcasts.
	return sleep(ctx, e.timers.Settle)
}

// playRound runs one question round. Returns the surviving player
// count and false when the game must end early (pool exhausted or
// shutdown).
func (e *Engine) playRound(ctx context.Context, round int) (int, bool) {
	if round == 1 {
		// The pool refills lazily in the background; the first pop
		// waits for the initial fill instead of racing it.
		select {
		case <-e.pool.Ready():
		case <-ctx.Done():
			return 0, false
		}
	}

	q, err := e.pool.Pop(ctx)
	if err != nil {
		e.log.Error("cannot continue game: question pool exhausted", zap.Error(err))
		return 0, false
	}

	answerKey := AnswerKey(e.room, round)

	members, err := e.store.SetMembers(ctx, e.room)
	if err != nil {
		e.log.Error("failed to snapshot roster", zap.Int("round", round), zap.Error(err))
		return 0, false
	}
	snapshot := set.New(members...)

	err = e.pub.PublishEvent(ctx, e.room, bus.NewRound{
		Question:       q.Prompt,
		Options:        q.Options,
		RoundAnswerKey: answerKey,
		Timer:          int(e.timers.Round.Seconds()),
		Round:          round,
	})
	if err != nil {
		e.log.Error("failed to publish round", zap.Int("round", round), zap.Error(err))
	}

	if !sleep(ctx, e.timers.Round) {
		return 0, false
	}

	survivors := e.tally(ctx, round, q, answerKey, snapshot)
	metrics.RoundsTotal.Inc()
	return survivors, true
}

// tally reads the round's answer table, eliminates everyone who did
// not submit the correct answer, publishes the round statistics, and
// deletes the table.
func (e *Engine) tally(ctx context.Context, round int, q questions.Playable, answerKey string, snapshot set.Set[string]) int {
	start := time.Now()
	defer func() { metrics.TallyDuration.Observe(time.Since(start).Seconds()) }()

	answers, err := e.store.HashGetAll(ctx, answerKey)
	if err != nil {
		e.log.Error("failed to read answers", zap.Int("round", round), zap.Error(err))
		answers = map[string]string{}
	}

	options := set.New(q.Options...)
	counts := make(map[string]int, len(q.Options))
	survivors := 0

	for username, answer := range answers {
		if options.Has(answer) {
			counts[answer]++
		} else {
			e.log.Warn("answer not among presented options",
				zap.Int("round", round),
				zap.String("username", username),
				zap.String("answer", answer))
		}

		if !snapshot.Has(username) {
			// Not part of this round's cohort; counted above, never a
			// survivor.
			continue
		}

		if answer == q.Answer {
			survivors++
		} else {
			e.eliminate(ctx, username)
		}
	}

	// Players who never answered are eliminated the same way.
	for _, username := range snapshot.UnsortedList() {
		if _, answered := answers[username]; !answered {
			e.eliminate(ctx, username)
		}
	}

	// Option shares are relative to the round's cohort, so unanswered
	// players leave a visible gap in the distribution.
	stats := make(map[string]float64, len(q.Options))
	for _, opt := range q.Options {
		if snapshot.Len() == 0 {
			stats[opt] = 0
			continue
		}
		stats[opt] = float64(counts[opt]) / float64(snapshot.Len())
	}

	err = e.pub.PublishEvent(ctx, e.room, bus.RoundStats{
		Round:         round,
		Options:       q.Options,
		Stats:         stats,
		CorrectAnswer: q.Answer,
		PlayersInGame: survivors,
	})
	if err != nil {
		e.log.Error("failed to publish round stats", zap.Int("round", round), zap.Error(err))
	}

	if err := e.store.DeleteKeys(ctx, answerKey); err != nil {
		e.log.Error("failed to delete answer table", zap.String("key", answerKey), zap.Error(err))
	}

	e.log.Info("round tallied",
		zap.Int("round", round),
		zap.Int("answers", len(answers)),
		zap.Int("survivors", survivors))

	return survivors
}

func (e *Engine) eliminate(ctx context.Context, username string) {
	if err := e.store.SetRem(ctx, e.room, username); err != nil {
		e.log.Error("failed to remove player from roster",
			zap.String("username", username), zap.Error(err))
	}
	if err := e.pub.PublishEvent(ctx, e.room, bus.PlayersUpdate{Action: "left", Username: username}); err != nil {
		e.log.Error("failed to announce elimination",
			zap.String("username", username), zap.Error(err))
	}
	metrics.EliminationsTotal.Inc()
}

// sleep waits for d or until ctx is cancelled. Returns false on
// cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
