package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/metrics"
	"github.com/triviaroyale/server/internal/v1/store"
)

// ErrExhausted is returned by Pop when the pool cannot produce another
// question: the queue is empty and no further refills are allowed or
// the catalog has run dry.
var ErrExhausted = errors.New("question pool exhausted")

// errRefillLimit is internal; Pop translates it into ErrExhausted once
// the queue drains.
var errRefillLimit = errors.New("refill limit reached")

// Playable is a catalog record transformed for one round: a chosen
// answer variant plus a shuffled three-option list containing it.
type Playable struct {
	Prompt      string
	Answer      string
	Options     []string
	SourceKey   string
	SourceIndex string
}

// PoolConfig controls refill behavior.
type PoolConfig struct {
	// Sources maps a catalog hash key to how many questions each
	// refill should draw from it.
	Sources     map[string]int
	MinQueueLen int
	RefillLimit int
}

// DefaultPoolConfig mirrors the production defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Sources: map[string]int{
			NormalQuestionsKey: 10,
			FinalQuestionsKey:  5,
		},
		MinQueueLen: 5,
		RefillLimit: 10,
	}
}

// Pool is a bounded lazy queue of playable questions for one game.
// Within a game no two questions share a source index.
type Pool struct {
	store    *store.Service
	cfg      PoolConfig
	roomName string

	mu        sync.Mutex
	queue     []Playable
	seen      map[string]struct{}
	refills   int
	refilling bool

	ready     chan struct{}
	readyOnce sync.Once
}

// NewPool creates a Pool and starts its initial refill in the
// background. Callers should wait on Ready before the first Pop.
func NewPool(ctx context.Context, st *store.Service, roomName string, cfg PoolConfig) *Pool {
	p := &Pool{
		store:    st,
		cfg:      cfg,
		roomName: roomName,
		seen:     make(map[string]struct{}),
		ready:    make(chan struct{}),
	}
	go func() {
		if err := p.refill(ctx); err != nil {
			logging.Error(ctx, "initial question refill failed",
				zap.String("room_name", roomName), zap.Error(err))
		}
		p.readyOnce.Do(func() { close(p.ready) })
	}()
	return p
}

// Ready is closed once the initial refill has finished, successfully
// or not.
func (p *Pool) Ready() <-chan struct{} {
	return p.ready
}

// Len returns the current queue length.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Pop returns the head of the queue. When the remaining length drops
// below MinQueueLen an asynchronous refill is kicked off; when the
// queue is already empty, Pop refills synchronously before giving up.
func (p *Pool) Pop(ctx context.Context) (Playable, error) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		if err := p.refill(ctx); err != nil {
			return Playable{}, ErrExhausted
		}
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return Playable{}, ErrExhausted
		}
	}

	q := p.queue[0]
	p.queue = p.queue[1:]
	remaining := len(p.queue)
	p.mu.Unlock()

	metrics.QuestionPoolLen.WithLabelValues(p.roomName).Set(float64(remaining))

	if remaining < p.cfg.MinQueueLen {
		go func() {
			if err := p.refill(ctx); err != nil && !errors.Is(err, errRefillLimit) {
				logging.Warn(ctx, "background question refill failed",
					zap.String("room_name", p.roomName), zap.Error(err))
			}
		}()
	}

	return q, nil
}

// refill draws the configured number of questions from each source and
// appends the ones this game has not seen yet.
func (p *Pool) refill(ctx context.Context) error {
	p.mu.Lock()
	if p.refilling {
		p.mu.Unlock()
		return nil
	}
	if p.refills >= p.cfg.RefillLimit {
		p.mu.Unlock()
		return errRefillLimit
	}
	p.refilling = true
	p.refills++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.refilling = false
		p.mu.Unlock()
	}()

	for key, want := range p.cfg.Sources {
		if err := p.refillFrom(ctx, key, want); err != nil {
			return err
		}
	}

	metrics.QuestionPoolLen.WithLabelValues(p.roomName).Set(float64(p.Len()))
	return nil
}

func (p *Pool) refillFrom(ctx context.Context, key string, want int) error {
	total, err := p.store.HashLen(ctx, key)
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}
	if int64(want) > total {
		want = int(total)
	}

	fields := sampleIndices(int(total), want)
	values, err := p.store.HashMGet(ctx, key, fields...)
	if err != nil {
		return err
	}

	for i, val := range values {
		blob, ok := val.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			logging.Warn(ctx, "skipping unparseable catalog record",
				zap.String("key", key), zap.String("field", fields[i]), zap.Error(err))
			continue
		}

		q, err := buildPlayable(rec, key, fields[i])
		if err != nil {
			logging.Warn(ctx, "skipping unplayable catalog record",
				zap.String("key", key), zap.String("field", fields[i]), zap.Error(err))
			continue
		}

		dedupKey := key + "/" + fields[i]
		p.mu.Lock()
		if _, dup := p.seen[dedupKey]; !dup {
			p.seen[dedupKey] = struct{}{}
			p.queue = append(p.queue, q)
		}
		p.mu.Unlock()
	}
	return nil
}

// sampleIndices picks n distinct indices uniformly from [0, total) by
// rejection sampling.
func sampleIndices(total, n int) []string {
	picked := make(map[int]struct{}, n)
	fields := make([]string, 0, n)
	for len(fields) < n {
		idx := rand.IntN(total)
		if _, dup := picked[idx]; dup {
			continue
		}
		picked[idx] = struct{}{}
		fields = append(fields, fmt.Sprintf("%d", idx))
	}
	return fields
}

// buildPlayable fixes the answer variant and the option list for one
// round. The answer is the canonical spelling or, with 50% probability
// when alternates exist, a random alternate. The options are the
// answer plus two distinct distractors, shuffled.
func buildPlayable(rec Record, sourceKey, sourceIndex string) (Playable, error) {
	answer := rec.Answer
	if len(rec.AlternateSpellings) > 0 && rand.IntN(2) == 1 {
		answer = rec.AlternateSpellings[rand.IntN(len(rec.AlternateSpellings))]
	}

	distractors := make([]string, 0, len(rec.Suggestions))
	for _, s := range rec.Suggestions {
		if s != answer {
			distractors = append(distractors, s)
		}
	}
	if len(distractors) < 2 {
		return Playable{}, fmt.Errorf("need at least 2 distractors, have %d", len(distractors))
	}

	first := rand.IntN(len(distractors))
	second := first
	for second == first {
		second = rand.IntN(len(distractors))
	}

	options := []string{answer, distractors[first], distractors[second]}
	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	return Playable{
		Prompt:      rec.Question,
		Answer:      answer,
		Options:     options,
		SourceKey:   sourceKey,
		SourceIndex: sourceIndex,
	}, nil
}
