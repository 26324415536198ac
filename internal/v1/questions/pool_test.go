package questions

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triviaroyale/server/internal/v1/store"
)

// seedCatalog writes n generated records into the given hash.
func seedCatalog(t *testing.T, st *store.Service, key string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		rec := Record{
			Category:           "general",
			Question:           fmt.Sprintf("Question %s #%d?", key, i),
			Answer:             fmt.Sprintf("Answer-%d", i),
			AlternateSpellings: []string{fmt.Sprintf("Alt-%d", i)},
			Suggestions: []string{
				fmt.Sprintf("Wrong-%d-a", i),
				fmt.Sprintf("Wrong-%d-b", i),
				fmt.Sprintf("Wrong-%d-c", i),
			},
		}
		blob, err := json.Marshal(rec)
		require.NoError(t, err)
		require.NoError(t, st.HashSet(ctx, key, fmt.Sprintf("%d", i), string(blob)))
	}
}

func waitReady(t *testing.T, p *Pool) {
	t.Helper()
	select {
	case <-p.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("pool never became ready")
	}
}

func TestPool_PopReturnsPlayable(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st, NormalQuestionsKey, 12)
	seedCatalog(t, st, FinalQuestionsKey, 6)

	ctx := context.Background()
	p := NewPool(ctx, st, "room-0001-test-test", PoolConfig{
		Sources:     map[string]int{NormalQuestionsKey: 3, FinalQuestionsKey: 2},
		MinQueueLen: 0,
		RefillLimit: 10,
	})
	waitReady(t, p)
	assert.Equal(t, 5, p.Len())

	q, err := p.Pop(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, q.Prompt)
	assert.NotEmpty(t, q.Answer)
	assert.Len(t, q.Options, 3)
	assert.Contains(t, q.Options, q.Answer)
}

func TestPool_NeverRepeatsWithinGame(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st, NormalQuestionsKey, 8)

	ctx := context.Background()
	// Each refill draws the whole catalog, so one pass sees everything.
	p := NewPool(ctx, st, "room-0001-test-test", PoolConfig{
		Sources:     map[string]int{NormalQuestionsKey: 8},
		MinQueueLen: 0,
		RefillLimit: 100,
	})
	waitReady(t, p)

	seen := make(map[string]struct{})
	for {
		q, err := p.Pop(ctx)
		if err != nil {
			require.ErrorIs(t, err, ErrExhausted)
			break
		}
		id := q.SourceKey + "/" + q.SourceIndex
		_, dup := seen[id]
		require.False(t, dup, "question %s served twice", id)
		seen[id] = struct{}{}
	}
	// Every catalog entry gets served exactly once before exhaustion.
	assert.Len(t, seen, 8)
}

func TestPool_ExhaustsAtRefillLimit(t *testing.T) {
	st := newTestStore(t)
	seedCatalog(t, st, NormalQuestionsKey, 50)

	ctx := context.Background()
	p := NewPool(ctx, st, "room-0001-test-test", PoolConfig{
		Sources:     map[string]int{NormalQuestionsKey: 1},
		MinQueueLen: 0,
		RefillLimit: 2,
	})
	waitReady(t, p)

	served := 0
	for {
		_, err := p.Pop(ctx)
		if err != nil {
			require.ErrorIs(t, err, ErrExhausted)
			break
		}
		served++
	}
	// Two refills of one question each; duplicates across refills would
	// only lower the count.
	assert.LessOrEqual(t, served, 2)
	assert.GreaterOrEqual(t, served, 1)
}

func TestPool_EmptyCatalog(t *testing.T) {
	st := newTestStore(t)

	ctx := context.Background()
	p := NewPool(ctx, st, "room-0001-test-test", PoolConfig{
		Sources:     map[string]int{NormalQuestionsKey: 3},
		MinQueueLen: 0,
		RefillLimit: 10,
	})
	waitReady(t, p)

	_, err := p.Pop(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestBuildPlayable(t *testing.T) {
	rec := Record{
		Question:           "What is the capital of France?",
		Answer:             "Paris",
		AlternateSpellings: []string{"paris"},
		Suggestions:        []string{"London", "Berlin", "Madrid"},
	}

	for i := 0; i < 50; i++ {
		q, err := buildPlayable(rec, NormalQuestionsKey, "0")
		require.NoError(t, err)

		assert.Equal(t, rec.Question, q.Prompt)
		assert.Contains(t, []string{"Paris", "paris"}, q.Answer)
		require.Len(t, q.Options, 3)
		assert.Contains(t, q.Options, q.Answer)
		for _, opt := range q.Options {
			if opt != q.Answer {
				assert.Contains(t, rec.Suggestions, opt)
			}
		}
	}
}

func TestBuildPlayable_TooFewDistractors(t *testing.T) {
	rec := Record{
		Question:    "Lonely question?",
		Answer:      "Yes",
		Suggestions: []string{"No"},
	}
	_, err := buildPlayable(rec, NormalQuestionsKey, "0")
	assert.ErrorContains(t, err, "distractors")
}

func TestSampleIndices(t *testing.T) {
	fields := sampleIndices(10, 5)
	require.Len(t, fields, 5)

	unique := make(map[string]struct{})
	for _, f := range fields {
		unique[f] = struct{}{}
	}
	assert.Len(t, unique, 5)
}
