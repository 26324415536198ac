// Package questions manages the shared question catalog and the
// per-game pool of playable questions drawn from it.
package questions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/store"
)

// Catalog hash keys shared between replicas.
const (
	NormalQuestionsKey = "questions_normal"
	FinalQuestionsKey  = "questions_final"
)

// Record is one catalog entry as stored in the shared hashes.
type Record struct {
	Category           string   `json:"category"`
	Question           string   `json:"question"`
	Answer             string   `json:"answer"`
	AlternateSpellings []string `json:"alternateSpellings"`
	Suggestions        []string `json:"suggestions"`
}

func (r Record) validate() error {
	if r.Question == "" {
		return fmt.Errorf("record missing question")
	}
	if r.Answer == "" {
		return fmt.Errorf("record missing answer")
	}
	return nil
}

// catalogFile is the on-disk shape: one list per category.
type catalogFile struct {
	Normal []Record `json:"normal"`
	Final  []Record `json:"final"`
}

// LoadCatalog reads the question file and loads each category into its
// shared hash map, field = question index, value = the record as JSON.
// Runs once at bootstrap; the catalog is read-only afterwards.
func LoadCatalog(ctx context.Context, st *store.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read questions file: %w", err)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse questions file: %w", err)
	}

	for key, records := range map[string][]Record{
		NormalQuestionsKey: file.Normal,
		FinalQuestionsKey:  file.Final,
	} {
		for idx, rec := range records {
			if err := rec.validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", key, idx, err)
			}
			blob, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", key, idx, err)
			}
			if err := st.HashSet(ctx, key, fmt.Sprintf("%d", idx), string(blob)); err != nil {
				return err
			}
		}
		logging.Info(ctx, "loaded question catalog",
			zap.String("key", key), zap.Int("count", len(records)))
	}
	return nil
}
