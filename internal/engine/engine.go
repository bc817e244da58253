// Package engine defines the translation engine contract and a reference
// implementation that translates text documents through an OpenAI-compatible
// chat API and renders monolingual and bilingual PDF outputs.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidSettings is returned when a run's configuration cannot be used.
var ErrInvalidSettings = errors.New("invalid translation settings")

// Config is the effective configuration for a single run, assembled from the
// task's settings snapshot with per-request overrides already applied.
type Config struct {
	Model      string `json:"model"`
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	LangIn     string `json:"lang_in"`
	LangOut    string `json:"lang_out"`
	ChunkChars int    `json:"chunk_chars"`
}

// Validate checks the configuration before any work is admitted.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidSettings)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidSettings)
	}
	if c.LangOut == "" {
		return fmt.Errorf("%w: target language is required", ErrInvalidSettings)
	}
	if c.ChunkChars < 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidSettings)
	}
	return nil
}

// Engine runs one translation. Run returns a finite event channel: the
// caller consumes it to completion. The channel carries Progress events and
// closes after a single Finish or Failure. Run itself only fails when the
// run cannot start at all.
type Engine interface {
	Run(ctx context.Context, cfg Config, inputPath, outputDir string) (<-chan Event, error)
}
