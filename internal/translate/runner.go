// Package translate coordinates translation runs: admission through a
// counting semaphore, assembly of the effective run configuration, driving
// the engine, and recording the outcome on the task.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/semaphore"

	"doc-translator/internal/db"
	"doc-translator/internal/engine"
	"doc-translator/internal/settings"
	"doc-translator/internal/task"
)

// Runner executes translation tasks. At most maxConcurrent runs hold the
// engine at once; the rest wait in FIFO order behind the semaphore with their
// tasks reported as queued.
type Runner struct {
	tasks    *task.Manager
	settings *settings.Store
	engine   engine.Engine
	sem      *semaphore.Weighted
	dataDir  string
}

// NewRunner creates a runner admitting at most maxConcurrent concurrent runs.
func NewRunner(tasks *task.Manager, store *settings.Store, eng engine.Engine, maxConcurrent int, dataDir string) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Runner{
		tasks:    tasks,
		settings: store,
		engine:   eng,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		dataDir:  dataDir,
	}
}

// Start launches the run for taskID in the background. The task must already
// exist in the queued state.
func (r *Runner) Start(ctx context.Context, taskID string) {
	go r.run(ctx, taskID)
}

func (r *Runner) run(ctx context.Context, taskID string) {
	// Any fault during a run becomes a failed task, never a crashed server.
	defer func() {
		if p := recover(); p != nil {
			slog.Error("panic during translation run", "task_id", taskID, "panic", p)
			r.fail(taskID, fmt.Sprintf("internal error: %v", p))
		}
	}()

	t, err := r.tasks.Get(taskID)
	if err != nil {
		slog.Error("run aborted: task lookup failed", "task_id", taskID, "error", err)
		return
	}

	if err := r.tasks.UpdateProgress(taskID, 0, "Waiting in queue...", db.TaskStatusQueued); err != nil {
		slog.Error("failed to report queued state", "task_id", taskID, "error", err)
		return
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.fail(taskID, "translation cancelled while waiting in queue")
		return
	}
	defer r.sem.Release(1)

	if err := r.tasks.UpdateProgress(taskID, 0, "Loading user settings...", db.TaskStatusProcessing); err != nil {
		slog.Error("failed to report processing state", "task_id", taskID, "error", err)
		return
	}

	cfg, err := r.buildConfig(t)
	if err != nil {
		r.fail(taskID, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		r.fail(taskID, err.Error())
		return
	}

	if err := r.tasks.UpdateProgress(taskID, 0, "Starting translation...", db.TaskStatusProcessing); err != nil {
		slog.Error("failed to report start", "task_id", taskID, "error", err)
		return
	}

	inputPath := r.uploadPath(t)
	outputDir := filepath.Join(r.dataDir, "users", t.Username, "outputs", taskID)

	events, err := r.engine.Run(ctx, cfg, inputPath, outputDir)
	if err != nil {
		r.fail(taskID, err.Error())
		return
	}

	r.consume(taskID, t, events)
}

// consume drains the engine's event channel to completion and applies each
// event to the task.
func (r *Runner) consume(taskID string, t *db.Task, events <-chan engine.Event) {
	terminal := false
	for evt := range events {
		switch e := evt.(type) {
		case engine.Progress:
			msg := formatProgress(e)
			if err := r.tasks.UpdateProgress(taskID, e.Overall, msg, db.TaskStatusProcessing); err != nil {
				slog.Error("failed to record progress", "task_id", taskID, "error", err)
			}
		case engine.Finish:
			monoPath, dualPath, err := r.renameOutputs(t, e.MonoPath, e.DualPath)
			if err != nil {
				r.fail(taskID, err.Error())
			} else if err := r.tasks.Complete(taskID, monoPath, dualPath); err != nil {
				slog.Error("failed to complete task", "task_id", taskID, "error", err)
			}
			terminal = true
		case engine.Failure:
			r.fail(taskID, e.Detail)
			terminal = true
		}
	}
	if !terminal {
		r.fail(taskID, "engine stopped without a result")
	}
}

func (r *Runner) fail(taskID, detail string) {
	if err := r.tasks.Fail(taskID, detail); err != nil {
		slog.Error("failed to record task failure", "task_id", taskID, "error", err)
	}
}

// buildConfig assembles the effective run configuration: server defaults,
// overlaid with the user's saved settings, overlaid with the per-request
// overrides captured in the task's settings snapshot.
func (r *Runner) buildConfig(t *db.Task) (engine.Config, error) {
	effective, err := r.settings.Get(t.Username)
	if err != nil {
		return engine.Config{}, fmt.Errorf("failed to load user settings: %w", err)
	}
	effective = r.settings.Defaults().Merge(effective)

	if t.SettingsSnapshot.Valid && t.SettingsSnapshot.String != "" {
		var overrides settings.Settings
		if err := json.Unmarshal([]byte(t.SettingsSnapshot.String), &overrides); err != nil {
			return engine.Config{}, fmt.Errorf("failed to decode settings snapshot: %w", err)
		}
		effective = effective.Merge(overrides)
	}

	return engine.Config{
		Model:      effective.Model,
		APIKey:     effective.APIKey,
		BaseURL:    effective.BaseURL,
		LangIn:     effective.LangIn,
		LangOut:    effective.LangOut,
		ChunkChars: effective.ChunkChars,
	}, nil
}

func (r *Runner) uploadPath(t *db.Task) string {
	name := t.FileID.String + "_" + t.OriginalFilename.String
	return filepath.Join(r.dataDir, "users", t.Username, "uploads", name)
}

// renameOutputs gives the engine's artifacts user-facing names derived from
// the originally uploaded filename.
func (r *Runner) renameOutputs(t *db.Task, monoPath, dualPath string) (string, string, error) {
	stem := strings.TrimSuffix(t.OriginalFilename.String, filepath.Ext(t.OriginalFilename.String))
	if stem == "" {
		return monoPath, dualPath, nil
	}

	dir := filepath.Dir(monoPath)
	finalMono := filepath.Join(dir, stem+"_mono.pdf")
	finalDual := filepath.Join(dir, stem+"_dual.pdf")

	if finalMono != monoPath {
		if err := os.Rename(monoPath, finalMono); err != nil {
			return "", "", fmt.Errorf("failed to move output: %w", err)
		}
	}
	if finalDual != dualPath {
		if err := os.Rename(dualPath, finalDual); err != nil {
			return "", "", fmt.Errorf("failed to move output: %w", err)
		}
	}
	return finalMono, finalDual, nil
}

// formatProgress renders an engine progress event as the task's user-visible
// message, e.g. "Translating (1/2, 2/5)".
func formatProgress(p engine.Progress) string {
	if p.PartIndex > 0 && p.TotalParts > 0 && p.StageTotal > 0 {
		return fmt.Sprintf("%s (%d/%d, %d/%d)", p.Stage, p.PartIndex, p.TotalParts, p.StageCurrent, p.StageTotal)
	}
	return p.Stage + "..."
}
