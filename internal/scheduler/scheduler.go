package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cascadehq/cascade/pkg/schema"
)

// Runner starts one execution of a workflow definition. Satisfied by a thin
// wrapper over the engine (avoids an import cycle).
type Runner interface {
	RunScheduled(ctx context.Context, def *schema.WorkflowDefinition, trigger schema.TriggerDefinition) error
}

// Scheduler fires workflow definitions on their schedule triggers.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string][]cron.EntryID // registration key → cron entries

	inflightMu sync.Mutex
	inflight   map[string]struct{} // trigger keys currently executing (dedup)
}

// NewScheduler creates a Scheduler. Nothing fires until Start is called.
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		runner:   runner,
		logger:   logger,
		entries:  make(map[string][]cron.EntryID),
		inflight: make(map[string]struct{}),
	}
}

// Register adds all schedule triggers of a definition under the given key.
// Registering an existing key replaces its triggers.
func (s *Scheduler) Register(key string, def *schema.WorkflowDefinition) error {
	if key == "" {
		return fmt.Errorf("registration key is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)

	var ids []cron.EntryID
	for i, trigger := range def.Triggers {
		if trigger.Type != "schedule" {
			continue
		}
		triggerKey := fmt.Sprintf("%s/%d", key, i)
		id, err := s.cron.AddFunc(trigger.CronExpression, s.job(triggerKey, def, trigger))
		if err != nil {
			for _, added := range ids {
				s.cron.Remove(added)
			}
			return fmt.Errorf("trigger %d of %q: %w", i, key, err)
		}
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		s.entries[key] = ids
	}
	return nil
}

// Unregister removes all triggers registered under the key.
func (s *Scheduler) Unregister(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
}

func (s *Scheduler) removeLocked(key string) {
	for _, id := range s.entries[key] {
		s.cron.Remove(id)
	}
	delete(s.entries, key)
}

// job builds the firing closure for one trigger. A firing is skipped while
// the previous one for the same trigger is still running.
func (s *Scheduler) job(triggerKey string, def *schema.WorkflowDefinition, trigger schema.TriggerDefinition) func() {
	return func() {
		if !s.tryAcquire(triggerKey) {
			s.logger.Warn("skipping overlapping scheduled run", slog.String("trigger", triggerKey))
			return
		}
		defer s.release(triggerKey)

		s.logger.Info("running scheduled workflow",
			slog.String("trigger", triggerKey),
			slog.String("workflow", def.Name))

		if err := s.runner.RunScheduled(context.Background(), def, trigger); err != nil {
			s.logger.Error("scheduled run failed",
				slog.String("trigger", triggerKey),
				slog.String("error", err.Error()))
		}
	}
}

// Start launches the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops firing new jobs and waits for running ones to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// NextRun computes the next firing time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

func (s *Scheduler) tryAcquire(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[key]; ok {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, key)
}
