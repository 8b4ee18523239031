package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Strob0t/elicitor/internal/adapter/otel"
	"github.com/Strob0t/elicitor/internal/config"
)

const sweepTimeout = 2 * time.Minute

// SweepJob is one periodic background task. It returns how many rows it changed.
type SweepJob func(ctx context.Context) (int, error)

// SweepService runs the periodic sweeps on cron schedules. Overlapping runs
// of the same job are skipped.
type SweepService struct {
	cron *cron.Cron
	jobs map[string]cron.EntryID
}

// NewSweepService creates a scheduler that parses specs with
// config.SweepParser.
func NewSweepService() *SweepService {
	log := cronLogger{}
	return &SweepService{
		cron: cron.New(
			cron.WithParser(config.SweepParser),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
			cron.WithLogger(log),
		),
		jobs: make(map[string]cron.EntryID),
	}
}

// Add schedules job under name. An empty spec disables the job.
func (s *SweepService) Add(name, spec string, job SweepJob) error {
	if spec == "" {
		slog.Info("sweep disabled", "sweep", name)
		return nil
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule sweep %s (%q): %w", name, spec, err)
	}
	s.jobs[name] = id
	slog.Info("sweep scheduled", "sweep", name, "spec", spec)
	return nil
}

func (s *SweepService) run(name string, job SweepJob) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	ctx, span := otel.StartSweepSpan(ctx, name)
	defer span.End()

	start := time.Now()
	n, err := job(ctx)
	if err != nil {
		slog.Error("sweep failed", "sweep", name, "changed", n, "error", err)
		return
	}
	if n > 0 {
		slog.Info("sweep completed", "sweep", name, "changed", n, "duration", time.Since(start))
	}
}

// Start begins running scheduled sweeps in the background.
func (s *SweepService) Start() { s.cron.Start() }

// Stop prevents new runs and returns a context that is done once running
// sweeps have finished.
func (s *SweepService) Stop() context.Context { return s.cron.Stop() }

// Scheduled reports the names of the active sweeps.
func (s *SweepService) Scheduled() []string {
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	return names
}

// RegisterSweeps wires the standard sweeps to their configured schedules.
func RegisterSweeps(s *SweepService, cfg config.Sweep, batches *BatchService, escalations *EscalationService, elicitations *ElicitationService) error {
	jobs := []struct {
		name string
		spec string
		job  SweepJob
	}{
		{"batch_close", cfg.BatchClose, batches.CloseDue},
		{"batch_expiry", cfg.BatchExpiry, batches.ExpireStale},
		{"escalation_timeouts", cfg.EscalationTimeouts, escalations.CheckTimeouts},
		{"request_expiry", cfg.RequestExpiry, elicitations.ExpireRequests},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.job); err != nil {
			return err
		}
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
