package ledger

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/liftdao/finance-layer/internal/app/system"
	"github.com/liftdao/finance-layer/pkg/logger"
)

// Sweeper runs integrity reports for registered projects on a cron schedule.
// The verifier itself stays on demand; the sweeper is just an external caller
// wired into the application lifecycle.
type Sweeper struct {
	service  *Service
	schedule string
	log      *logger.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	projects map[int64]bool
	running  bool
}

var _ system.Service = (*Sweeper)(nil)

// NewSweeper creates a sweeper. An empty schedule defaults to hourly.
func NewSweeper(service *Service, schedule string, log *logger.Logger) *Sweeper {
	if schedule == "" {
		schedule = "@hourly"
	}
	if log == nil {
		log = logger.NewDefault("ledger-sweeper")
	}
	return &Sweeper{
		service:  service,
		schedule: schedule,
		log:      log,
		projects: make(map[int64]bool),
	}
}

func (s *Sweeper) Name() string { return "ledger-sweeper" }

// Watch registers a project for periodic verification.
func (s *Sweeper) Watch(projectID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[projectID] = true
}

// Unwatch stops sweeping a project.
func (s *Sweeper) Unwatch(projectID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("ledger sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.running = false
	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		report, err := s.service.IntegrityReport(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("project_id", id).Warn("integrity sweep failed")
			continue
		}
		if report.HealthScore < 100 {
			s.log.WithField("project_id", id).
				WithField("health_score", report.HealthScore).
				WithField("failed_checks", len(report.Recommendations)).
				Warn("integrity sweep found violations")
		}
	}
}
