package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	allocation "energy-allocation/internal/allocation/domain"
	"energy-allocation/internal/observability/metrics"
)

// Job is a scheduled unit of work.
type Job interface {
	Run() error
	Name() string
}

// Scheduler runs jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler creates a scheduler. Schedules take a leading seconds field.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job under a cron schedule such as "0 0 2 1 * *".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("running job")
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// MonthlyCalculationJob recalculates the previous month for a set of
// generator companies with unrestricted site access.
type MonthlyCalculationJob struct {
	service   *Service
	companies []string
	clock     Clock
	timeout   time.Duration
}

// NewMonthlyCalculationJob constructs the job.
func NewMonthlyCalculationJob(service *Service, companies []string, clock Clock, timeout time.Duration) (*MonthlyCalculationJob, error) {
	if service == nil {
		return nil, errors.New("monthly job: nil service")
	}
	if len(companies) == 0 {
		return nil, errors.New("monthly job: no companies")
	}
	if clock == nil {
		clock = systemClock{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &MonthlyCalculationJob{service: service, companies: companies, clock: clock, timeout: timeout}, nil
}

// Name identifies the job in logs.
func (j *MonthlyCalculationJob) Name() string { return "monthly-allocation" }

// Month returns the month the job targets: the one before now.
func (j *MonthlyCalculationJob) Month() allocation.MonthKey {
	now := j.clock.Now().UTC()
	return allocation.MonthKeyOf(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0))
}

// Run calculates every configured company. A failing company does not stop
// the others.
func (j *MonthlyCalculationJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	month := j.Month()
	var errs []error
	for _, companyID := range j.companies {
		if _, err := j.service.calculate(ctx, companyID, month, allocation.AllowAllSites{}, metrics.TriggerSchedule); err != nil {
			errs = append(errs, fmt.Errorf("company %s: %w", companyID, err))
		}
	}
	return errors.Join(errs...)
}
