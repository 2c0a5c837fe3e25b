package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"courtbook/internal/config"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyJobName  = errors.New("job name is required")
	ErrEmptyCronExpr = errors.New("cron expression is required")
)

const jobTimeout = 10 * time.Minute

// Service wraps a gocron scheduler running the maintenance jobs.
type Service struct {
	scheduler gocron.Scheduler
	logger    *zerolog.Logger
	stopOnce  sync.Once
	stopErr   error
}

func NewService(location *time.Location, logger *zerolog.Logger) (*Service, error) {
	if location == nil {
		location = time.Local
	}
	sched, err := gocron.NewScheduler(
		gocron.WithLocation(location),
		gocron.WithGlobalJobOptions(
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
					logger.Error().
						Str("job_id", jobID.String()).
						Str("job_name", jobName).
						Interface("panic", recoverData).
						Msg("Scheduler job panicked")
				}),
			),
		),
	)
	if err != nil {
		return nil, err
	}
	return &Service{scheduler: sched, logger: logger}, nil
}

// RegisterJobs adds the pregenerate, expire and backup jobs using the crons
// from cfg.
func (s *Service) RegisterJobs(cfg config.SchedulerConfig, jobs *Jobs) error {
	for _, j := range []struct {
		name string
		cron string
		task func(context.Context) error
	}{
		{"pregenerate_slots", cfg.PregenerateCron, jobs.Pregenerate},
		{"expire_slots", cfg.ExpireCron, jobs.Expire},
		{"backup", cfg.BackupCron, jobs.Backup},
	} {
		if _, err := s.AddJob(j.name, j.cron, j.task); err != nil {
			return err
		}
	}
	return nil
}

// AddJob registers a cron-based job. A run still in progress when the next
// one is due makes the next one wait.
func (s *Service) AddJob(name, cronExpr string, task func(context.Context) error) (gocron.Job, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyJobName
	}
	if strings.TrimSpace(cronExpr) == "" {
		return nil, ErrEmptyCronExpr
	}
	jobLogger := s.logger.With().Str("job_name", name).Str("cron", cronExpr).Logger()

	wrappedTask := func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := task(ctx); err != nil {
			jobLogger.Error().Err(err).Msg("Scheduler job failed")
			return
		}
		jobLogger.Debug().Dur("took", time.Since(start)).Msg("Scheduler job completed")
	}

	job, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(wrappedTask),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeWait),
	)
	if err != nil {
		jobLogger.Error().Err(err).Msg("Failed to register scheduler job")
		return nil, err
	}
	jobLogger.Info().Msg("Scheduler job registered")
	return job, nil
}

func (s *Service) Jobs() []gocron.Job {
	return s.scheduler.Jobs()
}

func (s *Service) Start() {
	s.logger.Info().Msg("Scheduler starting")
	s.scheduler.Start()
}

// Stop shuts the scheduler down; later calls return the first result.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Scheduler stopping")
		s.stopErr = s.scheduler.Shutdown()
	})
	return s.stopErr
}
