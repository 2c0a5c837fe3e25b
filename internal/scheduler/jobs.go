package scheduler

import (
	"context"
	"fmt"
	"time"

	"courtbook/internal/models"

	"github.com/rs/zerolog"
)

// SlotMaintainer is the storage side of the maintenance jobs.
type SlotMaintainer interface {
	EnsureSlotRecords(ctx context.Context, date time.Time) (int64, error)
	ExpirePastRecords(ctx context.Context, before time.Time) (int64, error)
}

type BackupRunner interface {
	Run(ctx context.Context) error
}

// Jobs holds the periodic slot maintenance work.
type Jobs struct {
	slots    SlotMaintainer
	backup   BackupRunner
	days     int
	location *time.Location
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewJobs(slots SlotMaintainer, backup BackupRunner, pregenerateDays int, location *time.Location, logger *zerolog.Logger) *Jobs {
	if pregenerateDays <= 0 {
		pregenerateDays = models.DefaultPregenerateDays
	}
	if location == nil {
		location = time.Local
	}
	return &Jobs{
		slots:    slots,
		backup:   backup,
		days:     pregenerateDays,
		location: location,
		now:      time.Now,
		logger:   logger,
	}
}

func (j *Jobs) today() time.Time {
	return models.DateOnly(j.now().In(j.location))
}

// Pregenerate makes sure every template has a record for today and the
// following days. Existing records are not touched.
func (j *Jobs) Pregenerate(ctx context.Context) error {
	today := j.today()
	var created int64
	for i := 0; i < j.days; i++ {
		n, err := j.slots.EnsureSlotRecords(ctx, today.AddDate(0, 0, i))
		if err != nil {
			return fmt.Errorf("pregenerate day %d: %w", i, err)
		}
		created += n
	}
	j.logger.Info().Int64("created", created).Int("days", j.days).Msg("slot records pregenerated")
	return nil
}

// Expire retires available records of past days.
func (j *Jobs) Expire(ctx context.Context) error {
	n, err := j.slots.ExpirePastRecords(ctx, j.today())
	if err != nil {
		return err
	}
	j.logger.Info().Int64("expired", n).Msg("past slot records expired")
	return nil
}

func (j *Jobs) Backup(ctx context.Context) error {
	if j.backup == nil {
		return nil
	}
	return j.backup.Run(ctx)
}
