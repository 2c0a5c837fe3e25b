package domain

import (
	"context"
	"time"

	"courtbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TxRunner runs fn inside one database transaction carried by the context.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type CourtRepository interface {
	GetCourt(ctx context.Context, id int64) (*models.Court, error)
	ListCourtsByVenue(ctx context.Context, venueID int64) ([]*models.Court, error)
}

type SlotTemplateRepository interface {
	GetSlotTemplatesByIDs(ctx context.Context, ids []int64) ([]*models.SlotTemplate, error)
	ListSlotTemplatesByCourt(ctx context.Context, courtID int64) ([]*models.SlotTemplate, error)
}

type SlotRecordRepository interface {
	GetSlotRecords(ctx context.Context, templateIDs []int64, date time.Time) (map[int64]*models.SlotRecord, error)
	InsertSlotRecord(ctx context.Context, record *models.SlotRecord) error
	CompareAndSetSlotStatus(ctx context.Context, recordID int64, from, to models.SlotStatus, op models.Operator) (int64, error)
}

type ActivityRepository interface {
	CreateActivity(ctx context.Context, activity *models.Activity) error
	CreateActivitySlotLocks(ctx context.Context, locks []models.ActivitySlotLock) error
	GetActiveActivityLocks(ctx context.Context, templateIDs []int64, date time.Time) (map[int64]*models.ActivitySlotLock, error)
	GetActivity(ctx context.Context, id int64) (*models.Activity, error)
	ListActivityLocks(ctx context.Context, activityID int64) ([]models.ActivitySlotLock, error)
	AddParticipants(ctx context.Context, activityID int64, delta int) (int64, error)
	CancelActivity(ctx context.Context, activityID int64) (int64, error)
	ReleaseActivityLocks(ctx context.Context, activityID int64) (int64, error)
}

type PriceRepository interface {
	GetEnabledPriceTemplate(ctx context.Context, venueID int64) (*models.PriceTemplate, error)
	ListPriceOverrides(ctx context.Context, venueID int64, date time.Time) ([]models.PriceOverride, error)
	ListExtraChargeTemplates(ctx context.Context, venueID int64, level models.ChargeLevel) ([]models.ExtraChargeTemplate, error)
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
}

// SlotStore is everything the coordinators need from persistence.
type SlotStore interface {
	TxRunner
	CourtRepository
	SlotTemplateRepository
	SlotRecordRepository
	ActivityRepository
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ResponseStore keeps API responses by idempotency key. Get returns nil, nil
// for an unknown or expired key.
type ResponseStore interface {
	Get(ctx context.Context, key string) (*models.StoredResponse, error)
	Put(ctx context.Context, key string, resp *models.StoredResponse) error
}
