package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Notification is one merchant message waiting for delivery.
type Notification struct {
	EventType string    `json:"event_type"`
	ChatID    int64     `json:"chat_id"`
	Text      string    `json:"text"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// NotifyWorker delivers slot and activity events to the merchant Telegram
// chat. Deliveries go through redis when a client is configured and through
// an in-memory queue otherwise.
type NotifyWorker struct {
	sender        domain.TelegramSender
	chatID        int64
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan Notification
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration

	// enqueueTimeout bounds the redis push done on the publisher's goroutine.
	enqueueTimeout time.Duration
	logger         *zerolog.Logger
}

func NewNotifyWorker(sender domain.TelegramSender, chatID int64, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *NotifyWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &NotifyWorker{
		sender:        sender,
		chatID:        chatID,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan Notification, 128),
		redisQueueKey: "notify:queue",
		deadLetterKey: "notify:deadletter",
		pollInterval:  time.Second,
		logger:        logger,

		enqueueTimeout: 500 * time.Millisecond,
	}
}

// Subscribe registers the worker for every slot and activity event.
func (w *NotifyWorker) Subscribe(bus *events.EventBus) {
	for _, eventType := range []string{
		events.EventSlotsReserved,
		events.EventSlotsReleased,
		events.EventSlotsBlocked,
		events.EventSlotsUnblocked,
		events.EventActivityCreated,
		events.EventActivityCancelled,
	} {
		bus.Subscribe(eventType, w.HandleEvent)
	}
}

// HandleEvent formats the event and queues it. It runs on the publisher's
// goroutine, so the redis push is bounded by enqueueTimeout.
func (w *NotifyWorker) HandleEvent(event *events.Event) error {
	text, err := FormatEvent(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.enqueueTimeout)
	defer cancel()
	return w.Enqueue(ctx, Notification{
		EventType: event.Type,
		ChatID:    w.chatID,
		Text:      text,
		CreatedAt: event.CreatedAt,
	})
}

// Enqueue schedules a notification via redis or the in-memory queue.
func (w *NotifyWorker) Enqueue(ctx context.Context, n Notification) error {
	if n.Text == "" {
		return errors.New("notification text is required")
	}
	if n.ChatID == 0 {
		n.ChatID = w.chatID
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, n); err != nil {
			w.logger.Warn().Err(err).Msg("notify_worker: redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- n:
		return nil
	default:
		return fmt.Errorf("notify_worker: queue full, %s notification dropped", n.EventType)
	}
}

// Start runs the delivery loop until ctx is done.
func (w *NotifyWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notify_worker: started")
	defer w.logger.Info().Msg("notify_worker: stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if n, ok := w.tryLocalQueue(); ok {
			w.process(ctx, &n)
			continue
		}
		if n, ok := w.tryRedis(ctx); ok {
			w.process(ctx, &n)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case n := <-w.queue:
			w.process(ctx, &n)
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *NotifyWorker) tryLocalQueue() (Notification, bool) {
	select {
	case n := <-w.queue:
		return n, true
	default:
		return Notification{}, false
	}
}

func (w *NotifyWorker) tryRedis(ctx context.Context) (Notification, bool) {
	if w.redis == nil {
		return Notification{}, false
	}
	res, err := w.redis.BRPop(ctx, w.pollInterval, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("notify_worker: redis BRPOP error")
		}
		return Notification{}, false
	}
	if len(res) != 2 {
		return Notification{}, false
	}
	var n Notification
	if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
		w.logger.Error().Err(err).Msg("notify_worker: decode redis notification")
		return Notification{}, false
	}
	return n, true
}

func (w *NotifyWorker) process(ctx context.Context, n *Notification) {
	_, err := w.sender.Send(tgbotapi.NewMessage(n.ChatID, n.Text))
	if err == nil {
		return
	}
	w.retryOrFail(ctx, n, err)
}

func (w *NotifyWorker) retryOrFail(ctx context.Context, n *Notification, cause error) {
	n.Attempt++
	if w.retryPolicy.Exhausted(n.Attempt) {
		w.logger.Error().Err(cause).Str("event_type", n.EventType).Int("attempts", n.Attempt).
			Msg("notify_worker: delivery failed")
		w.pushDeadLetter(ctx, n)
		return
	}

	delay := w.retryPolicy.NextDelay(n.Attempt)
	w.logger.Warn().Err(cause).Str("event_type", n.EventType).Dur("retry_in", delay).Msg("notify_worker: delivery retry")

	retry := *n
	time.AfterFunc(delay, func() {
		if err := w.Enqueue(context.Background(), retry); err != nil {
			w.logger.Error().Err(err).Msg("notify_worker: requeue failed")
		}
	})
}

func (w *NotifyWorker) pushRedis(ctx context.Context, key string, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *NotifyWorker) pushDeadLetter(ctx context.Context, n *Notification) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(context.WithoutCancel(ctx), w.deadLetterKey, *n); err != nil {
		w.logger.Error().Err(err).Msg("notify_worker: deadletter push")
	}
}

// FormatEvent renders the merchant message for an event.
func FormatEvent(event *events.Event) (string, error) {
	switch event.Type {
	case events.EventActivityCreated, events.EventActivityCancelled:
		var p events.ActivityEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return "", fmt.Errorf("decode %s payload: %w", event.Type, err)
		}
		verb := "New activity"
		if event.Type == events.EventActivityCancelled {
			verb = "Activity cancelled"
		}
		return fmt.Sprintf("%s: %s\nCourt %d, %s %s-%s\nUp to %d participants",
			verb, p.Name, p.CourtID, p.BookingDate, p.StartTime, p.EndTime, p.MaxParticipants), nil

	case events.EventSlotsReserved, events.EventSlotsReleased, events.EventSlotsBlocked, events.EventSlotsUnblocked:
		var p events.SlotEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return "", fmt.Errorf("decode %s payload: %w", event.Type, err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %d slot(s) on %s, courts %s", slotVerb(event.Type), len(p.SlotTemplateIDs), p.BookingDate, joinInts(p.CourtIDs))
		if p.Total > 0 {
			fmt.Fprintf(&b, "\nTotal: %d.%02d", p.Total/100, p.Total%100)
		}
		if p.Reason != "" {
			fmt.Fprintf(&b, "\nReason: %s", p.Reason)
		}
		return b.String(), nil

	default:
		return "", fmt.Errorf("unsupported event type %q", event.Type)
	}
}

func slotVerb(eventType string) string {
	switch eventType {
	case events.EventSlotsReserved:
		return "Reserved"
	case events.EventSlotsReleased:
		return "Released"
	case events.EventSlotsBlocked:
		return "Blocked"
	default:
		return "Unblocked"
	}
}

func joinInts(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
