// Package notification delivers fire-and-forget web push events to
// subscribed parents. Delivery failures are logged and never surfaced to
// the operation that triggered them.
package notification

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"gorm.io/gorm"

	"schoolbus-tracking-backend/internal/metrics"
	"schoolbus-tracking-backend/internal/model"
)

// Event kinds dispatched by the engine.
const (
	KindArrivalAtSchool = "arrival_at_school"
	KindStudentBoarded  = "student_boarded"
	KindStudentAlighted = "student_alighted"
	KindDelayDetected   = "delay_detected"
)

// Event is one notification trigger. StudentID is empty for bus-level
// events (arrival, delay), which fan out to every subscriber of a student
// assigned to the bus.
type Event struct {
	Kind      string `json:"kind"`
	BusID     string `json:"busId"`
	StudentID string `json:"studentId,omitempty"`
	Title     string `json:"title"`
	Message   string `json:"message"`
}

// Sender sends a single web push notification. Split out so tests can fake
// delivery.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender backed by the webpush library.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans events out to push subscriptions on a fixed set of
// workers.
type WorkerPool struct {
	size    int
	jobs    chan Event
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
	wg      conc.WaitGroup
}

// NewWorkerPool creates a worker pool of the given size.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Event, size*4),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// SetSender replaces the delivery backend. For tests.
func (wp *WorkerPool) SetSender(s Sender) {
	wp.sender = s
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		id := i
		wp.wg.Go(func() { wp.worker(ctx, id) })
	}
}

// Wait blocks until all workers have exited.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Dispatch hands an event to the pool without blocking the caller. If the
// queue is full the event is dropped and logged; the triggering state
// mutation has already committed.
func (wp *WorkerPool) Dispatch(evt Event) {
	metrics.NotificationsDispatched.WithLabelValues(evt.Kind).Inc()
	select {
	case wp.jobs <- evt:
	default:
		log.Warn().Str("kind", evt.Kind).Str("bus", evt.BusID).Msg("notification queue full, dropping event")
	}
}

// Jobs returns the jobs channel. For tests.
func (wp *WorkerPool) Jobs() chan Event {
	return wp.jobs
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Debug().Int("worker", id).Msg("notification worker started")
	for {
		select {
		case evt := <-wp.jobs:
			wp.deliver(ctx, evt)
		case <-ctx.Done():
			log.Debug().Int("worker", id).Msg("notification worker shutting down")
			return
		}
	}
}

// deliver resolves the subscriptions an event applies to and pushes to each.
func (wp *WorkerPool) deliver(ctx context.Context, evt Event) {
	var subscriptions []model.PushSubscription
	q := wp.db.WithContext(ctx).
		Joins("JOIN subscription_student_mapping ssm ON ssm.push_subscription_endpoint = push_subscriptions.endpoint").
		Joins("JOIN students ON students.id = ssm.student_id")
	if evt.StudentID != "" {
		q = q.Where("students.id = ?", evt.StudentID)
	} else {
		q = q.Where("students.bus_id = ?", evt.BusID)
	}
	if err := q.Distinct("push_subscriptions.*").Find(&subscriptions).Error; err != nil {
		log.Error().Err(err).Str("kind", evt.Kind).Str("bus", evt.BusID).Msg("failed to resolve subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal notification payload")
		return
	}

	log.Info().Str("kind", evt.Kind).Str("bus", evt.BusID).Int("subscribers", len(subscriptions)).
		Msg("sending notifications")
	for _, sub := range subscriptions {
		wp.send(ctx, sub, payload)
	}
}

func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		metrics.NotificationSendFailures.Inc()
		log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send notification")
		return
	}
	defer resp.Body.Close()

	// 410 means the browser dropped the subscription.
	if resp.StatusCode == http.StatusGone {
		log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.db.WithContext(ctx).Select("Students").Delete(&sub).Error; err != nil {
			log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
