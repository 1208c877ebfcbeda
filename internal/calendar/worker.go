package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

const (
	defaultWorkerCount   = 1
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	deleteTimeoutSeconds = 5
)

// AppointmentSource loads and annotates appointments.
type AppointmentSource interface {
	Appointment(ctx context.Context, id string) (*records.Appointment, error)
	MarkCalendarSynced(ctx context.Context, id, eventID, link string) error
}

// EventCreator creates calendar events.
type EventCreator interface {
	Create(ctx context.Context, creds Credentials, appt records.Appointment) SyncResult
}

// BookingNotifier is told about every processed booking.
type BookingNotifier interface {
	AppointmentBooked(ctx context.Context, appt records.Appointment) error
}

// SyncObserver records job outcomes.
type SyncObserver interface {
	ObserveCalendarSync(outcome string)
}

type workerConfig struct {
	workers     int
	waitSeconds int
	batchSize   int
	notifier    BookingNotifier
	observer    SyncObserver
}

type WorkerOption func(*workerConfig)

func WithWorkerCount(n int) WorkerOption {
	return func(c *workerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithReceiveWaitSeconds(s int) WorkerOption {
	return func(c *workerConfig) {
		if s >= 0 && s <= 20 {
			c.waitSeconds = s
		}
	}
}

// WithNotifier sends a booking confirmation for every job.
func WithNotifier(n BookingNotifier) WorkerOption {
	return func(c *workerConfig) { c.notifier = n }
}

func WithSyncObserver(o SyncObserver) WorkerOption {
	return func(c *workerConfig) { c.observer = o }
}

// Worker consumes sync jobs. Jobs are deleted after one attempt whatever the
// outcome; a failed sync is logged and the appointment stays unsynced.
type Worker struct {
	queue        Queue
	appointments AppointmentSource
	creds        CredentialStore
	events       EventCreator
	logger       *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

func NewWorker(queue Queue, appointments AppointmentSource, creds CredentialStore, events EventCreator, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("calendar: queue cannot be nil")
	}
	if appointments == nil || creds == nil || events == nil {
		panic("calendar: worker dependencies cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{workers: defaultWorkerCount, waitSeconds: defaultWaitSeconds, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{queue: queue, appointments: appointments, creds: creds, events: events, logger: logger, cfg: cfg}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("calendar worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("calendar worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.batchSize, w.cfg.waitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive calendar jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg Message) {
	defer w.deleteMessage(msg.ReceiptHandle)

	var job Job
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		w.logger.Error("failed to decode calendar job", "error", err, "msg_id", msg.ID)
		w.observe("invalid")
		return
	}
	log := w.logger.ForUser(job.UserID).With("job_id", job.ID, "appointment_id", job.AppointmentID)

	appt, err := w.appointments.Appointment(ctx, job.AppointmentID)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			log.Info("appointment gone before sync")
			w.observe("skipped")
			return
		}
		log.Error("failed to load appointment", "error", err)
		w.observe("error")
		return
	}

	if w.cfg.notifier != nil {
		if err := w.cfg.notifier.AppointmentBooked(ctx, *appt); err != nil {
			log.Warn("booking confirmation failed", "error", err)
		}
	}

	creds, err := w.creds.Load(ctx, appt.UserID)
	if err != nil {
		if errors.Is(err, ErrNotAuthorized) {
			log.Debug("calendar not connected, skipping sync")
			w.observe("unauthorized")
			return
		}
		log.Error("failed to load calendar credentials", "error", err)
		w.observe("error")
		return
	}

	res := w.events.Create(ctx, *creds, *appt)
	if !res.Success {
		log.Warn("calendar sync failed", "error", res.Error, "message", res.Message)
		w.observe("failed")
		return
	}
	if err := w.appointments.MarkCalendarSynced(ctx, appt.ID, res.EventID, res.EventLink); err != nil {
		log.Error("failed to record calendar event", "error", err, "event_id", res.EventID)
		w.observe("error")
		return
	}
	log.Info("appointment synced to calendar", "event_id", res.EventID)
	w.observe("synced")
}

func (w *Worker) observe(outcome string) {
	if w.cfg.observer != nil {
		w.cfg.observer.ObserveCalendarSync(outcome)
	}
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete calendar job", "error", err)
	}
}
