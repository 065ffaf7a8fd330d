package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/models"
	"github.com/noah-isme/sma-booking-api/pkg/jobs"
	"github.com/noah-isme/sma-booking-api/pkg/mailer"
)

// Notification job types.
const (
	NotificationBooked    = "appointment.booked"
	NotificationCancelled = "appointment.cancelled"
)

// NotificationConfig sizes the delivery worker pool.
type NotificationConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Location   *time.Location
}

// NotificationService sends booking emails from a background queue so that
// SMTP latency or failures never affect the booking request.
type NotificationService struct {
	queue    *jobs.Queue
	sender   mailer.Sender
	metrics  *MetricsService
	logger   *zap.Logger
	location *time.Location
}

// NewNotificationService constructs the service and its queue. Call Start before use.
func NewNotificationService(sender mailer.Sender, metrics *MetricsService, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &NotificationService{sender: sender, metrics: metrics, logger: logger, location: cfg.Location}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop waits for in-flight deliveries.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// AppointmentBooked notifies the parent and the teacher.
func (s *NotificationService) AppointmentBooked(ctx context.Context, appt models.AppointmentDetail) {
	when := s.describeSlot(appt)
	s.enqueue(NotificationBooked, mailer.Message{
		To:      appt.ParentEmail,
		Subject: "Appointment confirmed with " + appt.TeacherName,
		Text: fmt.Sprintf("Dear %s,\n\nYour appointment with %s about %s is confirmed for %s.\nAppointment reference: %s\n",
			appt.ParentName, appt.TeacherName, appt.StudentName, when, appt.ID),
	})
	s.enqueue(NotificationBooked, mailer.Message{
		To:      appt.TeacherEmail,
		Subject: "New appointment: " + appt.StudentName,
		Text: fmt.Sprintf("%s (parent of %s) booked %s.\nPhone: %s\nNotes: %s\n",
			appt.ParentName, appt.StudentName, when, appt.ParentPhone, appt.Notes),
	})
}

// AppointmentCancelled notifies the side that did not cancel.
func (s *NotificationService) AppointmentCancelled(ctx context.Context, appt models.AppointmentDetail) {
	reason := "no reason given"
	if appt.CancellationReason != nil {
		reason = *appt.CancellationReason
	}
	when := s.describeSlot(appt)
	if appt.CancelledBy != nil && *appt.CancelledBy == models.CallerParent {
		s.enqueue(NotificationCancelled, mailer.Message{
			To:      appt.TeacherEmail,
			Subject: "Appointment cancelled: " + appt.StudentName,
			Text:    fmt.Sprintf("%s cancelled the appointment on %s.\nReason: %s\n", appt.ParentName, when, reason),
		})
		return
	}
	s.enqueue(NotificationCancelled, mailer.Message{
		To:      appt.ParentEmail,
		Subject: "Appointment with " + appt.TeacherName + " cancelled",
		Text:    fmt.Sprintf("Dear %s,\n\nYour appointment on %s has been cancelled by the school.\nReason: %s\nPlease book another slot.\n", appt.ParentName, when, reason),
	})
}

func (s *NotificationService) describeSlot(appt models.AppointmentDetail) string {
	start := appt.StartTime.In(s.location)
	return fmt.Sprintf("%s %s-%s", start.Format("Monday 2 January 2006"), start.Format("15:04"), appt.EndTime.In(s.location).Format("15:04"))
}

func (s *NotificationService) enqueue(kind string, msg mailer.Message) {
	if strings.TrimSpace(msg.To) == "" {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: kind, Payload: msg}); err != nil {
		s.metrics.RecordNotification(kind, err)
		s.logger.Warn("notification dropped", zap.String("type", kind), zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	err := s.sender.Send(ctx, msg)
	s.metrics.RecordNotification(job.Type, err)
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
