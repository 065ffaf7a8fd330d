package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/models"
	"github.com/noah-isme/sma-booking-api/pkg/mailer"
)

type recordingSender struct {
	mu       sync.Mutex
	sent     []mailer.Message
	failures int
}

func (r *recordingSender) Send(ctx context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("smtp unavailable")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) messages() []mailer.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mailer.Message(nil), r.sent...)
}

func startNotifications(t *testing.T, sender mailer.Sender) *NotificationService {
	t.Helper()
	svc := NewNotificationService(sender, NewMetricsService(), zap.NewNop(), NotificationConfig{
		Workers:    1,
		BufferSize: 8,
		MaxRetries: 2,
		RetryDelay: 5 * time.Millisecond,
	})
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)
	return svc
}

func bookedDetail() models.AppointmentDetail {
	return models.AppointmentDetail{
		Appointment: models.Appointment{
			ID:          "appt-1",
			StartTime:   mondayAt(9, 20),
			EndTime:     mondayAt(9, 40),
			ParentName:  "Ibu Andi",
			ParentEmail: "parent.a@mail.test",
			Status:      models.AppointmentBooked,
		},
		TeacherName:  "Bu Sari",
		TeacherEmail: "sari@school.test",
		StudentName:  "Andi",
	}
}

func TestNotifyBookedMailsParentAndTeacher(t *testing.T) {
	sender := &recordingSender{}
	svc := startNotifications(t, sender)

	svc.AppointmentBooked(context.Background(), bookedDetail())

	require.Eventually(t, func() bool { return len(sender.messages()) == 2 }, time.Second, 5*time.Millisecond)
	recipients := []string{sender.messages()[0].To, sender.messages()[1].To}
	assert.ElementsMatch(t, []string{"parent.a@mail.test", "sari@school.test"}, recipients)
	for _, msg := range sender.messages() {
		if msg.To == "parent.a@mail.test" {
			assert.Contains(t, msg.Text, "Monday 7 January 2030 09:20-09:40")
		}
	}
}

func TestNotifyCancelledMailsOtherSide(t *testing.T) {
	sender := &recordingSender{}
	svc := startNotifications(t, sender)

	byParent := bookedDetail()
	parent := models.CallerParent
	byParent.CancelledBy = &parent
	svc.AppointmentCancelled(context.Background(), byParent)

	byTeacher := bookedDetail()
	teacher := models.CallerTeacher
	reason := "staff meeting"
	byTeacher.CancelledBy = &teacher
	byTeacher.CancellationReason = &reason
	svc.AppointmentCancelled(context.Background(), byTeacher)

	require.Eventually(t, func() bool { return len(sender.messages()) == 2 }, time.Second, 5*time.Millisecond)
	var toParent mailer.Message
	for _, msg := range sender.messages() {
		if msg.To == "parent.a@mail.test" {
			toParent = msg
		}
	}
	assert.Contains(t, toParent.Text, "staff meeting")
}

func TestNotifySkipsMissingRecipientAndRetries(t *testing.T) {
	sender := &recordingSender{failures: 1}
	svc := startNotifications(t, sender)

	appt := bookedDetail()
	appt.ParentEmail = ""
	svc.AppointmentBooked(context.Background(), appt)

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "sari@school.test", sender.messages()[0].To)
}
