package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/platform/config"
)

func TestClassifyUrgency(t *testing.T) {
	assert.Equal(t, UrgencyMild, ClassifyUrgency(0))
	assert.Equal(t, UrgencyMild, ClassifyUrgency(3))
	assert.Equal(t, UrgencyModerate, ClassifyUrgency(4))
	assert.Equal(t, UrgencyModerate, ClassifyUrgency(7))
	assert.Equal(t, UrgencySevere, ClassifyUrgency(8))
	assert.Equal(t, UrgencySevere, ClassifyUrgency(60))
}

func TestRenderToneScalesWithUrgency(t *testing.T) {
	mild, _ := Render(Message{Template: TemplateCheckinReminder, Urgency: UrgencyMild, RecipientName: "Alice"})
	severe, _ := Render(Message{
		Template: TemplateCheckinReminder, Urgency: UrgencySevere, RecipientName: "Alice",
		Context: map[string]string{"days_overdue": "9"},
	})
	assert.NotEqual(t, mild, severe)
	assert.Contains(t, severe, "Urgent")
}

func TestRenderReportLink(t *testing.T) {
	_, body := Render(Message{
		Template:      TemplateVerificationRequest,
		RecipientName: "Erin",
		Context: map[string]string{
			"principal_name": "Alice",
			"report_link":    "https://example.com/report?token=abc",
			"expires_at":     "Fri, 01 May 2026 08:00:00 UTC",
		},
	})
	assert.Contains(t, body, "https://example.com/report?token=abc")
}

func TestSMTPNotifier(t *testing.T) {
	t.Run("builds an RFC822 message and returns a message id", func(t *testing.T) {
		var gotTo []string
		var gotMsg []byte
		n := NewSMTP(config.SMTP{Addr: "localhost:2525", From: "engine@custodia.local"})
		n.send = func(_ string, _ smtp.Auth, _ string, to []string, msg []byte) error {
			gotTo = to
			gotMsg = msg
			return nil
		}

		receipt, err := n.Send(context.Background(), Message{
			Recipient:     "erin@example.com",
			RecipientName: "Erin",
			Template:      TemplatePartyAlert,
			Urgency:       UrgencyModerate,
			Context:       map[string]string{"principal_name": "Alice", "days_overdue": "5"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, receipt.MessageID)
		assert.Equal(t, []string{"erin@example.com"}, gotTo)
		assert.True(t, strings.Contains(string(gotMsg), "Subject: Alice has missed their check-in"))
	})

	t.Run("empty recipient is rejected", func(t *testing.T) {
		n := NewSMTP(config.SMTP{})
		_, err := n.Send(context.Background(), Message{})
		assert.Error(t, err)
	})

	t.Run("a cancelled context abandons the send", func(t *testing.T) {
		n := NewSMTP(config.SMTP{From: "engine@custodia.local"})
		block := make(chan struct{})
		n.send = func(string, smtp.Auth, string, []string, []byte) error {
			<-block
			return nil
		}
		defer close(block)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := n.Send(ctx, Message{Recipient: "erin@example.com"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// flakyNotifier fails a fixed number of times before succeeding.
type flakyNotifier struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyNotifier) Send(context.Context, Message) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return Receipt{}, errors.New("transient smtp failure")
	}
	return Receipt{MessageID: "ok"}, nil
}

func TestRetryingNotifier(t *testing.T) {
	t.Run("retries through transient failures", func(t *testing.T) {
		flaky := &flakyNotifier{failures: 2}
		r := NewRetrying(flaky, 10*time.Second)

		receipt, err := r.Send(context.Background(), Message{Recipient: "x"})
		require.NoError(t, err)
		assert.Equal(t, "ok", receipt.MessageID)
		assert.Equal(t, 3, flaky.calls)
	})

	t.Run("gives up once the budget runs out", func(t *testing.T) {
		flaky := &flakyNotifier{failures: 1000}
		r := NewRetrying(flaky, 300*time.Millisecond)

		_, err := r.Send(context.Background(), Message{Recipient: "x"})
		assert.Error(t, err)
	})
}
