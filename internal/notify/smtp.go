package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"custodia/internal/platform/config"
)

// SMTPNotifier delivers messages over plain SMTP. Message ids are generated
// locally since SMTP offers no delivery receipt; the id still keys the
// dispatch log entry for the send.
type SMTPNotifier struct {
	cfg  config.SMTP
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP constructs an SMTP-backed notifier.
func NewSMTP(cfg config.SMTP) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.Recipient == "" {
		return Receipt{}, fmt.Errorf("recipient is required")
	}

	subject, body := Render(msg)
	id := uuid.NewString()

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Message-ID: <%s@custodia>\r\n", id)
	b.WriteString("\r\n")
	b.WriteString(body)

	var auth smtp.Auth
	if n.cfg.Username != "" {
		host := n.cfg.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, host)
	}

	// smtp.SendMail has no context support; run it under the caller's
	// deadline and abandon the result on cancellation.
	done := make(chan error, 1)
	go func() {
		done <- n.send(n.cfg.Addr, auth, n.cfg.From, []string{msg.Recipient}, []byte(b.String()))
	}()
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return Receipt{}, fmt.Errorf("smtp send: %w", err)
		}
	}

	return Receipt{MessageID: id}, nil
}
