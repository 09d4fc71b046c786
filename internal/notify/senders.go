package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LogSender writes mail to the structured log instead of sending it.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, m Mail) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail", "event", m.Event, "to", m.To, "cc", m.Cc, "subject", m.Subject)
	return nil
}

// SMTPSender sends plain text mail through a relay.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// send is smtp.SendMail unless replaced in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (s SMTPSender) Send(_ context.Context, m Mail) error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	rcpt := append([]string{m.To}, m.Cc...)
	rcpt = append(rcpt, m.Bcc...)
	send := s.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, s.From, rcpt, buildMessage(s.From, m)); err != nil {
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	return nil
}

func buildMessage(from string, m Mail) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	if len(m.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(m.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

const defaultWebhookTimeout = 5 * time.Second

// WebhookSender POSTs each mail as JSON to a single endpoint.
type WebhookSender struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// Events limits delivery to these types; empty means all.
	Events []string
	Client *http.Client
	Now    func() time.Time
}

type webhookBody struct {
	Delivery string    `json:"delivery"`
	Event    EventType `json:"event"`
	To       string    `json:"to"`
	Cc       []string  `json:"cc,omitempty"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	TS       string    `json:"ts"`
}

func (s WebhookSender) Send(ctx context.Context, m Mail) error {
	if !newEventFilter(s.Events).match(string(m.Event)) {
		return nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	delivery := uuid.NewString()
	data, err := json.Marshal(webhookBody{
		Delivery: delivery,
		Event:    m.Event,
		To:       m.To,
		Cc:       m.Cc,
		Subject:  m.Subject,
		Body:     m.Body,
		TS:       now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	client := s.Client
	if client == nil {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bugtrail-Event", string(m.Event))
	req.Header.Set("X-Bugtrail-Delivery", delivery)
	if strings.TrimSpace(s.Secret) != "" {
		req.Header.Set("X-Bugtrail-Secret", s.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
