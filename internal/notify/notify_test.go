package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu      sync.Mutex
	mails   []Mail
	fail    map[EventType]bool
	started chan struct{}
	release chan struct{}
}

func (r *recordingSender) Send(_ context.Context, m Mail) error {
	if r.started != nil {
		r.started <- struct{}{}
		<-r.release
	}
	if r.fail[m.Event] {
		return errors.New("relay down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mails = append(r.mails, m)
	return nil
}

func (r *recordingSender) sent() []Mail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mail(nil), r.mails...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRenderBugCreated(t *testing.T) {
	m, err := Render(Event{
		Type: BugCreated,
		To:   "admin@example.com",
		Fields: Fields{
			Project: "Payments", Title: "Crash on save", Description: "stack trace",
			Priority: "HIGH", Actor: "tess",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "New Bug Created in 'Payments': Crash on save", m.Subject)
	assert.Contains(t, m.Body, "Priority: HIGH")
	assert.Contains(t, m.Body, "Created by: tess")
	assert.Equal(t, "admin@example.com", m.To)
}

func TestRenderEveryEventType(t *testing.T) {
	for _, typ := range []EventType{BugCreated, BugAssigned, BugReassigned, BugResolved, BugClosed, TaskCreated, TaskAssigned, TaskClosed} {
		m, err := Render(Event{Type: typ, To: "x@example.com", Fields: Fields{Project: "P", Title: "T"}})
		require.NoError(t, err, typ)
		assert.True(t, strings.HasSuffix(m.Subject, "in 'P': T"), m.Subject)
	}
	_, err := Render(Event{Type: "bug.deleted"})
	assert.Error(t, err)
}

func TestCcIfDifferent(t *testing.T) {
	assert.Nil(t, CcIfDifferent("a@x.io", ""))
	assert.Nil(t, CcIfDifferent("a@x.io", "A@x.io"))
	assert.Equal(t, []string{"b@x.io"}, CcIfDifferent("a@x.io", "b@x.io"))
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	rec := &recordingSender{}
	d := NewDispatcher(rec, 8, quietLogger())
	for i := 0; i < 5; i++ {
		d.Notify(Event{Type: TaskCreated, EntityID: int64(i), To: "admin@example.com"})
	}
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, rec.sent(), 5)

	// after close nothing is queued and nothing panics
	d.Notify(Event{Type: TaskCreated, To: "admin@example.com"})
	assert.Len(t, rec.sent(), 5)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcherSurvivesFailures(t *testing.T) {
	rec := &recordingSender{fail: map[EventType]bool{BugResolved: true}}
	d := NewDispatcher(rec, 8, quietLogger())
	d.Notify(Event{Type: BugResolved, To: "t@example.com"})
	d.Notify(Event{Type: BugClosed, To: "t@example.com"})
	d.Notify(Event{Type: BugClosed})
	require.NoError(t, d.Close(context.Background()))
	sent := rec.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, BugClosed, sent[0].Event)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	rec := &recordingSender{started: make(chan struct{}, 4), release: make(chan struct{})}
	d := NewDispatcher(rec, 1, quietLogger())

	d.Notify(Event{Type: BugAssigned, EntityID: 1, To: "d@example.com"})
	<-rec.started // worker holds event 1
	d.Notify(Event{Type: BugAssigned, EntityID: 2, To: "d@example.com"}) // buffered
	d.Notify(Event{Type: BugAssigned, EntityID: 3, To: "d@example.com"}) // dropped

	close(rec.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, rec.sent(), 2)
}

func TestDispatcherCloseHonoursContext(t *testing.T) {
	rec := &recordingSender{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := NewDispatcher(rec, 1, quietLogger())
	d.Notify(Event{Type: BugAssigned, To: "d@example.com"})
	<-rec.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	close(rec.release)
}

func TestWebhookSender(t *testing.T) {
	var gotHeaders http.Header
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := WebhookSender{URL: srv.URL, Secret: "s3cret", Events: []string{"bug.resolved"}}
	err := s.Send(context.Background(), Mail{Event: BugResolved, To: "t@example.com", Subject: "Bug Resolved", Body: "done"})
	require.NoError(t, err)
	assert.Equal(t, "bug.resolved", gotHeaders.Get("X-Bugtrail-Event"))
	assert.Equal(t, "s3cret", gotHeaders.Get("X-Bugtrail-Secret"))
	assert.NotEmpty(t, gotHeaders.Get("X-Bugtrail-Delivery"))
	assert.Equal(t, gotHeaders.Get("X-Bugtrail-Delivery"), got.Delivery)
	assert.Equal(t, "t@example.com", got.To)

	// filtered out: no request, no error
	gotHeaders = nil
	require.NoError(t, s.Send(context.Background(), Mail{Event: BugClosed, To: "t@example.com"}))
	assert.Nil(t, gotHeaders)
}

func TestWebhookSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := WebhookSender{URL: srv.URL}.Send(context.Background(), Mail{Event: TaskClosed, To: "a@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSMTPSenderRecipients(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	s := SMTPSender{
		Host: "mail.local", Port: 2525, From: "bugtrail@example.com",
		send: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
			return nil
		},
	}
	err := s.Send(context.Background(), Mail{
		To: "creator@example.com", Cc: []string{"admin@example.com"}, Bcc: []string{"audit@example.com"},
		Subject: "Bug Closed in 'P': T", Body: "line1\nline2",
	})
	require.NoError(t, err)
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, "bugtrail@example.com", gotFrom)
	assert.Equal(t, []string{"creator@example.com", "admin@example.com", "audit@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Cc: admin@example.com\r\n")
	assert.NotContains(t, gotMsg, "audit@example.com")
	assert.Contains(t, gotMsg, "line1\r\nline2")
}
