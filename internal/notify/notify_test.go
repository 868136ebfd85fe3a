package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"

	"github.com/raakeshmj/postplane/internal/db"
)

type mockMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *mockMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *mockCounter) Inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[name]++
}

func registered(email string) Event {
	return Event{Kind: UserRegistered, User: &db.User{Name: "Ada", Email: email}}
}

func TestRenderer(t *testing.T) {
	r := Renderer{AppName: "Postplane", PostURLFmt: "https://blog.test/posts/%d"}

	msg, err := r.Render(registered("ada@example.com"))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if msg.To[0] != "ada@example.com" || !strings.Contains(msg.HTML, "Welcome to Postplane") {
		t.Errorf("Unexpected message: %+v", msg)
	}

	post := &db.Post{ID: 4, Title: "<b>Hi</b>", Status: db.StatusDraft, Author: &db.Author{Name: "Ed", Email: "ed@example.com"}}
	msg, err = r.Render(Event{Kind: PostCreated, Post: post})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(msg.HTML, "https://blog.test/posts/4") || strings.Contains(msg.HTML, "<b>Hi</b>") {
		t.Errorf("Expected escaped title and link, got %s", msg.HTML)
	}

	if _, err := r.Render(Event{Kind: PostCreated, Post: &db.Post{}}); err == nil {
		t.Error("Expected error for post without author")
	}
}

func TestRenderer_SubjectStaysOneLine(t *testing.T) {
	r := Renderer{AppName: "Postplane"}
	post := &db.Post{ID: 5, Title: "Hi\r\nBcc: victim@example.com", Author: &db.Author{Name: "Ed", Email: "ed@example.com"}}
	msg, err := r.Render(Event{Kind: PostCreated, Post: post})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.ContainsAny(msg.Subject, "\r\n") {
		t.Errorf("Expected single-line subject, got %q", msg.Subject)
	}
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	mailer := &mockMailer{}
	counter := &mockCounter{}
	var logs bytes.Buffer
	d := NewDispatcher(mailer, Renderer{AppName: "P"}, 3, 10, log.New(&logs, "", 0), counter)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	for i := 0; i < 5; i++ {
		if !d.Publish(registered("u@example.com")) {
			t.Fatalf("Publish %d rejected", i)
		}
	}
	d.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(mailer.sent) != 5 || counter.counts["mail_sent"] != 5 {
		t.Errorf("Expected 5 deliveries, got %d (counter %v)", len(mailer.sent), counter.counts)
	}
	if d.Publish(registered("late@example.com")) {
		t.Error("Expected Publish after Close to be rejected")
	}
	d.Close()
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	counter := &mockCounter{}
	var logs bytes.Buffer
	d := NewDispatcher(&mockMailer{}, Renderer{}, 1, 1, log.New(&logs, "", 0), counter)

	if !d.Publish(registered("a@example.com")) {
		t.Fatal("Expected first event to be queued")
	}
	if d.Publish(registered("b@example.com")) {
		t.Error("Expected second event to be dropped")
	}
	if counter.counts["mail_dropped"] != 1 || !strings.Contains(logs.String(), "queue full") {
		t.Errorf("Expected drop to be counted and logged, got %v / %q", counter.counts, logs.String())
	}
	d.Close()
}

func TestDispatcher_FailureIsNotRetried(t *testing.T) {
	mailer := &mockMailer{err: errors.New("smtp down")}
	counter := &mockCounter{}
	var logs bytes.Buffer
	d := NewDispatcher(mailer, Renderer{}, 1, 4, log.New(&logs, "", 0), counter)

	d.Publish(registered("a@example.com"))
	d.Close()
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if counter.counts["mail_failed"] != 1 || counter.counts["mail_sent"] != 0 {
		t.Errorf("Expected one failure and no retries, got %v", counter.counts)
	}
	if !strings.Contains(logs.String(), "smtp down") {
		t.Errorf("Expected failure to be logged, got %q", logs.String())
	}
}

func TestResendMailer(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		if got.To[0] == "bounce@example.com" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"invalid"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, err := NewResendMailer("key", "Postplane <noreply@example.com>")
	if err != nil {
		t.Fatalf("NewResendMailer failed: %v", err)
	}
	m.baseURL = srv.URL
	m.client = srv.Client()

	if err := m.Send(context.Background(), Message{To: []string{"ada@example.com"}, Subject: "Hi", HTML: "<p>x</p>"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got.From != "Postplane <noreply@example.com>" || got.Subject != "Hi" {
		t.Errorf("Unexpected request: %+v", got)
	}
	if err := m.Send(context.Background(), Message{To: []string{"bounce@example.com"}}); err == nil || !strings.Contains(err.Error(), "422") {
		t.Errorf("Expected 422 error, got %v", err)
	}

	if _, err := NewResendMailer("", "x"); err == nil {
		t.Error("Expected missing key to fail")
	}
}

func TestSMTPMailer(t *testing.T) {
	m := NewSMTPMailer("localhost", 1025, "", "", "noreply@example.com")
	var (
		addr string
		raw  string
	)
	m.send = func(a string, auth smtp.Auth, from string, to []string, msg []byte) error {
		addr, raw = a, string(msg)
		return nil
	}
	if err := m.Send(context.Background(), Message{To: []string{"ada@example.com"}, Subject: "Hello", HTML: "<p>hi</p>"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if addr != "localhost:1025" || !strings.Contains(raw, "Subject: Hello\r\n") || !strings.HasSuffix(raw, "<p>hi</p>") {
		t.Errorf("Unexpected SMTP payload to %s: %q", addr, raw)
	}

	if err := m.Send(context.Background(), Message{To: []string{"ada@example.com"}, Subject: "Hi\r\nBcc: x@example.com", HTML: "<p>hi</p>"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if strings.Contains(raw, "\r\nBcc:") {
		t.Errorf("Expected subject line breaks removed, got %q", raw)
	}
}

func TestFanout(t *testing.T) {
	ok := &mockMailer{}
	bad := &mockMailer{err: errors.New("down")}
	err := Fanout{ok, bad}.Send(context.Background(), Message{To: []string{"a@example.com"}})
	if err == nil || len(ok.sent) != 1 {
		t.Errorf("Expected partial delivery with joined error, got %v / %d", err, len(ok.sent))
	}
}
