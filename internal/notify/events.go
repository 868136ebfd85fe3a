// Package notify turns domain events into queued email.
package notify

import (
	"sync"

	"github.com/raakeshmj/postplane/internal/db"
)

type Kind string

const (
	UserRegistered Kind = "user.registered"
	PostCreated    Kind = "post.created"
)

// Event is emitted by services after the triggering write commits.
type Event struct {
	Kind Kind
	User *db.User
	Post *db.Post
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event) bool
}

// Discard drops every event. Useful in tests and when mail is disabled.
type Discard struct{}

func (Discard) Publish(Event) bool { return true }

// Recorder keeps published events in memory for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return true
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
