// Package audit writes one structured JSON line per request.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogEntry defines the structured audit log
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	ActorID   int64                  `json:"actor_id,omitempty"`
	Action    string                 `json:"action"`   // method + path
	Resource  string                 `json:"resource"` // matched route pattern
	Status    int                    `json:"status"`
	Duration  string                 `json:"duration"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type Logger interface {
	Log(entry LogEntry)
}

// JSONLogger writes to io.Writer
type JSONLogger struct {
	mu  sync.Mutex
	out io.Writer
}

func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{out: w}
}

func (l *JSONLogger) Log(entry LogEntry) {
	if entry.Metadata != nil {
		maskSensitive(entry.Metadata)
	}

	bytes, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Audit log error: %v\n", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(bytes, '\n'))
}

var sensitiveKeys = []string{"authorization", "password", "token", "secret"}

func maskSensitive(m map[string]interface{}) {
	for k := range m {
		lowerK := strings.ToLower(k)
		for _, s := range sensitiveKeys {
			if strings.Contains(lowerK, s) {
				m[k] = "***REDACTED***"
				break
			}
		}
	}
}

// Discard drops entries.
type Discard struct{}

func (Discard) Log(LogEntry) {}
