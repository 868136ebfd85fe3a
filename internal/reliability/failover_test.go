package reliability

import (
	"errors"
	"testing"
)

func TestShouldAllow(t *testing.T) {
	down := errors.New("redis down")
	if !ShouldAllow(FailClosed, nil) {
		t.Error("no error must always allow")
	}
	if !ShouldAllow(FailOpen, down) {
		t.Error("fail open must allow on error")
	}
	if ShouldAllow(FailClosed, down) {
		t.Error("fail closed must block on error")
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != FailOpen {
		t.Errorf("Expected default fail_open, got %q %v", s, err)
	}
	if s, err := ParseStrategy("fail_closed"); err != nil || s != FailClosed {
		t.Errorf("Expected fail_closed, got %q %v", s, err)
	}
	if _, err := ParseStrategy("maybe"); err == nil {
		t.Error("Expected unknown strategy to fail")
	}
}
