package logging

import "testing"

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := New("chatty", "progress")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !log.Core().Enabled(0) {
		t.Fatal("expected info level to be enabled")
	}
	if log.Core().Enabled(-1) {
		t.Fatal("expected debug level to be disabled")
	}
}

func TestNew_DebugLevel(t *testing.T) {
	log, err := New("DEBUG")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !log.Core().Enabled(-1) {
		t.Fatal("expected debug level to be enabled")
	}
}
