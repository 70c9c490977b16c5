package session

import (
	"sync"
	"testing"
)

func TestSessionLifecycle(t *testing.T) {
	s := New()

	if _, ok := s.Active(); ok {
		t.Fatal("new session should have no active account")
	}

	s.Set("prod")
	if a, ok := s.Active(); !ok || a != "prod" {
		t.Fatalf("active = %q, %v", a, ok)
	}

	if s.ClearIf("dev") {
		t.Error("ClearIf on a different alias must not clear")
	}
	if a, _ := s.Active(); a != "prod" {
		t.Errorf("active changed to %q", a)
	}

	if !s.ClearIf("prod") {
		t.Error("ClearIf on the active alias should clear")
	}
	if _, ok := s.Active(); ok {
		t.Error("expected no active account")
	}

	if _, ok := s.Clear(); ok {
		t.Error("Clear on an empty session reports nothing was set")
	}

	s.Set("dev")
	if was, ok := s.Clear(); !ok || was != "dev" {
		t.Errorf("Clear = %q, %v", was, ok)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.Set("prod")

	if _, ok := b.Active(); ok {
		t.Fatal("sessions must not share the active pointer")
	}
}

func TestSessionConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); s.Set("prod") }()
		go func() { defer wg.Done(); s.Active() }()
	}
	wg.Wait()

	if a, _ := s.Active(); a != "prod" {
		t.Errorf("active = %q", a)
	}
}
