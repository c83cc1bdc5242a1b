package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestListSortedAndReload(t *testing.T) {
	jobs := []Job{
		{ID: "b", Cron: "* * * * *", Tz: "UTC", Enabled: true, Source: "user"},
		{ID: "a", Cron: "* * * * *", Tz: "UTC", Enabled: true, Source: "schedule:a"},
	}
	s := New(jobs, func(ctx context.Context, chatID, message, source string) error { return nil }, func() ([]Job, error) {
		return []Job{{ID: "a", Cron: "0 0 * * *", Tz: "UTC", Enabled: false, Source: "schedule:a"}}, nil
	})

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d: %v", len(list), list)
	}

	if err := s.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	list = s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs after reload, got %d: %v", len(list), list)
	}
	// the user job (source="user") must survive reload untouched.
	foundUser := false
	for _, l := range list {
		if len(l) >= 1 && l[0] == 'b' {
			foundUser = true
		}
	}
	if !foundUser {
		t.Fatalf("expected user job to survive reload: %v", list)
	}
}

func TestValidateRejectsBadCron(t *testing.T) {
	jobs := []Job{{ID: "x", Cron: "not a cron", Tz: "UTC", Enabled: true}}
	s := New(jobs, nil, nil)
	if err := s.Validate(); err == nil {
		t.Fatalf("expected validation error for malformed cron")
	}
}

func TestSetEnabledUnknownJob(t *testing.T) {
	s := New(nil, nil, nil)
	if err := s.SetEnabled("missing", true); err == nil {
		t.Fatalf("expected error for unknown job id")
	}
}

func TestTickEmitsDueJobOnce(t *testing.T) {
	var mu sync.Mutex
	var calls int
	emit := func(ctx context.Context, chatID, message, source string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	jobs := []Job{{ID: "always", Cron: "* * * * *", Tz: "UTC", ChatID: "chat1", Message: "hi", Enabled: true, Source: "schedule:always"}}
	s := New(jobs, emit, nil)

	s.tick(context.Background())
	s.tick(context.Background()) // same minute: must not double-fire

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		c := calls
		mu.Unlock()
		if c > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one emit for a due job across two ticks in the same minute, got %d", calls)
	}
}
