package sessions

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSweeper_RunOnceRemovesIdleSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	idle, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	active, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	// Push the active session's last activity two hours ahead, then sweep
	// from that future point with a one hour idle limit.
	base := time.Now()
	ev := NewUserMessageEvent("turn-1", "still here")
	ev.Timestamp = base.Add(2 * time.Hour)
	if err := store.AppendEvent(ctx, active, ev); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	sweeper, err := NewSweeper(store, time.Hour, "@hourly",
		WithSweeperNow(func() time.Time { return base.Add(2 * time.Hour) }),
	)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}

	removed, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("RunOnce() removed %d sessions, want 1", removed)
	}

	if _, err := store.GetSession(ctx, idle); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("idle session error = %v, want ErrSessionNotFound", err)
	}
	if _, err := store.GetSession(ctx, active); err != nil {
		t.Errorf("active session error = %v, want it kept", err)
	}
}

func TestSweeper_ZeroIdleDisablesSweeping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateSession(ctx, nil); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	sweeper, err := NewSweeper(store, 0, "",
		WithSweeperNow(func() time.Time { return time.Now().Add(1000 * time.Hour) }),
	)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}

	removed, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("RunOnce() removed %d sessions, want 0", removed)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions remaining = %d, want 1", len(sessions))
	}
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	store := newTestStore(t)

	_, err := NewSweeper(store, time.Hour, "not a schedule")
	if err == nil {
		t.Fatal("NewSweeper() error = nil, want parse error")
	}
}

func TestSweeper_StartStop(t *testing.T) {
	store := newTestStore(t)

	sweeper, err := NewSweeper(store, time.Hour, "@hourly",
		WithSweeperTickInterval(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sweeper.Start(ctx)
	sweeper.Start(ctx) // second call is a no-op
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := sweeper.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
