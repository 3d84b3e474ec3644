package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, time.June, 15, 12, 0, 30, 0, time.UTC)
	next := s.nextTick(now)
	want := time.Date(2026, time.June, 15, 12, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("nextTick(%s) = %s, want %s", now, next, want)
	}

	// Exactly on a boundary advances a full interval.
	next = s.nextTick(want)
	if !next.Equal(want.Add(time.Minute)) {
		t.Fatalf("nextTick on boundary = %s, want %s", next, want.Add(time.Minute))
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())

	now := time.Date(2026, time.June, 15, 12, 0, 30, 0, time.UTC)
	if next := s.nextTick(now); !next.Equal(now.Add(time.Minute)) {
		t.Fatalf("nextTick(%s) = %s, want %s", now, next, now.Add(time.Minute))
	}
}

func TestTickStart(t *testing.T) {
	at := time.Date(2026, time.June, 15, 12, 0, 30, 0, time.UTC)

	aligned := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	if got := aligned.tickStart(at); !got.Equal(at.Truncate(time.Minute)) {
		t.Fatalf("aligned tickStart = %s, want %s", got, at.Truncate(time.Minute))
	}

	unaligned := New(Options{Interval: time.Minute}, zerolog.Nop())
	if got := unaligned.tickStart(at); !got.Equal(at) {
		t.Fatalf("unaligned tickStart = %s, want %s", got, at)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(ctx context.Context, tick time.Time) error {
		t.Error("tick must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a non-positive interval")
		}
	}()
	New(Options{}, zerolog.Nop())
}
