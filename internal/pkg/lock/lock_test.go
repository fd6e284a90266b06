package lock

import (
	"context"
	"errors"
	"testing"
)

func TestNilLockerRunsFunction(t *testing.T) {
	var l *Locker
	called := false
	err := l.WithLock(context.Background(), "credits:reserve:u1", Options{}, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run, called=%v err=%v", called, err)
	}
}

func TestWithLockPropagatesError(t *testing.T) {
	l := New(nil)
	want := errors.New("insufficient")
	if err := l.WithLock(context.Background(), "k", Options{}, func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestName(t *testing.T) {
	if got := name("credits:reserve:8a1f"); got != "credits:reserve" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := name("plain"); got != "plain" {
		t.Fatalf("unexpected name %q", got)
	}
}
