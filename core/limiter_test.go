package core

import (
	"errors"
	"testing"
)

func TestIterationLimiter(t *testing.T) {
	l := NewIterationLimiter(2)

	if err := l.Increment(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Increment(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Count() != 2 {
		t.Fatalf("expected count 2, got %d", l.Count())
	}

	err := l.Increment()
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", err)
	}
	if l.Count() != 3 {
		t.Fatalf("expected count 3, got %d", l.Count())
	}
}

func TestIterationLimiter_Unlimited(t *testing.T) {
	l := NewIterationLimiter(0)
	for i := 0; i < 100; i++ {
		if err := l.Increment(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if l.Count() != 100 {
		t.Fatalf("expected count 100, got %d", l.Count())
	}
}
