package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solara-energy/api/internal/repositories"
)

func TestNextOrderNumberFormatsSequence(t *testing.T) {
	repo := &stubCounterRepository{
		nextFunc: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "orders" {
				t.Fatalf("unexpected counter id %q", counterID)
			}
			if step != 1 {
				t.Fatalf("unexpected step %d", step)
			}
			return 42, nil
		},
	}
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}

	number, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("NextOrderNumber: %v", err)
	}
	if number != "ORD-000042" {
		t.Fatalf("expected ORD-000042, got %s", number)
	}
}

func TestNextOrderNumberFallsBackWhenCounterUnavailable(t *testing.T) {
	repo := &stubCounterRepository{
		nextFunc: func(context.Context, string, int64) (int64, error) {
			return 0, repositories.NewCounterError(repositories.CounterErrorUnavailable, "firestore down", nil)
		},
	}
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewCounterService(CounterServiceDeps{
		Repository: repo,
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}

	number, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("fallback must not error, got %v", err)
	}
	if !strings.HasPrefix(number, "ORD-1740819600000-") {
		t.Fatalf("expected timestamp fallback prefix, got %s", number)
	}
}

func TestNextOrderNumberUniqueUnderConcurrentCheckouts(t *testing.T) {
	var sequence int64
	repo := &stubCounterRepository{
		nextFunc: func(_ context.Context, _ string, step int64) (int64, error) {
			return atomic.AddInt64(&sequence, step), nil
		},
	}
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}

	const workers = 32
	numbers := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := svc.NextOrderNumber(context.Background())
			if err != nil {
				t.Errorf("NextOrderNumber: %v", err)
				return
			}
			numbers <- number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool, workers)
	for number := range numbers {
		if seen[number] {
			t.Fatalf("duplicate order number allocated: %s", number)
		}
		seen[number] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct numbers, got %d", workers, len(seen))
	}
}

func TestFallbackNumbersUniqueUnderConcurrentCheckouts(t *testing.T) {
	repo := &stubCounterRepository{
		nextFunc: func(context.Context, string, int64) (int64, error) {
			return 0, repositories.NewCounterError(repositories.CounterErrorUnavailable, "firestore down", nil)
		},
	}
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}

	const workers = 32
	numbers := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := svc.NextOrderNumber(context.Background())
			if err != nil {
				t.Errorf("fallback must not error, got %v", err)
				return
			}
			numbers <- number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool, workers)
	for number := range numbers {
		if !strings.HasPrefix(number, "ORD-") {
			t.Fatalf("unexpected fallback format %s", number)
		}
		if seen[number] {
			t.Fatalf("duplicate fallback number allocated: %s", number)
		}
		seen[number] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct fallback numbers, got %d", workers, len(seen))
	}
}

func TestNextOrderNumberPropagatesInvalidInput(t *testing.T) {
	repo := &stubCounterRepository{
		nextFunc: func(context.Context, string, int64) (int64, error) {
			return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "bad step", nil)
		},
	}
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}

	if _, err := svc.NextOrderNumber(context.Background()); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected ErrCounterInvalidInput, got %v", err)
	}
}
