package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/solara-energy/api/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository  repositories.CounterRepository
	CounterName string
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type counterService struct {
	repo    repositories.CounterRepository
	counter string
	clock   func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewCounterService constructs a service that allocates order numbers on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	counter := strings.TrimSpace(deps.CounterName)
	if counter == "" {
		counter = "orders"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &counterService{
		repo:    deps.Repository,
		counter: counter,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// NextOrderNumber allocates the next sequential order number. If the counter
// backend is unavailable it falls back to a timestamp-derived number so a
// checkout is never blocked on the sequence document; uniqueness is still
// enforced at insert time.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	value, err := s.repo.Next(ctx, s.counter, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
			return "", fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		}
		fallback := s.fallbackNumber()
		s.logger(ctx, "orders.number.fallback", map[string]any{
			"orderNumber": fallback,
			"error":       err.Error(),
		})
		return fallback, nil
	}
	return fmt.Sprintf("ORD-%06d", value), nil
}

func (s *counterService) fallbackNumber() string {
	now := s.clock()
	id := ulid.Make().String()
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), id[len(id)-6:])
}
