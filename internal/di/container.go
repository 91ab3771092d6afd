package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solara-energy/api/internal/payments"
	"github.com/solara-energy/api/internal/platform/auth"
	"github.com/solara-energy/api/internal/platform/config"
	"github.com/solara-energy/api/internal/repositories"
	"github.com/solara-energy/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete
// implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Identity services.IdentityService
	Numbers  services.CounterService
	Checkout services.CheckoutService
	Orders   services.OrderService
	System   services.SystemService
}

// Dependencies carries infrastructure built outside the repository registry:
// the Firebase user directory, the payment gateway router, and the event
// publisher. Logger and Clock default to no-op and time.Now respectively.
type Dependencies struct {
	Directory *auth.FirebaseClient
	Gateway   *payments.Router
	Publisher services.OrderEventPublisher
	Build     services.BuildInfo
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Clock     func() time.Time
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	if deps.Directory == nil {
		return Services{}, errors.New("firebase directory is required")
	}
	identitySvc, err := services.NewIdentityService(services.IdentityServiceDeps{
		Directory:         deps.Directory,
		SignInRedirectURL: cfg.Identity.SignInRedirectURL,
		Logger:            logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build identity service: %w", err)
	}
	svc.Identity = identitySvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository:  reg.Counters(),
		CounterName: cfg.Checkout.NumberCounter,
		Clock:       clock,
		Logger:      logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Numbers = counterSvc

	if deps.Gateway == nil {
		return Services{}, errors.New("payment gateway router is required")
	}
	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:              reg.Carts(),
		Orders:             reg.Orders(),
		Identity:           identitySvc,
		Numbers:            counterSvc,
		Gateway:            deps.Gateway,
		DefaultCurrency:    cfg.Checkout.DefaultCurrency,
		TaxRateBasisPoints: cfg.Checkout.TaxRateBasisPoints,
		ShippingFees:       cfg.Checkout.ShippingFees,
		SuccessURL:         cfg.PSP.SuccessURL,
		CancelURL:          cfg.PSP.CancelURL,
		Clock:              clock,
		Logger:             logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:       reg.Orders(),
		Transactions: reg.PaymentTransactions(),
		Carts:        reg.Carts(),
		Publisher:    deps.Publisher,
		Clock:        clock,
		Logger:       logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
