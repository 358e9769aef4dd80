// Package app wires the finance-layer services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"

	authzsvc "github.com/liftdao/finance-layer/internal/app/services/authz"
	ledgersvc "github.com/liftdao/finance-layer/internal/app/services/ledger"
	paymentsvc "github.com/liftdao/finance-layer/internal/app/services/payments"
	"github.com/liftdao/finance-layer/internal/app/storage"
	"github.com/liftdao/finance-layer/internal/app/storage/memory"
	"github.com/liftdao/finance-layer/internal/app/system"
	"github.com/liftdao/finance-layer/internal/escrow"
	"github.com/liftdao/finance-layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Payments storage.PaymentStore
	Roles    storage.RoleStore
	Ledger   storage.LedgerStore
}

// Options tunes optional application behaviour.
type Options struct {
	// SupportedChains overrides the payment chain-id allow-list.
	SupportedChains []int64
	// RoleCache overrides the process-local role cache (e.g. Redis).
	RoleCache authzsvc.RoleCache
	// SweepSchedule enables the periodic integrity sweep when non-empty
	// (cron syntax or descriptors like "@hourly").
	SweepSchedule string
}

// Application ties the control-plane services together.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Payments *paymentsvc.Service
	Authz    *authzsvc.Service
	Ledger   *ledgersvc.Service
	Sweeper  *ledgersvc.Sweeper
}

// New builds a fully initialised application. A nil gateway defaults to the
// mock escrow gateway, which is only suitable for tests and local runs.
func New(stores Stores, gateway escrow.Gateway, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if gateway == nil {
		log.Warn("no escrow gateway configured; using mock gateway")
		gateway = escrow.NewMock()
	}

	mem := memory.New()
	if stores.Payments == nil {
		stores.Payments = mem
	}
	if stores.Roles == nil {
		stores.Roles = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}

	manager := system.NewManager()

	paymentService := paymentsvc.New(stores.Payments, gateway, opts.SupportedChains, log)
	authzService := authzsvc.New(stores.Roles, opts.RoleCache, log)
	ledgerService := ledgersvc.New(stores.Ledger, log)

	app := &Application{
		manager:  manager,
		log:      log,
		Payments: paymentService,
		Authz:    authzService,
		Ledger:   ledgerService,
	}

	for _, name := range []string{"payments", "authz", "ledger"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	if opts.SweepSchedule != "" {
		app.Sweeper = ledgersvc.NewSweeper(ledgerService, opts.SweepSchedule, log)
		if err := manager.Register(app.Sweeper); err != nil {
			return nil, fmt.Errorf("register sweeper: %w", err)
		}
	}

	return app, nil
}

// Start launches the managed services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop halts the managed services in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
