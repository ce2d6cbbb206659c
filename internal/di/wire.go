//go:build wireinject
// +build wireinject

package di

import (
	"SigRelay/pkg/config"
	"SigRelay/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Storage and transport
		ProvideSignalStore,
		ProvideJobQueue,
		ProvideEventSink,
		ProvideAuditSink,
		ProvideBrokerRouter,

		// Use cases
		ProvideReconciler,
		ProvideIntake,
		ProvideOrchestrator,

		// Scheduler
		ProvideNodeRegistry,
		ProvideScheduler,

		// HTTP surface
		ProvideRateLimiter,
		ProvideHandlers,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
