//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"stocksync/internal/app"
)

// initializeApp builds the App via Wire. Caller must Close a.Store when
// done.
func initializeApp() (*app.App, error) {
	wire.Build(
		app.ProvideConfig,
		app.ProvideLogger,
		app.ProvideStore,
		app.ProvideQuotes,
		app.ProvideFeed,
		app.ProvideOracle,
		app.ProvideNormalizer,
		app.ProvideLedger,
		app.ProvideRescaler,
		app.ProvideClassifier,
		app.ProvideOrchestrator,
		app.ProvideRepairer,
		wire.Struct(new(app.App), "Config", "Store", "Quotes", "Orchestrator", "Repairer"),
	)
	return nil, nil
}
