package main

import (
	"fmt"

	"github.com/tracehound/tracehound/internal/config"
	"github.com/tracehound/tracehound/internal/daemon"
	"github.com/tracehound/tracehound/internal/diagnosis"
	"github.com/tracehound/tracehound/internal/interfaces"
	"github.com/tracehound/tracehound/internal/investigate"
	"github.com/tracehound/tracehound/internal/manage"
	"github.com/tracehound/tracehound/internal/notifications"
	"github.com/tracehound/tracehound/internal/poll"
	"github.com/tracehound/tracehound/internal/store"
	"github.com/tracehound/tracehound/internal/telemetry"
	"github.com/tracehound/tracehound/internal/triage"
)

// app holds the wired components shared by the daemon and the one-shot
// commands.
type app struct {
	cfg       *config.Config
	store     interfaces.SignatureStore
	telemetry interfaces.Telemetry
	poller    *poll.Service
	manager   *manage.Service
	notifier  interfaces.Notifier
	ledger    *daemon.BudgetLedger
	closeFn   func() error
}

// buildApp wires every component from configuration.
func buildApp(cfg *config.Config) (*app, error) {
	var (
		sigStore interfaces.SignatureStore
		closeFn  = func() error { return nil }
	)
	switch cfg.StoreBackend {
	case "memory":
		sigStore = store.NewMemory()
	default:
		sq, err := store.NewSQLite(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening signature store: %w", err)
		}
		sigStore = sq
		closeFn = sq.Close
	}

	tel := telemetry.NewClient(cfg.TelemetryURL, cfg.TelemetryToken, cfg.TelemetryTimeout)

	diagnoser := diagnosis.New(diagnosis.Config{
		APIKey:           cfg.AnthropicAPIKey,
		Model:            cfg.DiagnosisModel,
		BaseURL:          cfg.AnthropicBaseURL,
		Timeout:          cfg.DiagnosisTimeout,
		PerCallBudgetUSD: cfg.PerCallBudgetUSD,
	})

	var notifier interfaces.Notifier
	if len(cfg.NotifyURLs) > 0 {
		notifier = notifications.NewWebhook(cfg.NotifyURLs, 0)
	}

	engine := triage.New(triage.Config{
		MinOccurrenceForInvestigation: cfg.MinOccurrenceForInvestigation,
		InvestigationCooldown:         cfg.InvestigationCooldown,
	})

	investigator := investigate.New(tel, sigStore, diagnoser, notifier, engine, cfg.CodebasePath)

	poller := poll.New(tel, sigStore, engine, investigator, poll.Config{
		LookbackWindow: cfg.LookbackWindow,
		Services:       cfg.ServicesFilter,
	})

	manager := manage.New(sigStore, tel, investigator)

	return &app{
		cfg:       cfg,
		store:     sigStore,
		telemetry: tel,
		poller:    poller,
		manager:   manager,
		notifier:  notifier,
		ledger:    daemon.NewBudgetLedger(),
		closeFn:   closeFn,
	}, nil
}

func (a *app) Close() error { return a.closeFn() }
