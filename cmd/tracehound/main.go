// Command tracehound is the diagnostic agent daemon and its management
// CLI. Run with no subcommand to start the daemon; subcommands run
// one-shot cycles and lifecycle operations against the same store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tracehound/tracehound/internal/api"
	"github.com/tracehound/tracehound/internal/config"
	"github.com/tracehound/tracehound/internal/daemon"
	"github.com/tracehound/tracehound/internal/logging"
	"github.com/tracehound/tracehound/internal/models"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "tracehound",
		Short:         "Autonomous diagnostic agent for distributed production errors",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context())
		},
	}

	root.AddCommand(
		versionCmd(),
		pollCmd(),
		investigateCmd(),
		muteCmd(),
		resolveCmd(),
		retriageCmd(),
		reinvestigateCmd(),
		detailsCmd(),
		listCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		json.NewEncoder(os.Stderr).Encode(map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		os.Exit(1)
	}
}

// setup loads config, initializes logging, and wires the application.
func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "tracehound",
		FilePath:  cfg.LogFile,
	})
	return buildApp(cfg)
}

func runDaemon(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().Str("version", Version).Msg("Starting tracehound daemon")

	metrics := daemon.NewMetrics(prometheus.DefaultRegisterer)
	sched := daemon.New(a.poller, a.store, a.notifier, a.ledger, metrics, daemon.Config{
		PollInterval:    a.cfg.PollInterval,
		DailyBudgetUSD:  a.cfg.DailyBudgetUSD,
		SummaryInterval: a.cfg.SummaryInterval,
	})

	var stopMetrics func(context.Context) error
	if a.cfg.MetricsAddr != "" {
		stopMetrics = startMetricsServer(a.cfg.MetricsAddr)
	}

	router := api.NewRouter(a.poller, a.manager, a.cfg.APIToken, Version)
	apiSrv := &http.Server{
		Addr:         a.cfg.ListenAddr,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", a.cfg.ListenAddr).Msg("API server listening")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server failed")
		}
	}()

	go sched.Run(ctx)

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}
	if stopMetrics != nil {
		if err := stopMetrics(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tracehound version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("tracehound", Version)
		},
	}
}

func pollCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one poll cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.poller.ExecutePollCycle(cmd.Context())
			if err != nil {
				return err
			}
			return output(format, res, func() {
				fmt.Printf("errors found:       %d\n", res.ErrorsFound)
				fmt.Printf("new signatures:     %d\n", res.NewSignatures)
				fmt.Printf("updated signatures: %d\n", res.UpdatedSignatures)
				fmt.Printf("queued:             %d\n", res.InvestigationsQueued)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or text")
	return cmd
}

func investigateCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "investigate",
		Short: "Run one investigation cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.poller.ExecuteInvestigationCycle(cmd.Context())
			if err != nil {
				return err
			}
			return output(format, res, func() {
				fmt.Printf("attempted: %d\n", res.InvestigationsAttempted)
				fmt.Printf("failed:    %d\n", res.InvestigationsFailed)
				fmt.Printf("diagnoses: %d\n", len(res.DiagnosesProduced))
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or text")
	return cmd
}

func muteCmd() *cobra.Command {
	var id, reason, format string
	cmd := &cobra.Command{
		Use:   "mute",
		Short: "Mute a signature",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			sig, err := a.manager.Mute(cmd.Context(), id, reason)
			if err != nil {
				return err
			}
			return output(format, sig, func() { printSignature(sig) })
		},
	}
	cmd.Flags().StringVar(&id, "signature-id", "", "signature id (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the signature is being muted")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or text")
	cmd.MarkFlagRequired("signature-id")
	return cmd
}

func resolveCmd() *cobra.Command {
	var id, fix, format string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Mark a signature resolved",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			sig, err := a.manager.Resolve(cmd.Context(), id, fix)
			if err != nil {
				return err
			}
			return output(format, sig, func() { printSignature(sig) })
		},
	}
	cmd.Flags().StringVar(&id, "signature-id", "", "signature id (required)")
	cmd.Flags().StringVar(&fix, "fix", "", "what fixed it")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or text")
	cmd.MarkFlagRequired("signature-id")
	return cmd
}

func retriageCmd() *cobra.Command {
	var id, format string
	cmd := &cobra.Command{
		Use:   "retriage",
		Short: "Put a signature back in the investigation queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			sig, err := a.manager.Retriage(cmd.Context(), id)
			if err != nil {
				return err
			}
			return output(format, sig, func() { printSignature(sig) })
		},
	}
	cmd.Flags().StringVar(&id, "signature-id", "", "signature id (required)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or text")
	cmd.MarkFlagRequired("signature-id")
	return cmd
}

func reinvestigateCmd() *cobra.Command {
	var id, format string
	cmd := &cobra.Command{
		Use:   "reinvestigate",
		Short: "Run an immediate investigation for a signature",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			diag, err := a.manager.Reinvestigate(cmd.Context(), id)
			if err != nil {
				return err
			}
			return output(format, diag, func() { printDiagnosis(diag) })
		},
	}
	cmd.Flags().StringVar(&id, "signature-id", "", "signature id (required)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or text")
	cmd.MarkFlagRequired("signature-id")
	return cmd
}

func detailsCmd() *cobra.Command {
	var id, format string
	cmd := &cobra.Command{
		Use:   "details",
		Short: "Show a signature with recent events and related signatures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			details, err := a.manager.GetSignatureDetails(cmd.Context(), id)
			if err != nil {
				return err
			}
			return output(format, details, func() {
				printSignature(details.Signature)
				if details.Diagnosis != nil {
					fmt.Println()
					printDiagnosis(details.Diagnosis)
				}
				if len(details.RecentEvents) > 0 {
					fmt.Printf("\nrecent events: %d\n", len(details.RecentEvents))
					for _, ev := range details.RecentEvents {
						fmt.Printf("  [%s] %s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.ErrorType, ev.ErrorMessage)
					}
				}
				if len(details.Related) > 0 {
					fmt.Printf("\nrelated signatures: %d\n", len(details.Related))
					for _, rel := range details.Related {
						fmt.Printf("  %s  %s  %s\n", rel.ID, rel.Status, rel.MessageTemplate)
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&id, "signature-id", "", "signature id (required)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or text")
	cmd.MarkFlagRequired("signature-id")
	return cmd
}

func listCmd() *cobra.Command {
	var status, format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List signatures, optionally filtered by status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			var filter models.Status
			if status != "" {
				parsed, err := models.ParseStatus(status)
				if err != nil {
					return err
				}
				filter = parsed
			}

			sigs, err := a.manager.ListSignatures(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return output(format, sigs, func() {
				for _, sig := range sigs {
					fmt.Printf("%s  %-13s  %4d  %s/%s  %s\n",
						sig.ID, sig.Status, sig.OccurrenceCount, sig.Service, sig.ErrorType, sig.MessageTemplate)
				}
				fmt.Printf("%d signatures\n", len(sigs))
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (new, investigating, diagnosed, resolved, muted)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or text")
	return cmd
}

// output prints v as JSON or calls the text printer.
func output(format string, v any, text func()) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}

func printSignature(sig *models.Signature) {
	fmt.Printf("id:          %s\n", sig.ID)
	fmt.Printf("status:      %s\n", sig.Status)
	fmt.Printf("service:     %s\n", sig.Service)
	fmt.Printf("error type:  %s\n", sig.ErrorType)
	fmt.Printf("template:    %s\n", sig.MessageTemplate)
	fmt.Printf("occurrences: %d\n", sig.OccurrenceCount)
	fmt.Printf("first seen:  %s\n", sig.FirstSeen.Format(time.RFC3339))
	fmt.Printf("last seen:   %s\n", sig.LastSeen.Format(time.RFC3339))
	if len(sig.Tags) > 0 {
		fmt.Printf("tags:        %v\n", sig.Tags)
	}
}

func printDiagnosis(diag *models.Diagnosis) {
	fmt.Printf("root cause:  %s\n", diag.RootCause)
	fmt.Printf("fix:         %s\n", diag.SuggestedFix)
	fmt.Printf("confidence:  %s\n", diag.Confidence)
	fmt.Printf("model:       %s\n", diag.Model)
	fmt.Printf("cost:        $%.4f\n", diag.CostUSD)
	for _, ev := range diag.Evidence {
		fmt.Printf("  - %s\n", ev)
	}
}
