package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vitebski/pgtenant/internal/metrics"
	"github.com/vitebski/pgtenant/internal/utils"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/provisioner"
)

func hostCommand(opts *options) *cobra.Command {
	var (
		maxPoolSize int
		trace       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "host <tenant-dir>...",
		Short: "Keep tenants registered: re-register on SIGHUP, release pools on SIGINT/SIGTERM",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			a, err := setup(opts, reg)
			if err != nil {
				return err
			}
			p := a.provisioner
			reg.MustRegister(metrics.NewPoolCollector(p))

			server := metrics.NewServer(metricsAddr, reg)
			server.Start()
			a.logger.Infof("Serving metrics on %s/metrics", metricsAddr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			registerAll := func(ctx context.Context) {
				if err := server.Err(); err != nil {
					a.logger.Errorf("Metrics server failed: %v", err)
				}
				tenantTargets, err := targets(args, a.logger)
				if err != nil {
					a.logger.Errorf("Failed to load tenant manifests: %v", err)
					return
				}
				registrations, err := p.RegisterAll(ctx, tenantTargets, a.cfg,
					provisioner.WithMaxPoolSize(maxPoolSize), provisioner.WithTrace(trace))
				if err != nil {
					a.logger.Errorf("Some tenants failed to register: %v", err)
				}
				utils.PrintSummary(os.Stdout, registrations, nil)
				fmt.Println("Tenants registered. Send SIGHUP to re-register, Ctrl+C to stop.")
			}

			runHost(cmd.Context(), sigCh, registerAll, a.logger)

			fmt.Println("Shutting down...")
			closeErr := p.Close()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Warnf("Metrics server shutdown: %v", err)
			}

			if closeErr != nil {
				return fmt.Errorf("shutdown error: %w", closeErr)
			}
			fmt.Println("Shutdown complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPoolSize, "max-pool-size", connector.DefaultPoolSize, "Maximum connections per tenant pool")
	cmd.Flags().BoolVar(&trace, "trace", false, "Run migrations with tracing")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address to serve /metrics on")
	return cmd
}

// runHost registers in the background and re-registers on SIGHUP. It
// returns on SIGINT, SIGTERM or when ctx ends, after cancelling and waiting
// for any registration in flight.
func runHost(ctx context.Context, sigCh <-chan os.Signal, register func(context.Context), logger *logrus.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var done chan struct{}
	start := func() {
		ch := make(chan struct{})
		done = ch
		go func() {
			defer close(ch)
			register(ctx)
		}()
	}
	start()

loop:
	for {
		select {
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				break loop
			}
			select {
			case <-done:
				logger.Info("Reconfiguring tenants")
				start()
			default:
				logger.Warn("Registration still running, ignoring SIGHUP")
			}
		case <-ctx.Done():
			break loop
		}
	}

	cancel()
	<-done
}
