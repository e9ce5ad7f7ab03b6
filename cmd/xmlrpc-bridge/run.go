package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/tomb.v2"

	"xmlrpc-bridge/config"
	"xmlrpc-bridge/flow"
	"xmlrpc-bridge/i18n"
	"xmlrpc-bridge/logging"
	"xmlrpc-bridge/metrics"
	"xmlrpc-bridge/nodes"
	"xmlrpc-bridge/registry"
)

var flowFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Deploy a flow file and run it until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Trace(err)
		}
		logger, err := logging.New(cfg.Logging())
		if err != nil {
			return errors.Trace(err)
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger, flowFile)
	},
}

func init() {
	runCmd.Flags().StringVarP(&flowFile, "flow", "f", "flow.yaml", "flow file to deploy")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, path string) error {
	def, err := flow.LoadFile(path)
	if err != nil {
		return errors.Trace(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	discovery, err := newRegistry(cfg, logger)
	if err != nil {
		return errors.Trace(err)
	}
	defer discovery.Close()

	types := flow.NewTypes()
	if err := nodes.Register(types, nodes.Options{
		Registry:        discovery,
		Metrics:         m,
		ResponseTimeout: cfg.ResponseTimeout,
	}); err != nil {
		return errors.Trace(err)
	}

	f, err := flow.Deploy(ctx, def, flow.Options{
		Types:      types,
		Logger:     logger,
		Translator: i18n.New(cfg.Language),
	})
	if err != nil {
		return errors.Trace(err)
	}

	var t tomb.Tomb
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		router := mux.NewRouter()
		router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})).Methods(http.MethodGet)
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		t.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Annotate(err, "metrics server")
			}
			return nil
		})
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-t.Dying():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	closeErr := f.Close(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
		t.Kill(nil)
		if err := t.Wait(); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(closeErr)
}

// newRegistry returns etcd discovery when endpoints are configured, else an
// in-process registry shared by the nodes of this flow.
func newRegistry(cfg config.Config, logger *zap.Logger) (registry.Registry, error) {
	if len(cfg.EtcdEndpoints) == 0 {
		return registry.NewMemoryRegistry(), nil
	}
	r, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, cfg.EtcdDialTimeout, logger)
	if err != nil {
		return nil, errors.Annotate(err, "connecting to etcd")
	}
	return r, nil
}
