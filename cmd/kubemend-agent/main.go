package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kubemendstack/kubemend/internal/advisor"
	"github.com/kubemendstack/kubemend/internal/api"
	"github.com/kubemendstack/kubemend/internal/cache"
	"github.com/kubemendstack/kubemend/internal/classifier"
	"github.com/kubemendstack/kubemend/internal/config"
	"github.com/kubemendstack/kubemend/internal/engine"
	"github.com/kubemendstack/kubemend/internal/events"
	"github.com/kubemendstack/kubemend/internal/ingest"
	"github.com/kubemendstack/kubemend/internal/ledger"
	"github.com/kubemendstack/kubemend/internal/metrics"
	"github.com/kubemendstack/kubemend/internal/remediator"
	"github.com/kubemendstack/kubemend/internal/repo"
	"github.com/kubemendstack/kubemend/internal/resolver"
	"github.com/kubemendstack/kubemend/internal/services"
	"github.com/kubemendstack/kubemend/internal/store"
	"github.com/kubemendstack/kubemend/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting kubemend-agent",
		slog.String("address", cfg.Server.Address),
		slog.String("deployment", cfg.Cluster.Deployment),
		slog.String("namespace", cfg.Cluster.Namespace))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("advice cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	batchStore, err := store.New(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open batch store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer batchStore.Close()

	kubeClient, err := buildKubeClient(cfg.Cluster.Kubeconfig)
	if err != nil {
		logger.Error("failed to build cluster client", slog.Any("error", err))
		os.Exit(1)
	}

	promClient := repo.NewPrometheusClient(cfg.Clients.Prometheus.URL, cfg.Clients.Prometheus.Timeout)
	collector := ingest.NewCollector(promClient, batchStore, logger)

	var gateway *engine.Gateway
	if cfg.Clients.Classifier.Endpoint != "" {
		primary := classifier.NewHTTPClassifier(cfg.Clients.Classifier.Endpoint, cfg.Clients.Classifier.Timeout)
		gateway = engine.NewGateway(classifier.NewFallback(primary, classifier.NewStaticThresholdClassifier(), logger))
	} else {
		logger.Info("no classifier endpoint configured, using static thresholds")
		gateway = engine.NewGateway(classifier.NewStaticThresholdClassifier())
	}

	advisorClient := advisor.New(
		cfg.Clients.Advisor.APIKey,
		cfg.Clients.Advisor.BaseURL,
		cfg.Clients.Advisor.Model,
		cfg.Clients.Advisor.Timeout,
		logger,
		advisor.WithCache(cacheProvider, cfg.Cache.AdviceTTL),
	)

	failureLedger := ledger.New()
	var sink ledger.AlertSink
	if cfg.Alerts.SMTP.Host != "" {
		sink = &ledger.SMTPSink{
			Host:     cfg.Alerts.SMTP.Host,
			Port:     cfg.Alerts.SMTP.Port,
			From:     cfg.Alerts.SMTP.From,
			To:       cfg.Alerts.SMTP.To,
			Username: cfg.Alerts.SMTP.Username,
			Password: cfg.Alerts.SMTP.Password,
		}
	} else {
		sink = &ledger.LogSink{Logger: logger}
	}
	batcher := ledger.NewBatcher(failureLedger, sink, cfg.Alerts.Interval, logger)

	executor := remediator.NewExecutor(kubeClient, failureLedger, remediator.Inputs{
		MemoryRequest:    cfg.Remediation.MemoryRequest,
		MemoryLimit:      cfg.Remediation.MemoryLimit,
		CorrectImage:     cfg.Remediation.CorrectImage,
		ImagePullSecrets: cfg.Remediation.ImagePullSecrets,
	}, logger)

	emitter := events.NewEmitter(logger, 512)
	runner := services.NewRunner(batchStore, gateway, advisorClient, resolver.New(), executor, emitter, services.RunnerConfig{
		Deployment:       cfg.Cluster.Deployment,
		Namespace:        cfg.Cluster.Namespace,
		SampleDelay:      cfg.Analysis.SampleDelay,
		RemediationDelay: cfg.Analysis.RemediationDelay,
	}, logger)

	apiServer := api.NewServer(cfg.Server.Address, runner, emitter, cfg.Server.GracefulTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		group.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		err := collector.Run(groupCtx, cfg.Ingest.Interval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		batcher.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return apiServer.Run(groupCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("agent exited", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
	logger.Info("kubemend-agent stopped")
}

// buildKubeClient prefers the in-cluster service account and falls back
// to the given kubeconfig path (or the default loading rules when empty).
func buildKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			loadingRules.ExplicitPath = kubeconfig
		}
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, err
		}
	}
	return kubernetes.NewForConfig(restCfg)
}
