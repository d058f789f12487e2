package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orrn/printdesk/internal/api"
	"github.com/orrn/printdesk/internal/api/handlers"
	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/bus"
	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
	"github.com/orrn/printdesk/internal/ledger"
	"github.com/orrn/printdesk/internal/logging"
	"github.com/orrn/printdesk/internal/metrics"
	"github.com/orrn/printdesk/internal/uploads"
	"github.com/orrn/printdesk/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the printer bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadEnvFiles()
			if err != nil {
				return err
			}

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			base := logging.New(cfg.Logging)
			logger := logging.WithService(base, "printdesk")
			if len(loaded) > 0 {
				logger.WithField("files", loaded).Info("loaded environment files")
			}
			if base.GetLevel() < logrus.DebugLevel {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) error {
	collector := metrics.New()

	var (
		auditWriter  middleware.AuditWriter
		auditLister  handlers.AuditLister
		ledgerOpts   = []ledger.Option{ledger.WithObserver(collector)}
		dispatchOpts = []core.DispatcherOption{core.WithJobObserver(collector)}
	)
	if cfg.Database.Path != "" {
		conn, err := db.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		audit := db.NewAuditStore(conn, logger)
		auditWriter = audit
		auditLister = audit
		ledgerOpts = append(ledgerOpts, ledger.WithRecorder(audit))
		dispatchOpts = append(dispatchOpts, core.WithJobRecorder(audit))
		logger.WithField("path", cfg.Database.Path).Info("audit log enabled")
	}

	transport, err := bus.Open(cfg.Broker, logger)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}
	gateway := bus.NewGateway(transport, bus.GatewayConfig{
		PublishRetries: cfg.Broker.PublishRetries,
		PublishBackoff: cfg.Broker.PublishBackoff,
	}, logger)
	defer gateway.Close()
	collector.TrackBroker(gateway.Connected)

	store, err := uploads.NewStore(cfg.Uploads)
	if err != nil {
		return err
	}

	printers := core.NewPrinterManager(&cfg.Printers, logger)
	printers.Start()
	defer printers.Stop()

	sender := webhook.NewWebhookSender(cfg.Webhooks, logger)
	sender.Start()
	defer sender.Stop()

	wallet := ledger.New(&cfg.Ledger, ledgerOpts...)

	dispatchOpts = append(dispatchOpts, core.WithPrinters(printers), core.WithNotifier(sender))
	dispatcher := core.NewDispatcher(core.NewJobStore(), gateway, store, core.DispatcherConfig{
		MinDeviceIDLength: cfg.Jobs.MinDeviceIDLength,
		CommandTopic:      cfg.Broker.CommandTopicFor,
	}, logger, dispatchOpts...)

	if err := gateway.SubscribeStatus(ctx, cfg.Broker.StatusTopic, dispatcher.HandleStatusEvent); err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.Broker.StatusTopic, err)
	}

	auth, err := middleware.NewAuthMiddleware(cfg.Auth, auditWriter, logger)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Auth:     auth,
		Jobs:     handlers.NewJobHandler(dispatcher, cfg.Server.PublicURL, logger),
		Wallet:   handlers.NewWalletHandler(wallet),
		Uploads:  handlers.NewUploadHandler(store, cfg.Uploads.MaxBytes, logger),
		Admin:    handlers.NewAdminHandler(printers, dispatcher.Jobs(), wallet, auditLister, logger),
		Webhooks: handlers.NewWebhookHandler(sender, logger),
		Health:   handlers.NewHealthHandler(gateway.Connected, cfg.Broker.Driver),
		Metrics:  collector,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":   srv.Addr,
			"broker": cfg.Broker.Driver,
		}).Info("printdesk listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
