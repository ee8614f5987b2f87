package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/c4m-data/actionhub/internal/adform"
	"github.com/c4m-data/actionhub/internal/config"
	"github.com/c4m-data/actionhub/internal/destination"
	"github.com/c4m-data/actionhub/internal/ledger"
	"github.com/c4m-data/actionhub/internal/logging"
	"github.com/c4m-data/actionhub/internal/metrics"
	"github.com/c4m-data/actionhub/internal/pipeline"
	"github.com/c4m-data/actionhub/internal/reconcile"
	"github.com/c4m-data/actionhub/internal/server"
	"github.com/c4m-data/actionhub/internal/tracing"
	"github.com/c4m-data/actionhub/internal/trigger"
	"github.com/c4m-data/actionhub/internal/warehouse"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the action hub HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logging.SetDefaultService(cfg.AppName)

	ctx := context.Background()

	shutdownTracing, err := tracing.InitTracing(ctx, cfg.AppName)
	if err != nil {
		logging.Plain().WithError(err).Warn("Tracing disabled")
	} else {
		defer shutdownTracing()
	}

	bq, err := warehouse.NewBQ(ctx, cfg.Warehouse.ProjectID)
	if err != nil {
		return err
	}
	defer bq.Close()

	gcs, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	defer gcs.Close()

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	gate := &warehouse.FreshnessGate{
		Client:    bq,
		ProjectID: cfg.Warehouse.ProjectID,
		LagDays:   cfg.Warehouse.LagDays,
	}
	audit := &ledger.Ledger{Client: bq, ProjectID: cfg.Warehouse.ProjectID}

	pipelines := map[string]server.Runner{
		trigger.ActionSFTP: &pipeline.Pipeline{
			Gate:   gate,
			Ledger: audit,
			Adapter: &destination.SFTPAdapter{
				Config:    cfg,
				Warehouse: bq,
			},
		},
		trigger.ActionAdform: &pipeline.Pipeline{
			Gate:   gate,
			Ledger: audit,
			Adapter: &destination.AdformAdapter{
				Config:    cfg.Adform,
				API:       adform.New(ctx, cfg.Adform),
				Warehouse: bq,
				ProjectID: cfg.Warehouse.ProjectID,
				Store:     &destination.GCSStore{Client: gcs, Bucket: cfg.Adform.Bucket},
			},
		},
		trigger.ActionGoogleAds: &pipeline.Pipeline{
			Gate:    gate,
			Ledger:  audit,
			Adapter: &destination.GoogleAdsAdapter{Config: cfg},
			Recon:   &reconcile.Job{Client: bq, ProjectID: cfg.Warehouse.ProjectID},
		},
	}

	srv := server.New(cfg, pipelines, registry)
	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Port,
		Handler: srv.Handler(),
	}

	go func() {
		logging.Plain().Infof("HTTP server listening on %s", cfg.HTTP.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Plain().WithError(err).Fatal("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logging.Plain().Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Plain().WithError(err).Warn("Forced shutdown")
	}
	logging.Plain().Info("Stopped")
	return nil
}
