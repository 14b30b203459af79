package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/geodash/internal/dashboard"
	"github.com/sells-group/geodash/internal/geoclient"
	"github.com/sells-group/geodash/internal/layer"
	"github.com/sells-group/geodash/internal/layercache"
	"github.com/sells-group/geodash/internal/mapctl"
	"github.com/sells-group/geodash/internal/viewstate"
	"github.com/sells-group/geodash/internal/webmap"
)

var dashboardPort int

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the interactive map dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("dashboard"); err != nil {
			return err
		}

		client := geoclient.New(geoclient.Options{
			BaseURL:   cfg.API.BaseURL,
			Timeout:   time.Duration(cfg.API.TimeoutSecs) * time.Second,
			UserAgent: cfg.API.UserAgent,
			RateLimit: rate.Limit(cfg.API.RateLimit),
		})

		geoStale := time.Duration(cfg.Dashboard.GeoStalenessSecs) * time.Second
		areaStale := time.Duration(cfg.Dashboard.AreaStalenessSecs) * time.Second
		cache := layercache.New(layercache.Options{
			Fetch: func(ctx context.Context, q layer.Query) ([]layer.Feature, error) {
				return client.Fetch(ctx, q.Kind, q.ParamMap()), nil
			},
			Staleness: map[layer.Kind]time.Duration{
				layer.KindDensity:      geoStale,
				layer.KindCluster:      geoStale,
				layer.KindNeighborhood: areaStale,
			},
		})

		ctrlOpts := mapctl.DefaultOptions()
		ctrlOpts.SettleDelay = time.Duration(cfg.Dashboard.SettleDelayMillis) * time.Millisecond
		ctrlOpts.TransitionDelay = time.Duration(cfg.Dashboard.TransitionDelayMillis) * time.Millisecond
		ctrl := mapctl.New(ctrlOpts)

		engine := dashboard.New(viewstate.New(), cache, ctrl)
		surface := webmap.New(time.Duration(cfg.Dashboard.SurfaceReadyMillis) * time.Millisecond)

		warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
		defer warmCancel()
		if err := engine.Start(warmCtx, surface); err != nil {
			zap.L().Warn("initial layer warm incomplete", zap.Error(err))
		}
		defer engine.Stop()

		port := dashboardPort
		if port == 0 {
			port = cfg.Dashboard.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: webmap.NewHandler(engine, surface),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down dashboard")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting dashboard", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "dashboard listen")
		}

		return nil
	},
}

func init() {
	dashboardCmd.Flags().IntVar(&dashboardPort, "port", 0, "dashboard port (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
