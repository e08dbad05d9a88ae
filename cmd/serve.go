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

	"github.com/sells-group/fuel-index/internal/api"
	"github.com/sells-group/fuel-index/internal/config"
	"github.com/sells-group/fuel-index/internal/consolidate"
	"github.com/sells-group/fuel-index/internal/db"
	"github.com/sells-group/fuel-index/internal/geospatial"
	"github.com/sells-group/fuel-index/internal/stations"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the station query server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := openPool(ctx, "serve")
		if err != nil {
			return err
		}
		defer pool.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(pool, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter wires the query services over pool.
func newRouter(pool db.Pool, c *config.Config) http.Handler {
	day := 24 * time.Hour
	crowdWindow := time.Duration(c.Consolidate.CrowdWindowDays) * day

	cons := consolidate.DefaultConfig()
	cons.CrowdWindow = crowdWindow
	cons.StaleAfter = time.Duration(c.Consolidate.StaleAfterDays) * day
	cons.OfficialRowCap = c.Consolidate.OfficialRowCap
	if c.Consolidate.CacheTTLMinutes > 0 {
		cons.CacheTTL = time.Duration(c.Consolidate.CacheTTLMinutes) * time.Minute
	}

	svc := stations.NewService(pool,
		geospatial.NewEngine(pool, geospatial.Limits{
			DefaultRadiusKm: c.Search.DefaultRadiusKM,
			MaxRadiusKm:     c.Search.MaxRadiusKM,
			DefaultLimit:    c.Search.DefaultLimit,
			MaxLimit:        c.Search.MaxLimit,
		}),
		consolidate.NewService(consolidate.NewStore(pool), cons),
		crowdWindow,
	)
	return api.NewServer(svc).Router(api.Options{CORSOrigins: c.Server.CORSOrigins})
}
