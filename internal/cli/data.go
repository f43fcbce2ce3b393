package cli

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/buildinfo"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/metrics"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/refresh"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/upstream"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/velocity"
)

var refreshFollow bool

func init() {
	refreshCmd.Flags().BoolVar(&refreshFollow, "follow", false,
		"Keep refreshing on the configured interval and serve /metrics on METRICS_ADDR")
	rootCmd.AddCommand(refreshCmd, recomputeCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Pull new routing and permit rows from the open-data feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		breaker := upstream.NewBreaker(rt.cfg.BreakerThreshold, rt.cfg.BreakerRecovery)
		feed := upstream.NewFeedClient(rt.cfg, breaker)
		worker := refresh.NewWorker(rt.store, feed, rt.cfg.RefreshInterval)

		if !refreshFollow {
			routing, permits, err := worker.ProcessOnce(ctx)
			if err != nil {
				return err
			}
			snap := breaker.Snapshot()
			return emit(map[string]any{
				"routingWritten": routing,
				"permitsWritten": permits,
				"breaker":        snap,
			}, fmt.Sprintf("Wrote %d routing rows and %d permits; breaker %s.", routing, permits, snap.State))
		}

		log.Printf("permitiq %s refreshing every %s", buildinfo.Short(), rt.cfg.RefreshInterval)
		metrics.RegisterDefault()
		if rt.cfg.MetricsAddr != "" {
			go serveMetrics(rt.cfg.MetricsAddr)
		}
		if _, _, err := worker.ProcessOnce(ctx); err != nil {
			log.Printf("refresh: %v", err)
		}
		worker.Start()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("received %s; stopping refresher", sig)
		close(worker.Stop)
		return nil
	},
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics server: %v", err)
	}
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute-profiles",
	Short: "Rebuild station velocity profiles from the routing log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		rec := velocity.NewRecomputer(rt.store, rt.cfg.CurrentWindowDays, rt.cfg.BaselineWindowDays)
		n, err := rec.Recompute(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		return emit(map[string]int{"profilesWritten": n},
			fmt.Sprintf("Recomputed %d station velocity profiles.", n))
	},
}
