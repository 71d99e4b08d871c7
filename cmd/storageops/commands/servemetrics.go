package commands

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/permitportal/storageops/internal/config"
	"github.com/permitportal/storageops/internal/health"
	"github.com/permitportal/storageops/internal/scan"
)

func NewServeMetricsCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics over HTTP",
		Long: `Expose credential-pipeline and scan-lifecycle metrics at /metrics.
Runs until interrupted; pair with the scheduled health and sweep jobs in
the same process environment so their recordings are visible.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}

			health.InitMetrics()
			scan.InitMetrics()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok\n"))
			})

			listen := cfg.Definition.Metrics.Listen
			cfg.Logger.Info("Serving metrics on %s", listen)

			server := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			return server.ListenAndServe()
		},
	}
}
