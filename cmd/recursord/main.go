// Command recursord runs the recursive resolver as a UDP nameserver.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lmittmann/tint"
	"github.com/linkdata/recursor"
	"github.com/spf13/cobra"
)

var flagConfig string
var flagListen string
var flagMetrics string
var flagDebug bool

var rootCmd = &cobra.Command{
	Use:          "recursord",
	Short:        "recursive DNS resolver",
	SilenceUsage: true,
	RunE:         run,
}

func main() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to TOML config file")
	rootCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "UDP listen address (overrides config)")
	rootCmd.Flags().StringVar(&flagMetrics, "metrics", "", "HTTP metrics listen address (overrides config)")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) (err error) {
	cfg, err := recursor.LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagDebug {
		cfg.Debug = true
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagMetrics != "" {
		cfg.MetricsListen = flagMetrics
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))

	resolver := recursor.New()
	resolver.Logger = logger
	cfg.Apply(resolver)

	primeCtx, cancelPrime := context.WithTimeout(cmd.Context(), 5*time.Second)
	resolver.PrimeRoots(primeCtx)
	cancelPrime()

	server := recursor.NewServer(resolver)
	server.Addr = cfg.ListenAddr()
	server.Workers = cfg.Workers
	server.Logger = logger
	if err = server.Start(); err != nil {
		logger.Error("bind failed", "addr", server.Addr, "err", err)
		return err
	}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			metrics.WritePrometheus(w, true)
		})
		go func() {
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				logger.Warn("metrics listener failed", "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	server.Stop()
	return nil
}
