package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/encrypto/internal/api/router"
	"github.com/remiblancher/encrypto/internal/api/server"
	"github.com/remiblancher/encrypto/internal/dispatch"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

// Serve command flags
var (
	serveHost    string
	servePort    int
	serveTLSCert string
	serveTLSKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API",
	Long: `Start the REST API over the configured keyring.

Endpoints:
  GET  /health, /ready, /metrics
  GET  /api/v1/keys, /api/v1/keys/{fingerprint}
  POST /api/v1/keys/import (public keys only)
  POST /api/v1/encrypt, /api/v1/verify
  GET  /api/v1/capabilities

Operations that need a secret key are not exposed.

Examples:
  encrypto serve --port 8787
  encrypto serve --host 0.0.0.0 --port 8443 --tls-cert server.crt --tls-key server.key`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config: 127.0.0.1)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config: 8787)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS private key file")
}

func runServe(cmd *cobra.Command, args []string) error {
	sc := sess.cfg.Serve
	cfg := &server.Config{
		Host:            sc.Host,
		Port:            sc.Port,
		TLSCert:         serveTLSCert,
		TLSKey:          serveTLSKey,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     sc.IdleTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}

	checks := []dispatch.Check{
		func() error {
			if cfg.Port < 0 || cfg.Port > 65535 {
				return qpgp.InvalidInput(fmt.Sprintf("port %d out of range", cfg.Port))
			}
			return nil
		},
		func() error {
			if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
				return qpgp.InvalidInput("--tls-cert and --tls-key must be given together")
			}
			return nil
		},
	}

	return run(cmd, checks, func(ctx context.Context) error {
		handler := router.New(&router.Config{
			Version:  version,
			Backend:  sess.backend,
			Policies: sess.cfg.Policy,
			Metrics:  sess.metrics.Handler(),
			Logger:   sess.log,
		})

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		scheme := "http"
		if cfg.TLS() {
			scheme = "https"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Serving encrypto API on %s://%s (backend %s, pqc %t)\n",
			scheme, cfg.Address(), sess.backend.Name(), sess.backend.SupportsPQC())
		return server.New(cfg, handler, sess.log).Run(ctx)
	})
}
