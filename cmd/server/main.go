package main

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/harrylevesque/controlx/internal/api"
	"github.com/harrylevesque/controlx/internal/auth"
	"github.com/harrylevesque/controlx/internal/certs"
	"github.com/harrylevesque/controlx/internal/dispatch"
	"github.com/harrylevesque/controlx/internal/store"
	"github.com/harrylevesque/controlx/internal/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:          "controlx-server",
		Short:        "Serve stored command endpoints over authenticated HTTP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := utils.LoadConfig(v, configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default ./controlx.yaml or ~/controlx.yaml)")
	flags.String("addr", ":5000", "listen address")
	flags.String("db", "controlx.db", "SQLite database path")
	flags.String("exec-mode", "shell", "command execution mode: shell or direct")
	flags.Duration("exec-timeout", 0, "kill commands running longer than this (0 disables)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "auto", "log format: auto, console or json")

	for key, name := range map[string]string{
		"server.addr":   "addr",
		"database.path": "db",
		"exec.mode":     "exec-mode",
		"exec.timeout":  "exec-timeout",
		"log.level":     "log-level",
		"log.format":    "log-format",
	} {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
	return cmd
}

func run(ctx context.Context, cfg *utils.Config) error {
	logger, closer, err := utils.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	ctx = utils.WithLogger(ctx, logger)

	mode, err := dispatch.ParseMode(cfg.Exec.Mode)
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	warnIfNoUsers(ctx, db, logger)

	executor := &dispatch.ProcessExecutor{
		Shell:     cfg.Exec.Shell,
		Timeout:   cfg.Exec.Timeout,
		WaitDelay: cfg.Exec.WaitDelay,
	}
	d := dispatch.New(db.Endpoints(), executor, dispatch.WithMode(mode))
	authenticator := auth.NewAuthenticator(db.Users(), cfg.Auth.Realm, func(err error) bool {
		return errors.Is(err, store.ErrNotFound)
	})

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(d, authenticator, logger, api.Options{
			CORSOrigins:    cfg.Server.CORSOrigins,
			MetricsEnabled: cfg.Metrics.Enabled,
			MetricsPath:    cfg.Metrics.Path,
		}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	var cm *certs.CertManager
	if cfg.Server.TLSEnabled() {
		cm = certs.NewCertManager(cfg.Server.TLSCert, cfg.Server.TLSKey)
		tlsCfg, leaf, err := cm.TLSConfig()
		if err != nil {
			return err
		}
		checkCertificate(logger, leaf)
		srv.TLSConfig = tlsCfg
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go reloadOnHangup(ctx, cm, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("database", db.Path()).
			Str("exec_mode", string(mode)).
			Dur("exec_timeout", cfg.Exec.Timeout).
			Bool("tls", cm != nil).
			Msg("Server running")
		if cm != nil {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func warnIfNoUsers(ctx context.Context, db *store.DB, logger zerolog.Logger) {
	users, err := db.Users().List(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not list users")
		return
	}
	if len(users) == 0 {
		logger.Warn().Msg("no users configured; every /api/ call will be rejected until one is added with controlx-admin user add")
	}
}

func checkCertificate(logger zerolog.Logger, leaf *x509.Certificate) {
	evt := logger.Info()
	switch {
	case certs.IsExpired(leaf):
		evt = logger.Error()
	case certs.ExpiresWithin(leaf, 14*24*time.Hour):
		evt = logger.Warn()
	}
	evt.Str("subject", leaf.Subject.CommonName).Time("not_after", leaf.NotAfter).Msg("TLS certificate loaded")
}

// reloadOnHangup re-reads the TLS key pair on SIGHUP.
func reloadOnHangup(ctx context.Context, cm *certs.CertManager, logger zerolog.Logger) {
	if cm == nil {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			leaf, err := cm.Reload()
			if err != nil {
				logger.Error().Err(err).Msg("TLS reload failed; keeping previous certificate")
				continue
			}
			checkCertificate(logger, leaf)
		}
	}
}
