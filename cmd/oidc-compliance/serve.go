package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/pardot/oidc-compliance/internal/catalog"
	"github.com/pardot/oidc-compliance/internal/config"
	"github.com/pardot/oidc-compliance/oidcserver"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const sessionAuthKeyBytesLength = 64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the provider",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var ( // flags
	configPath      string
	addr            string
	issuer          string
	insecureCookies bool
	logLevel        string
)

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the config file")
	serveCmd.Flags().StringVar(&addr, "addr", "", "Address to listen on, overrides the config file")
	serveCmd.Flags().StringVar(&issuer, "issuer", "", "Issuer URL, overrides the config file")
	serveCmd.Flags().BoolVar(&insecureCookies, "insecure-cookies", false, "Allow session cookies over plain HTTP")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level, overrides the config file")
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if issuer != "" {
		cfg.Issuer = issuer
	}
	if insecureCookies {
		cfg.Session.Insecure = true
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Logging.Logger()
	if err != nil {
		return errors.Wrap(err, "Error creating logger")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStorage, err := cfg.Storage.Open(ctx)
	if err != nil {
		return errors.Wrap(err, "Error opening storage")
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.WithError(err).Error("failed to close storage")
		}
	}()

	sig, err := cfg.Signer.Open(ctx, logger.WithField("component", "signer"), st, time.Duration(cfg.Lifetimes.IDTokens))
	if err != nil {
		return errors.Wrap(err, "Error creating signer")
	}

	authKey, encryptKey, err := cfg.Session.Keys()
	if err != nil {
		return err
	}
	if authKey == nil {
		logger.Warn("no session authKey configured, generating one. Users will be signed out on restart")
		authKey = make([]byte, sessionAuthKeyBytesLength)
		if _, err := rand.Read(authKey); err != nil {
			return errors.Wrap(err, "Error generating session key")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(os.Getpid(), ""),
	)

	sc := cfg.ServerConfig()
	sc.Storage = st
	sc.Users = catalog.Default()
	sc.Signer = sig
	sc.SessionAuthKey = authKey
	sc.SessionEncryptKey = encryptKey
	sc.Logger = logger
	sc.PrometheusRegistry = registry

	s, err := oidcserver.NewServer(ctx, sc)
	if err != nil {
		return errors.Wrap(err, "Error creating server")
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handlers.CombinedLoggingHandler(logger.Writer(), s),
	}

	errC := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Addr, "issuer": cfg.Issuer}).Info("listening")
		errC <- srv.ListenAndServe()
	}()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errC:
		return errors.Wrap(err, "Error serving")
	case sg := <-sigC:
		logger.WithField("signal", sg).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
