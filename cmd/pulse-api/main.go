package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsefeed/pulse-backend/internal/auth"
	"github.com/pulsefeed/pulse-backend/internal/config"
	"github.com/pulsefeed/pulse-backend/internal/database"
	"github.com/pulsefeed/pulse-backend/internal/logging"
	"github.com/pulsefeed/pulse-backend/internal/messaging"
	"github.com/pulsefeed/pulse-backend/internal/notification"
	"github.com/pulsefeed/pulse-backend/internal/presence"
	"github.com/pulsefeed/pulse-backend/internal/realtime"
	"github.com/pulsefeed/pulse-backend/internal/server"
	"github.com/pulsefeed/pulse-backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulse-api",
		Short: "Pulse realtime messaging and notification service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("upstream-secret", "", "Upstream session token secret (overrides env)")
	cmd.PersistentFlags().String("upstream-issuer", defaults.GetString("auth.upstream_issuer"), "Upstream session token issuer")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Allowed CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.upstream_secret", "upstream-secret")
	bindFlag(cmd, "auth.upstream_issuer", "upstream-issuer")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "pulse-auth",
		Audience:      "pulse-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	sessionVerifier, err := auth.NewUpstreamVerifier(auth.UpstreamVerifierConfig{
		SigningSecret: []byte(appConfig.UpstreamSecret),
		Issuer:        appConfig.UpstreamIssuer,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	messageService, err := messaging.NewService(messaging.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: messaging.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	notificationService, err := notification.NewService(notification.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notification.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	registry := presence.NewRegistry()
	gateway, err := realtime.NewGateway(realtime.GatewayConfig{
		Registry:   registry,
		Messages:   messageService,
		Dispatcher: notificationService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionVerifier: sessionVerifier,
		TokenManager:    tokenManager,
		Users:           userService,
		Messages:        messageService,
		Notifications:   notificationService,
		Gateway:         gateway,
		AllowedOrigins:  appConfig.AllowedOrigins,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
