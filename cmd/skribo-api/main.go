package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/haldvik/skribo/internal/accounts"
	"github.com/haldvik/skribo/internal/auth"
	"github.com/haldvik/skribo/internal/broadcast"
	"github.com/haldvik/skribo/internal/config"
	"github.com/haldvik/skribo/internal/logging"
	"github.com/haldvik/skribo/internal/persistence"
	"github.com/haldvik/skribo/internal/server"
	"github.com/haldvik/skribo/internal/store"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "skribo-api",
		Short: "Skribo note sync service",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("backend", defaults.GetString("persistence.backend"), "Persistence backend (file, gist, sqlite)")
	cmd.PersistentFlags().String("data-file", defaults.GetString("persistence.path"), "Archive path for the file backend")
	cmd.PersistentFlags().String("database-path", defaults.GetString("persistence.database_path"), "SQLite database path")
	cmd.PersistentFlags().String("gist-id", defaults.GetString("gist.id"), "Gist id for the gist backend")
	cmd.PersistentFlags().String("gist-filename", defaults.GetString("gist.filename"), "File name inside the gist")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (enables multi-account mode)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "persistence.backend", "backend")
	bindFlag(cmd, "persistence.path", "data-file")
	bindFlag(cmd, "persistence.database_path", "database-path")
	bindFlag(cmd, "gist.id", "gist-id")
	bindFlag(cmd, "gist.filename", "gist-filename")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// A local .env is convenient in development; missing is fine.
	godotenv.Load() //nolint:errcheck

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

	adapter, err := buildAdapter(appConfig, logger)
	if err != nil {
		return err
	}

	broadcaster := broadcast.NewBroadcaster()

	noteStore, err := store.NewStore(store.Config{
		Adapter:      adapter,
		Broadcaster:  broadcaster,
		Clock:        time.Now,
		Logger:       logger,
		HistoryLimit: appConfig.HistoryLimit,
		NotesLimit:   appConfig.NotesLimit,
	})
	if err != nil {
		return err
	}
	if err := noteStore.Open(ctx); err != nil {
		return err
	}

	deps := server.Dependencies{
		Store:       noteStore,
		Broadcaster: broadcaster,
		Logger:      logger,
	}
	if appConfig.MultiAccount() {
		accountService, err := accounts.NewService(noteStore, logger)
		if err != nil {
			return err
		}
		deps.Accounts = accountService
		deps.Tokens = auth.NewTokenIssuer(auth.TokenIssuerConfig{
			SigningSecret: []byte(appConfig.SigningSecret),
			Issuer:        "skribo-auth",
			Audience:      "skribo-api",
			TokenTTL:      appConfig.TokenTTL,
		})
	}

	handler, err := server.NewHTTPHandler(deps)
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("backend", appConfig.Backend),
			zap.Bool("multi_account", appConfig.MultiAccount()))
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
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return noteStore.Close(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildAdapter(cfg config.AppConfig, logger *zap.Logger) (persistence.Adapter, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return persistence.NewFile(cfg.FilePath)
	case config.BackendGist:
		return persistence.NewGist(persistence.GistConfig{
			APIURL:   cfg.GistAPIURL,
			Token:    cfg.GistToken,
			GistID:   cfg.GistID,
			Filename: cfg.GistFilename,
		})
	case config.BackendSQLite:
		db, err := persistence.OpenSQLite(cfg.DatabasePath, logger)
		if err != nil {
			return nil, err
		}
		return persistence.NewSQLite(db)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}
