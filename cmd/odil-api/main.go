package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/odil/backend/internal/board"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/config"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/database"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/refine"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/server"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "odil-api",
		Short: "Odil idea board backend service",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("cors-origins", defaults.GetString("cors.origins"), "Comma-separated allowed CORS origins")
	cmd.PersistentFlags().String("refine-api-key", "", "API key for the text refinement endpoint (overrides env)")
	cmd.PersistentFlags().String("refine-base-url", defaults.GetString("refine.base_url"), "Base URL of the OpenAI-compatible refinement endpoint")
	cmd.PersistentFlags().String("refine-model", defaults.GetString("refine.model"), "Model name for text refinement")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "cors.origins", "cors-origins")
	bindFlag(cmd, "refine.api_key", "refine-api-key")
	bindFlag(cmd, "refine.base_url", "refine-base-url")
	bindFlag(cmd, "refine.model", "refine-model")
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

	storeService, err := store.NewService(store.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: board.NewNanoidProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	refineClient := refine.NewClient(refine.Config{
		APIKey:  appConfig.RefineAPIKey,
		BaseURL: appConfig.RefineBaseURL,
		Model:   appConfig.RefineModel,
		Logger:  logger,
	})
	if !refineClient.Configured() {
		logger.Info("text refinement disabled, no api key configured")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:        storeService,
		Hub:          realtime.NewHub(logger),
		RefineClient: refineClient,
		AllowOrigins: appConfig.CORSOrigins,
		Logger:       logger,
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
