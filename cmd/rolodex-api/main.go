package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/config"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/contacts"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/database"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/directory"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/reconcile"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/scheduler"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/server"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/telephony"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rolodex-api",
		Short: "Rolodex directory reconciliation service",
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
	cmd.PersistentFlags().String("ldap-host", defaults.GetString("ldap.host"), "Directory server host")
	cmd.PersistentFlags().Int("ldap-port", defaults.GetInt("ldap.port"), "Directory server port")
	cmd.PersistentFlags().String("ldap-base-dn", defaults.GetString("ldap.base_dn"), "Directory search root")
	cmd.PersistentFlags().Bool("sync-enabled", defaults.GetBool("sync.enabled"), "Enable the background sync trigger")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Background sync interval")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "ldap.host", "ldap-host")
	bindFlag(cmd, "ldap.port", "ldap-port")
	bindFlag(cmd, "ldap.base_dn", "ldap-base-dn")
	bindFlag(cmd, "sync.enabled", "sync-enabled")
	bindFlag(cmd, "sync.interval", "sync-interval")
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

	idProvider := contacts.NewUUIDProvider()

	store, err := contacts.NewStore(contacts.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ldapClient := directory.NewClient(directory.ClientConfig{
		Directory: directory.Config{
			Host:                appConfig.LDAP.Host,
			Port:                appConfig.LDAP.Port,
			UseTLS:              appConfig.LDAP.UseTLS,
			BindDN:              appConfig.LDAP.BindDN,
			BindPassword:        appConfig.LDAP.BindPassword,
			AllowAnonymous:      appConfig.LDAP.AllowAnonymous,
			BaseDN:              appConfig.LDAP.BaseDN,
			PageSize:            appConfig.LDAP.PageSize,
			MaxEntries:          appConfig.LDAP.MaxEntries,
			ExcludeAffiliations: appConfig.LDAP.ExcludeAffiliations,
		},
		Logger: logger,
	})
	ldapDirectory := reconcile.NewLDAPDirectory(ldapClient)

	enricher := telephony.NewClient(telephony.ClientConfig{
		AXL: telephony.Config{
			Host:       appConfig.AXL.Host,
			Username:   appConfig.AXL.Username,
			Password:   appConfig.AXL.Password,
			SkipVerify: appConfig.AXL.SkipVerify,
		},
		Logger: logger,
	})

	engine, err := reconcile.NewEngine(reconcile.EngineConfig{
		Database:   db,
		Directory:  ldapDirectory,
		Enricher:   enricher,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
		BatchSize:  appConfig.Sync.BatchSize,
	})
	if err != nil {
		return err
	}

	importer, err := reconcile.NewImporter(reconcile.ImporterConfig{
		Database:   db,
		Directory:  ldapDirectory,
		Enricher:   enricher,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	resolver, err := reconcile.NewResolver(reconcile.ResolverConfig{
		Database:   db,
		Directory:  ldapDirectory,
		Importer:   importer,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine:    engine,
		Importer:  importer,
		Resolver:  resolver,
		Directory: ldapDirectory,
		Store:     store,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if appConfig.Sync.Enabled {
		syncScheduler, err := scheduler.New(scheduler.Config{
			Interval: appConfig.Sync.Interval,
			Run: func(ctx context.Context) error {
				_, err := engine.Sync(ctx)
				return err
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}
		syncScheduler.Start(signalCtx)
		defer syncScheduler.Stop()
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

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
