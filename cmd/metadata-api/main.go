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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/relaygrid/metadata/internal/auth"
	"github.com/relaygrid/metadata/internal/cache"
	"github.com/relaygrid/metadata/internal/config"
	"github.com/relaygrid/metadata/internal/conversations"
	"github.com/relaygrid/metadata/internal/database"
	"github.com/relaygrid/metadata/internal/directory"
	"github.com/relaygrid/metadata/internal/identity"
	"github.com/relaygrid/metadata/internal/ingest"
	"github.com/relaygrid/metadata/internal/logging"
	"github.com/relaygrid/metadata/internal/server"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "metadata-api",
		Short: "Messaging metadata authority",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or file path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address for the directory cache (empty disables)")
	cmd.PersistentFlags().StringSlice("kafka-brokers", defaults.GetStringSlice("kafka.brokers"), "Kafka brokers for profile sync (empty disables)")
	cmd.PersistentFlags().String("kafka-topic", defaults.GetString("kafka.topic"), "Profile sync topic")
	cmd.PersistentFlags().String("kafka-group", defaults.GetString("kafka.group"), "Profile sync consumer group")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Service token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Service token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "kafka.brokers", "kafka-brokers")
	bindFlag(cmd, "kafka.topic", "kafka-topic")
	bindFlag(cmd, "kafka.group", "kafka-group")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

// newTokenCommand mints a service token for a gateway or ingestion
// collaborator, printing it to stdout.
func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token for an RPC collaborator",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			tokens := auth.NewServiceTokenManager(auth.ServiceTokenManagerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				TokenTTL:      appConfig.TokenTTL,
			})
			token, expiresIn, err := tokens.IssueServiceToken(subject)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in=%d\n", token, expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Collaborator name placed in the token subject")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
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

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var directoryCache cache.Cache
	if appConfig.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(signalCtx, appConfig.RedisAddr)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		directoryCache = redisCache
		logger.Info("directory cache enabled", zap.String("redis_addr", appConfig.RedisAddr))
	}

	tokens := auth.NewServiceTokenManager(auth.ServiceTokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})

	conversationService, err := conversations.NewService(conversations.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: conversations.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	allocator, err := conversations.NewAllocator(conversations.AllocatorConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	identityService, err := identity.NewService(identity.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	directoryService, err := directory.NewService(directory.ServiceConfig{
		Database: db,
		Cache:    directoryCache,
		CacheTTL: appConfig.CacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:        tokens,
		Conversations: conversationService,
		Allocator:     allocator,
		Identities:    identityService,
		Directory:     directoryService,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)

	if appConfig.SyncEnabled() {
		applier, err := ingest.NewApplier(ingest.ApplierConfig{
			Directory:  directoryService,
			Identities: identityService,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		consumer, err := ingest.NewConsumer(ingest.ConsumerConfig{
			Brokers: appConfig.KafkaBrokers,
			Topic:   appConfig.KafkaTopic,
			GroupID: appConfig.KafkaGroup,
			Applier: applier,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		defer consumer.Close()

		go func() {
			logger.Info("profile-sync consumer starting",
				zap.Strings("brokers", appConfig.KafkaBrokers),
				zap.String("topic", appConfig.KafkaTopic))
			if err := consumer.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
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
