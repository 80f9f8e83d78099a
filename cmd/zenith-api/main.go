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

	"github.com/Podnation93/Zenith-PDF-sub001/internal/access"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/auth"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/config"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/database"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/logging"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/realtime"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/server"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zenith-api",
		Short: "Zenith PDF real-time annotation service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newGrantCommand(), newRevokeCommand(), newTokenCommand())

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
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Origins allowed to open sessions")
	cmd.PersistentFlags().Duration("heartbeat-timeout", defaults.GetDuration("realtime.heartbeat_timeout"), "Evict connections silent for longer than this")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "realtime.heartbeat_timeout", "heartbeat-timeout")
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

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newGrantCommand() *cobra.Command {
	var userID, documentID, levelName string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a user a permission level on a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrant(cmd.Context(), userID, documentID, levelName)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User identifier")
	cmd.Flags().StringVar(&documentID, "document", "", "Document identifier")
	cmd.Flags().StringVar(&levelName, "level", access.LevelView.String(), "Permission level (none, view, comment, edit, admin)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func newRevokeCommand() *cobra.Command {
	var userID, documentID string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Remove a user's permission on a document",
		Long:  "Remove a user's permission on a document. Connected sessions lose access on their next mutation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevoke(cmd.Context(), userID, documentID)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User identifier")
	cmd.Flags().StringVar(&documentID, "document", "", "Document identifier")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var userID, displayName string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.Auth.SigningSecret),
				Issuer:        appConfig.Auth.Issuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(userID, displayName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User identifier")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name shown to collaborators")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to 30m)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

// permissionTarget opens the permission store for offline tooling and
// resolves the user and document the command acts on.
type permissionTarget struct {
	store      *store.Store
	logger     *zap.Logger
	userID     document.UserID
	documentID document.DocumentID
	close      func()
}

func openPermissionTarget(rawUserID, rawDocumentID string) (permissionTarget, error) {
	userID, err := document.NewUserID(rawUserID)
	if err != nil {
		return permissionTarget{}, err
	}
	documentID, err := document.NewDocumentID(rawDocumentID)
	if err != nil {
		return permissionTarget{}, err
	}
	appConfig, err := config.LoadStorage(viper.GetViper())
	if err != nil {
		return permissionTarget{}, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return permissionTarget{}, err
	}
	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		_ = logger.Sync()
		return permissionTarget{}, err
	}
	durable, err := store.New(store.Config{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		closeDB()
		_ = logger.Sync()
		return permissionTarget{}, err
	}
	return permissionTarget{
		store:      durable,
		logger:     logger,
		userID:     userID,
		documentID: documentID,
		close: func() {
			closeDB()
			_ = logger.Sync()
		},
	}, nil
}

func runGrant(ctx context.Context, rawUserID, rawDocumentID, levelName string) error {
	level, err := access.ParseLevel(levelName)
	if err != nil {
		return err
	}
	target, err := openPermissionTarget(rawUserID, rawDocumentID)
	if err != nil {
		return err
	}
	defer target.close()

	if level == access.LevelNone {
		return runRevokeTarget(ctx, target)
	}
	if err := target.store.Grant(ctx, target.userID, target.documentID, level); err != nil {
		return err
	}
	target.logger.Info("permission granted",
		zap.String("user_id", target.userID.String()),
		zap.String("document_id", target.documentID.String()),
		zap.String("level", level.String()))
	return nil
}

func runRevoke(ctx context.Context, rawUserID, rawDocumentID string) error {
	target, err := openPermissionTarget(rawUserID, rawDocumentID)
	if err != nil {
		return err
	}
	defer target.close()
	return runRevokeTarget(ctx, target)
}

func runRevokeTarget(ctx context.Context, target permissionTarget) error {
	if err := target.store.Revoke(ctx, target.userID, target.documentID); err != nil {
		return err
	}
	target.logger.Info("permission revoked",
		zap.String("user_id", target.userID.String()),
		zap.String("document_id", target.documentID.String()))
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	durable, err := store.New(store.Config{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}

	guard, err := access.NewGuard(access.GuardConfig{Lookup: durable, Logger: logger})
	if err != nil {
		return err
	}

	persister, err := realtime.NewPersister(realtime.PersisterConfig{
		Store:           durable,
		QueueSize:       appConfig.Persist.Queue,
		MaxElapsed:      appConfig.Persist.MaxElapsed,
		InitialInterval: appConfig.Persist.InitialInterval,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	hub, err := realtime.NewHub(realtime.HubConfig{
		Authorizer:       guard,
		Loader:           persister,
		Sink:             persister,
		Clock:            time.Now,
		HeartbeatTimeout: appConfig.Realtime.HeartbeatTimeout,
		SweepInterval:    appConfig.Realtime.SweepInterval,
		OutboundQueue:    appConfig.Realtime.OutboundQueue,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.Auth.SigningSecret),
		Issuer:        appConfig.Auth.Issuer,
		CookieName:    appConfig.Auth.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Hub:              hub,
		AllowedOrigins:   appConfig.AllowedOrigins,
		Websocket: realtime.WebsocketConfig{
			WriteTimeout:    appConfig.Realtime.WriteTimeout,
			MaxMessageBytes: appConfig.Realtime.MaxMessageBytes,
		},
		Logger: logger,
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

	// The persister outlives the signal so records broadcast during shutdown
	// still reach the store.
	persistCtx, stopPersist := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPersist()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return persister.Run(persistCtx)
	})
	group.Go(func() error {
		return hub.RunSweeper(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		defer stopPersist()
		logger.Info("server shutting down", zap.Int("connections", hub.Connections()))
		hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
