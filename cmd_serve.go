package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"lumen/config"
	"lumen/server"
	"lumen/storage"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

var devLogging bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Lumen backend",
	Long: `Runs the HTTP backend: Google sign-in, API key storage, the streaming
chat relay and calendar event creation.

Variables in a .env file in the working directory are loaded first.
With server.encryption = "secret", LUMEN_SECRET must hold at least 16
characters. With "ssh_key", an encrypted key takes its passphrase from
LUMEN_SSH_PASSPHRASE.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devLogging, "dev", false, "Log human-readable debug output")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newServerLogger(devLogging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	enc, err := serverEncryption(cfg)
	if err != nil {
		return err
	}

	accounts, err := storage.NewAccountStore(cfg.DatabasePath(), enc)
	if err != nil {
		return err
	}
	defer accounts.Close()

	listen := cfg.Server.Listen
	if listen == "" {
		listen = config.DefaultListen
	}

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           server.New(cfg, accounts, logger).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", listen),
			zap.String("database", cfg.DatabasePath()),
			zap.String("encryption", string(enc.GetMethod())),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newServerLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}

	zcfg := zap.NewProductionConfig()
	if config.CheckDebug() {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

// serverEncryption builds the manager that seals stored keys and tokens.
func serverEncryption(cfg *config.Config) (*config.EncryptionManager, error) {
	var enc *config.EncryptionManager

	switch config.EncryptionMethod(cfg.Server.Encryption) {
	case config.EncryptionSSHKey:
		keyPath, err := config.ResolveSSHKeyPath(cfg.Server.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("server.encryption is %q: %w", config.EncryptionSSHKey, err)
		}
		enc = config.NewEncryptionManager(config.EncryptionSSHKey, keyPath)
		enc.SetPassphrase(os.Getenv("LUMEN_SSH_PASSPHRASE"))
	default:
		if cfg.Secret == "" {
			return nil, errors.New("LUMEN_SECRET must be set to encrypt stored keys")
		}
		enc = config.NewSecretEncryptionManager(cfg.Secret)
	}

	if err := enc.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	return enc, nil
}
