package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vmorsell/stage-remote/internal/config"
	"github.com/vmorsell/stage-remote/internal/hostbus"
	"github.com/vmorsell/stage-remote/internal/server"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "stage-remote",
	Short: "Remote control server for the teleprompter stage view",
	Long: `stage-remote serves a mobile control page over HTTP and a WebSocket
gateway on the next port. Phones on the same network send playback
commands and receive the shared playback status in real time.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	flags.String("host", "", "interface to bind")
	flags.Int("port", 0, "HTTP port; the WebSocket gateway uses port+1")
	flags.Int("ws-port", 0, "explicit WebSocket port")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("dev", false, "human readable development logging")

	mustBind("server.host", "host")
	mustBind("server.port", "port")
	mustBind("server.ws_port", "ws-port")
	mustBind("log.level", "log-level")
	mustBind("log.development", "dev")
}

func mustBind(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	bus := hostbus.New(logger.Named("host"))
	defer bus.Close()

	events, unsubscribe := bus.Subscribe(0)
	defer unsubscribe()
	go func() {
		for ev := range events {
			logger.Info("host event", zap.String("event", ev.Name), zap.Any("payload", ev.Payload))
		}
	}()

	srv := server.New(logger, cfg, bus)
	info, err := srv.Start(ctx)
	if err != nil {
		if !info.Running {
			logger.Error("failed to start remote control server", zap.Error(err))
			return err
		}
		logger.Warn("remote control server started with errors", zap.Error(err))
	}

	logger.Info("open the remote on your phone",
		zap.String("url", info.ConnectionURL),
		zap.Int("http_port", info.Port),
		zap.Int("ws_port", info.WSPort))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
