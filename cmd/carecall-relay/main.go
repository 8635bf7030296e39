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
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/BioHazard786/carecall/internal/config"
	"github.com/BioHazard786/carecall/internal/logging"
	"github.com/BioHazard786/carecall/internal/server"
	"github.com/BioHazard786/carecall/internal/signaling"
	"github.com/BioHazard786/carecall/internal/version"
)

var loadOpts config.LoadOptions

var rootCmd = &cobra.Command{
	Use:     "carecall-relay",
	Short:   "WebRTC signaling relay for carecall video consultations",
	Long:    `carecall-relay forwards offer, answer and ice-candidate messages between the participants of a call room. It never touches media; peers connect directly once negotiation completes.`,
	Version: version.Version,
	RunE:    runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(loadOpts)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&loadOpts.File, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&loadOpts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(serveCmd, configCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(loadOpts)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Relay, logger *zap.Logger) error {
	hub := signaling.NewHub(signaling.NewMemoryDirectory(), signaling.Options{
		SingleRoom:  cfg.SingleRoom,
		Presence:    cfg.Presence,
		MaxRoomSize: cfg.MaxRoomSize,
	}, logger)

	limits := signaling.DefaultLimits()
	limits.PongWait = cfg.PongWaitDuration()
	limits.PingPeriod = (limits.PongWait * 9) / 10
	limits.WriteWait = cfg.WriteWaitDuration()
	limits.MaxMessageBytes = cfg.MaxMessageBytes
	limits.SendQueueSize = cfg.SendQueueSize

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.New(hub, server.Options{
			AllowedOrigins: cfg.Origins(),
			Limits:         limits,
		}, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("relay listening", zap.String("addr", cfg.ListenAddr), zap.String("version", version.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeoutDuration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// Hijacked websocket connections are not covered by Shutdown; stopping the
	// hub closes every outbound queue, which makes each write pump close its socket.
	stopHub()
	<-hubDone

	return runErr
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
