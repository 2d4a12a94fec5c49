package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/vitwit/paygate"
	"github.com/vitwit/paygate/config"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/replay"
	"github.com/vitwit/paygate/types"
)

// loadConfig reads the environment and applies the global and command
// flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if v := c.String("rpc-url"); v != "" {
		cfg.Network.RPCURL = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if c.IsSet("addr") {
		cfg.ServerAddr = c.String("addr")
	}
	if c.IsSet("mode") {
		cfg.Mode = types.VerificationMode(c.String("mode"))
	}
	if c.IsSet("mock-ai") {
		cfg.UseMockAI = c.Bool("mock-ai")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides SERVER_ADDR)",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Verification mode: direct or contract (overrides VERIFICATION_MODE)",
			},
			&cli.BoolFlag{
				Name:  "mock-ai",
				Usage: "Answer with mock responses instead of calling providers",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			log, err := logger.NewZapLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw, err := paygate.New(ctx, cfg, paygate.WithLogger(log))
			if err != nil {
				return fmt.Errorf("failed to start gateway: %w", err)
			}
			defer func() { _ = gw.Close() }()

			log.Info("paygate starting", map[string]any{
				"version":  version,
				"addr":     cfg.ServerAddr,
				"network":  cfg.Network.Name,
				"chain_id": cfg.Network.ChainID,
				"mode":     cfg.Mode.String(),
				"store":    cfg.ReplayStore,
				"mock_ai":  cfg.UseMockAI,
			})
			return gw.Serve(ctx)
		},
	}
}

// openGateway builds a gateway for one-shot commands. An in-memory replay
// store is used unless persist is set.
func openGateway(c *cli.Context, persist bool) (*paygate.Gateway, *config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	if !persist {
		cfg.ReplayStore = replay.StoreMemory
	}
	cfg.NATSURL = ""

	log, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	gw, err := paygate.New(context.Background(), cfg, paygate.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	return gw, cfg, nil
}
