package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "paygate",
		Usage: "Pay-per-prompt AI gateway with on-chain payment verification",
		Description: `Serves AI prompts that are paid for with native-token transfers on an EVM chain.

Configuration is read from the environment (and a .env file in the working
directory); the flags below override selected values.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Before: func(c *cli.Context) error {
			if err := godotenv.Load(c.String("env-file")); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load %s: %w", c.String("env-file"), err)
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			verifyCommand(),
			relayCheckCommand(),
			pricingCommand(),
			{
				Name:  "server",
				Usage: "Query a running gateway",
				Subcommands: []*cli.Command{
					healthCommand(),
					infoCommand(),
				},
			},
			versionCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Environment file loaded before the configuration",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "EVM JSON-RPC endpoint",
				EnvVars: []string{"RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Base URL of a running gateway",
				EnvVars: []string{"PAYGATE_URL"},
				Value:   "http://localhost:3000",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
