package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/vitwit/paygate"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set PAYGATE_URL env var or use --server-url)")
			}

			client := &http.Client{Timeout: c.Duration("timeout")}
			resp, err := client.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Fprintf(c.App.Writer, "✓ Server is healthy (status: %d)\n", resp.StatusCode)
				fmt.Fprintf(c.App.Writer, "  URL: %s\n", serverURL)
				return nil
			}
			return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show network, receiver and pricing of a running gateway",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			client := &http.Client{Timeout: c.Duration("timeout")}
			resp, err := client.Get(c.String("server-url") + "/info")
			if err != nil {
				return fmt.Errorf("info request failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			var info map[string]any
			if err := json.Unmarshal(data, &info); err != nil {
				return fmt.Errorf("invalid info response: %w", err)
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, string(out))
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "paygate CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			fmt.Fprintf(c.App.Writer, "  Library: %s\n", paygate.Version)
			return nil
		},
	}
}
