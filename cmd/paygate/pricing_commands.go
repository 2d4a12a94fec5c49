package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"github.com/vitwit/paygate/config"
	"github.com/vitwit/paygate/pricing"
)

func pricingCommand() *cli.Command {
	return &cli.Command{
		Name:  "pricing",
		Usage: "Show the model price list",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Usage:   "JSON pricing file (overrides PRICING_FILE)",
				EnvVars: []string{"PRICING_FILE"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			var table *pricing.Table
			if path := c.String("file"); path != "" {
				table, err = pricing.LoadFile(path, cfg.Network.Currency, cfg.Network.Decimals)
			} else {
				table, err = pricing.Default(cfg.Network.Currency, cfg.Network.Decimals)
			}
			if err != nil {
				return err
			}

			if c.Bool("json") {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(table.Models())
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tNAME\tCOST\tWEI")
			for _, m := range table.Models() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Cost, m.CostWei)
			}
			return w.Flush()
		},
	}
}
