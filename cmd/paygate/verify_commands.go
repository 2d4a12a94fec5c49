package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/vitwit/paygate/types"
)

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify payment transactions against the chain",
		ArgsUsage: "<tx-hash> [tx-hash...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "model",
				Aliases:  []string{"m"},
				Usage:    "Model the payments are for",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "persist",
				Usage: "Record accepted payments in the configured replay store",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Verification mode: direct or contract",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one transaction hash is required")
			}

			gw, cfg, err := openGateway(c, c.Bool("persist"))
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			claims := make([]types.PaymentClaim, 0, c.NArg())
			for _, hash := range c.Args().Slice() {
				claims = append(claims, types.PaymentClaim{Ref: hash, ModelID: c.String("model")})
			}

			results, err := gw.BatchVerify(c.Context, claims, 4)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			failed := 0
			for i, res := range results {
				ref := types.NormalizeTxRef(claims[i].Ref)
				if res.IsValid {
					fmt.Fprintf(c.App.Writer, "✓ %s\n", ref)
					fmt.Fprintf(c.App.Writer, "  Amount: %s\n", gw.Pricing().FormatAmount(res.Payment.Amount))
					if res.Payment.Payer != "" {
						fmt.Fprintf(c.App.Writer, "  Payer:  %s\n", res.Payment.Payer)
					}
					fmt.Fprintf(c.App.Writer, "  Link:   %s\n", cfg.Network.TxURL(ref))
					continue
				}
				failed++
				fmt.Fprintf(c.App.Writer, "✗ %s\n", ref)
				fmt.Fprintf(c.App.Writer, "  Reason: %s\n", res.InvalidReason)
				fmt.Fprintf(c.App.Writer, "  %s\n", res.Message)
			}

			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d payments rejected", failed, len(results)), 1)
			}
			return nil
		},
	}
}

func relayCheckCommand() *cli.Command {
	return &cli.Command{
		Name:      "relay-check",
		Usage:     "Validate a signed payment transaction without broadcasting it",
		ArgsUsage: "<signed-tx-hex>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "model",
				Aliases:  []string{"m"},
				Usage:    "Model the payment is for",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("exactly one signed transaction is required")
			}

			gw, _, err := openGateway(c, false)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			res, err := gw.CheckSignedTx(c.Args().First(), c.String("model"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			if !res.Success {
				fmt.Fprintf(c.App.Writer, "✗ %s: %s\n", res.Reason, res.Message)
				return cli.Exit("signed transaction rejected", 1)
			}
			fmt.Fprintf(c.App.Writer, "✓ %s\n", res.TxHash)
			fmt.Fprintf(c.App.Writer, "  Payer: %s\n", res.Payer)
			fmt.Fprintf(c.App.Writer, "  Value: %s\n", gw.Pricing().FormatAmount(res.Value))
			return nil
		},
	}
}
