package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/zipaJopa/capalloc/internal/services/audit"
)

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Recompute tier and strategy allocations from the current budget",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return a.alloc.Rebalance(cmd.Context())
	},
}

var (
	requestStrategy   string
	requestAmount     string
	requestPositionID string
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request capital for a new position",
	RunE: func(cmd *cobra.Command, _ []string) error {
		amount, err := decimal.NewFromString(requestAmount)
		if err != nil {
			return errors.Wrap(err, "parse --amount")
		}
		if requestPositionID == "" {
			requestPositionID = uuid.NewString()
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		grant, err := a.alloc.RequestCapital(cmd.Context(), requestStrategy, amount, requestPositionID)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"position_id": requestPositionID,
			"grant":       grant,
		})
	},
}

var (
	closeStrategy   string
	closePositionID string
	closePnl        string
)

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Report a closed position and its realized P&L",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pnl, err := decimal.NewFromString(closePnl)
		if err != nil {
			return errors.Wrap(err, "parse --pnl")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return a.alloc.ReportTradeClose(cmd.Context(), closeStrategy, closePositionID, pnl)
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the current ledger snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		led, err := a.alloc.State(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(led)
	},
}

var auditMaxAge time.Duration

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Reconcile the ledger and report leaked positions and drift",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		led, err := a.alloc.State(cmd.Context())
		if err != nil {
			return err
		}

		findings := audit.Check(led, auditMaxAge, time.Now())
		if len(findings) == 0 {
			fmt.Println("ledger is consistent, no findings")
			return nil
		}
		if err := printJSON(findings); err != nil {
			return err
		}
		for _, finding := range findings {
			if finding.Severity == audit.SeverityCritical {
				os.Exit(1)
			}
		}
		return nil
	},
}

func init() {
	requestCmd.Flags().StringVar(&requestStrategy, "strategy", "", "strategy name")
	requestCmd.Flags().StringVar(&requestAmount, "amount", "", "requested capital in USDT")
	requestCmd.Flags().StringVar(&requestPositionID, "position-id", "", "position id (generated when omitted)")
	_ = requestCmd.MarkFlagRequired("strategy")
	_ = requestCmd.MarkFlagRequired("amount")

	closeCmd.Flags().StringVar(&closeStrategy, "strategy", "", "strategy name")
	closeCmd.Flags().StringVar(&closePositionID, "position-id", "", "position id")
	closeCmd.Flags().StringVar(&closePnl, "pnl", "", "realized P&L in USDT (negative for a loss)")
	_ = closeCmd.MarkFlagRequired("strategy")
	_ = closeCmd.MarkFlagRequired("position-id")
	_ = closeCmd.MarkFlagRequired("pnl")

	auditCmd.Flags().DurationVar(&auditMaxAge, "max-age", 7*24*time.Hour, "flag positions open longer than this")
}

func printJSON(payload interface{}) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode output")
	}
	fmt.Println(string(encoded))
	return nil
}
