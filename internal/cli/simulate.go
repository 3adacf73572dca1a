package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"sol-outflow-alerts/internal/ledger"
)

var (
	simulateAccount  string
	simulateReadings string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一组余额变化并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateAccount == "" {
			return errors.New("--account 必须指定")
		}

		readings, err := parseReadings(simulateReadings)
		if err != nil {
			return err
		}

		sent, err := getApp().SimulateAlert(cmd.Context(), simulateAccount, readings)
		fmt.Fprintf(cmd.OutOrStdout(), "已发送告警: %d\n", sent)
		return err
	},
}

func parseReadings(raw string) ([]int64, error) {
	var readings []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sol, err := decimal.NewFromString(part)
		if err != nil {
			return nil, fmt.Errorf("余额读数 %q 无效: %w", part, err)
		}
		if sol.IsNegative() {
			return nil, fmt.Errorf("余额读数 %q 不能为负", part)
		}
		lamports, err := ledger.FromSOL(sol)
		if err != nil {
			return nil, fmt.Errorf("余额读数 %q 超出范围: %w", part, err)
		}
		readings = append(readings, lamports)
	}
	if len(readings) < 2 {
		return nil, errors.New("--readings 至少需要两个余额 (SOL)")
	}
	return readings, nil
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAccount, "account", "", "账户地址 (base58)")
	simulateCmd.Flags().StringVar(&simulateReadings, "readings", "", "逗号分隔的余额序列, 单位 SOL, 例如 500,470")
}
