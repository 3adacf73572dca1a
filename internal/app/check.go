package app

import (
	"fmt"
	"io"
	"text/tabwriter"

	"sol-outflow-alerts/internal/alerting"
	"sol-outflow-alerts/internal/ledger"
)

// CheckConfig prints the effective monitoring setup.
func (a *App) CheckConfig(out io.Writer) error {
	threshold, err := a.Config.ThresholdLamports()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "endpoint:  %s (commitment %s)\n", a.Config.Solana.WSURL, a.Config.Solana.Commitment)
	fmt.Fprintf(out, "threshold: %s SOL (%d lamports)\n", ledger.FormatSOL(threshold), threshold)
	fmt.Fprintf(out, "backoff:   %s .. %s\n", a.Config.Monitor.BackoffFloor, a.Config.Monitor.BackoffCeiling)
	fmt.Fprintf(out, "channels:  telegram=%t redis=%t\n", a.Config.ChannelEnabled("telegram"), a.Config.ChannelEnabled("redis"))

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tAccount\tExplorer")
	for i, addr := range a.Config.Monitor.Addresses {
		fmt.Fprintf(writer, "%d\t%s\t%s\n", i+1, addr, alerting.AccountURL(a.Config.Alerting.ExplorerBase, addr))
	}
	return writer.Flush()
}
