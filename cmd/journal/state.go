package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-journal/pkg/ledger"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [address]",
		Short: "List receipts that reference an address, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr string
			if len(args) > 0 {
				addr = args[0]
			}
			key, err := opts.ownerOrSelf(addr)
			if err != nil {
				return err
			}
			n, err := opts.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()

			receipts, err := n.History(key, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tKIND\tSTATUS\tTIME\tSIGNATURE")
			for _, r := range receipts {
				status := "ok"
				if !r.Success {
					status = "failed"
				}
				sig := "-"
				if !r.Signature.IsZero() {
					sig = r.Signature.String()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.Seq, r.Kind, status, r.ProcessedAt.UTC().Format(time.RFC3339), sig)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", ledger.DefaultHistoryLimit, "maximum number of receipts")
	return cmd
}

func newStateHashCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state-hash",
		Short: "Print the Merkle root over all accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := opts.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()

			hash, err := n.StateHash()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print node status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := opts.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()

			status, err := n.Status()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Program: %s\n", status.ProgramID)
			fmt.Fprintf(out, "Accounts: %d\n", status.AccountsCount)
			fmt.Fprintf(out, "Latest seq: %d\n", status.LatestSeq)
			fmt.Fprintf(out, "State hash: %s\n", status.StateHash)
			return nil
		},
	}
}

func newSnapshotCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import account state",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "export <path>",
			Short: "Write all accounts to a snapshot file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := opts.openNode(cmd)
				if err != nil {
					return err
				}
				defer n.Close()

				header, err := n.ExportSnapshot(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d accounts, state hash %s\n", header.AccountsCount, header.StateHash)
				return nil
			},
		},
		&cobra.Command{
			Use:   "import <path>",
			Short: "Load a snapshot file into an empty node",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := opts.openNode(cmd)
				if err != nil {
					return err
				}
				defer n.Close()

				header, err := n.ImportSnapshot(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d accounts, state hash %s\n", header.AccountsCount, header.StateHash)
				return nil
			},
		},
	)
	return cmd
}
