package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-journal/pkg/runtime"
)

// defaultAirdrop is one SOL.
const defaultAirdrop = 1_000_000_000

func newKeygenCommand(opts *rootOptions) *cobra.Command {
	var (
		outfile string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a keypair file in solana-keygen format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outfile == "" {
				outfile = opts.keypairPath
			}
			if _, err := os.Stat(outfile); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", outfile)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			key, err := solana.NewRandomPrivateKey()
			if err != nil {
				return fmt.Errorf("generate keypair: %w", err)
			}
			if err := writeKeypairFile(outfile, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote keypair to %s\npubkey: %s\n", outfile, key.PublicKey())
			return nil
		},
	}
	cmd.Flags().StringVarP(&outfile, "outfile", "o", "", "output path (defaults to --keypair)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

// writeKeypairFile stores key as a JSON array of byte values, the format
// solana-keygen writes.
func writeKeypairFile(path string, key solana.PrivateKey) error {
	values := make([]int, len(key))
	for i, b := range key {
		values[i] = int(b)
	}
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func newAirdropCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "airdrop [lamports] [address]",
		Short: "Fund an address, the keypair's by default",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lamports := uint64(defaultAirdrop)
			if len(args) > 0 {
				v, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid lamports %q: %w", args[0], err)
				}
				lamports = v
			}
			var addr string
			if len(args) > 1 {
				addr = args[1]
			}
			to, err := opts.ownerOrSelf(addr)
			if err != nil {
				return err
			}

			n, err := opts.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()

			r, err := n.Airdrop(cmd.Context(), to, lamports)
			if err != nil {
				return err
			}
			printReceipt(cmd, r)
			acc, err := n.GetAccount(to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Balance: %d lamports\n", acc.Lamports)
			return nil
		},
	}
}

// printReceipt writes a receipt summary followed by its program logs.
func printReceipt(cmd *cobra.Command, r *runtime.Receipt) {
	out := cmd.OutOrStdout()
	status := "success"
	if !r.Success {
		status = "failed: " + r.Error
	}
	fmt.Fprintf(out, "Seq: %d\n", r.Seq)
	if !r.Signature.IsZero() {
		fmt.Fprintf(out, "Signature: %s\n", r.Signature)
	}
	fmt.Fprintf(out, "Status: %s\n", status)
	if r.ComputeUnits > 0 {
		fmt.Fprintf(out, "Compute units: %d\n", r.ComputeUnits)
	}
	for _, line := range r.Logs {
		fmt.Fprintf(out, "  %s\n", line)
	}
}

// receiptErr turns a failed receipt into an error so the exit status
// reflects it.
func receiptErr(r *runtime.Receipt) error {
	if r.Success {
		return nil
	}
	if r.Code != 0 {
		return fmt.Errorf("transaction failed with code %d: %s", r.Code, r.Error)
	}
	return fmt.Errorf("transaction failed: %s", r.Error)
}
