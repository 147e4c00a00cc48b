package main

import (
	"crypto/ed25519"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-journal/pkg/encoding"
	"github.com/fortiblox/x1-journal/pkg/node"
	"github.com/fortiblox/x1-journal/pkg/runtime"
	"github.com/fortiblox/x1-journal/pkg/svm/programs/journal"
)

// entryAction submits one journal instruction signed by the keypair.
type entryAction func(n *node.Node, cmd *cobra.Command, key ed25519.PrivateKey, args []string) (*runtime.Receipt, error)

func newEntryCommand(opts *rootOptions, use, short string, args cobra.PositionalArgs, action entryAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := opts.loadKeypair()
			if err != nil {
				return err
			}
			n, err := opts.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()

			r, err := action(n, cmd, key, args)
			if err != nil {
				return err
			}
			printReceipt(cmd, r)
			return receiptErr(r)
		},
	}
}

func newCreateCommand(opts *rootOptions) *cobra.Command {
	return newEntryCommand(opts, "create <title> <message>", "Create a journal entry", cobra.ExactArgs(2),
		func(n *node.Node, cmd *cobra.Command, key ed25519.PrivateKey, args []string) (*runtime.Receipt, error) {
			return n.CreateEntry(cmd.Context(), key, args[0], args[1])
		})
}

func newUpdateCommand(opts *rootOptions) *cobra.Command {
	return newEntryCommand(opts, "update <title> <message>", "Replace the message of a journal entry", cobra.ExactArgs(2),
		func(n *node.Node, cmd *cobra.Command, key ed25519.PrivateKey, args []string) (*runtime.Receipt, error) {
			return n.UpdateEntry(cmd.Context(), key, args[0], args[1])
		})
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return newEntryCommand(opts, "delete <title>", "Delete a journal entry and reclaim its rent", cobra.ExactArgs(1),
		func(n *node.Node, cmd *cobra.Command, key ed25519.PrivateKey, args []string) (*runtime.Receipt, error) {
			return n.DeleteEntry(cmd.Context(), key, args[0])
		})
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	var (
		owner  string
		encode string
		slice  encoding.DataSlice
	)
	cmd := &cobra.Command{
		Use:   "show <title>",
		Short: "Print a journal entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var enc encoding.Encoding
			if encode != "" {
				var err error
				if enc, err = encoding.Parse(encode); err != nil {
					return err
				}
			}
			ownerKey, err := opts.ownerOrSelf(owner)
			if err != nil {
				return err
			}
			n, err := opts.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()

			view, err := n.Entry(ownerKey, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Address: %s\n", view.Address)
			fmt.Fprintf(out, "Bump: %d\n", view.Bump)
			fmt.Fprintf(out, "Owner: %s\n", view.Entry.Owner)
			fmt.Fprintf(out, "Title: %s\n", view.Entry.Title)
			fmt.Fprintf(out, "Message: %s\n", view.Entry.Message)
			fmt.Fprintf(out, "Lamports: %d\n", view.Lamports)
			fmt.Fprintf(out, "Size: %d\n", len(view.Data))
			if enc != "" {
				raw := view.Data
				if cmd.Flags().Changed("offset") || cmd.Flags().Changed("length") {
					if !cmd.Flags().Changed("length") {
						slice.Length = uint64(len(raw))
					}
					raw = slice.Apply(raw)
				}
				data, err := encoding.Encode(raw, enc)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Data (%s): %s\n", enc, data)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "entry owner (defaults to the keypair's address)")
	cmd.Flags().StringVar(&encode, "encoding", "", "also print raw account data: base58, base64, base64+zstd")
	cmd.Flags().Uint64Var(&slice.Offset, "offset", 0, "first byte of raw data to print")
	cmd.Flags().Uint64Var(&slice.Length, "length", 0, "number of raw data bytes to print")
	return cmd
}

func newDeriveCommand(opts *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "derive <title>",
		Short: "Print the account address of a journal entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ownerKey, err := opts.ownerOrSelf(owner)
			if err != nil {
				return err
			}
			addr, bump, err := journal.DeriveEntryAddress(cfg.Program(), args[0], ownerKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", addr, bump)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "entry owner (defaults to the keypair's address)")
	return cmd
}
