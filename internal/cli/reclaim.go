package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ReclaimOptions holds flags for the reclaim command.
type ReclaimOptions struct {
	*RootOptions
	Wallet string
	Nonce  uint64
}

// ReclaimResult reports a bulk reclaim.
type ReclaimResult struct {
	Reclaimed int `json:"reclaimed"`
}

// NewReclaimCommand creates the reclaim command.
func NewReclaimCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReclaimOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Destroy expired or stale commit records",
		Long: `Destroy commit records that can no longer execute.

Without flags every expired commit is reclaimed. With --wallet and --nonce
one commit is reclaimed if it has expired or been superseded by a later
action on the wallet.

Examples:
  passvault reclaim
  passvault reclaim --wallet 3a07...41 --nonce 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReclaim(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Wallet, "wallet", "", "wallet address or id")
	cmd.Flags().Uint64Var(&opts.Nonce, "nonce", 0, "nonce the commit was authorized at")
	cmd.MarkFlagsRequiredTogether("wallet", "nonce")
	return cmd
}

func runReclaim(opts *ReclaimOptions, cmd *cobra.Command) error {
	eng, closeFn, err := opts.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()
	f := opts.formatter(cmd)

	if opts.Wallet != "" {
		wallet, err := parseAccount(opts.Wallet)
		if err != nil {
			return err
		}
		evs, err := eng.Reclaim(cmd.Context(), wallet, opts.Nonce)
		if err != nil {
			return f.Rejected("reclaim", err)
		}
		return outputEvents(f, evs)
	}

	n, err := eng.ReclaimExpired(cmd.Context())
	if err != nil {
		return f.Rejected("reclaim", err)
	}
	return f.Result(ReclaimResult{Reclaimed: n}, func(w io.Writer) {
		fmt.Fprintf(w, "Reclaimed %d expired commit(s)\n", n)
	})
}
