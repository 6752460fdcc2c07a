package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/engine"
	"github.com/roach88/passvault/internal/ir"
)

// WalletView is the JSON form of engine.WalletView.
type WalletView struct {
	Address        string              `json:"address"`
	WalletID       uint64              `json:"wallet_id"`
	Policy         string              `json:"policy"`
	Nonce          uint64              `json:"nonce"`
	Balance        uint64              `json:"balance"`
	Authenticators []AuthenticatorView `json:"authenticators"`
	Commits        []CommitView        `json:"commits"`
}

// AuthenticatorView is a registered device.
type AuthenticatorView struct {
	Address      string `json:"address"`
	Passkey      string `json:"passkey"`
	CredentialID string `json:"credential_id"`
	CreatedAt    int64  `json:"created_at"`
}

// CommitView is a pending commit.
type CommitView struct {
	Nonce     uint64 `json:"nonce"`
	Program   string `json:"program"`
	ExpiresAt int64  `json:"expires_at"`
	RefundTo  string `json:"refund_to"`
}

func walletView(eng *engine.Engine, w engine.WalletView) WalletView {
	v := WalletView{
		Address:        w.Address.String(),
		WalletID:       w.WalletID,
		Policy:         eng.Policies().Name(w.Policy),
		Nonce:          w.Nonce,
		Balance:        w.Balance,
		Authenticators: make([]AuthenticatorView, len(w.Authenticators)),
		Commits:        make([]CommitView, len(w.Commits)),
	}
	for i, a := range w.Authenticators {
		v.Authenticators[i] = AuthenticatorView{
			Address:      a.Address.String(),
			Passkey:      fmt.Sprintf("%x", a.Passkey),
			CredentialID: fmt.Sprintf("%x", a.CredentialID),
			CreatedAt:    a.CreatedAt,
		}
	}
	for i, c := range w.Commits {
		v.Commits[i] = CommitView{
			Nonce:     c.Nonce,
			Program:   eng.Programs().Name(c.Program),
			ExpiresAt: c.ExpiresAt,
			RefundTo:  c.RefundTo.String(),
		}
	}
	return v
}

func writeWallet(w io.Writer, v WalletView) {
	fmt.Fprintf(w, "wallet:  %s (id %d)\n", v.Address, v.WalletID)
	fmt.Fprintf(w, "policy:  %s\n", v.Policy)
	fmt.Fprintf(w, "nonce:   %d\n", v.Nonce)
	fmt.Fprintf(w, "balance: %d\n", v.Balance)
	fmt.Fprintf(w, "devices: %d\n", len(v.Authenticators))
	for _, a := range v.Authenticators {
		fmt.Fprintf(w, "  %s  credential %s\n", a.Address, a.CredentialID)
	}
	if len(v.Commits) > 0 {
		fmt.Fprintf(w, "commits: %d\n", len(v.Commits))
		for _, c := range v.Commits {
			fmt.Fprintf(w, "  nonce %d  %s  expires %d\n", c.Nonce, c.Program, c.ExpiresAt)
		}
	}
}

// NewWalletCommand creates the wallet command group.
func NewWalletCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Create, inspect and fund wallets",
	}

	cmd.AddCommand(
		requestCommand(rootOpts, "create", "Create a wallet with its first passkey",
			(*engine.Engine).CreateWallet),
		&cobra.Command{
			Use:   "show <wallet>",
			Short: "Show a wallet by address or wallet id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWalletShow(rootOpts, cmd, args[0])
			},
		},
		&cobra.Command{
			Use:   "fund <account> <amount>",
			Short: "Credit native balance to an account",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWalletFund(rootOpts, cmd, args[0], args[1])
			},
		},
	)
	return cmd
}

// parseAccount accepts a hex address or a decimal wallet id.
func parseAccount(s string) (ir.Address, error) {
	if id, err := strconv.ParseUint(s, 10, 64); err == nil && len(s) < 2*len(ir.Address{}) {
		return address.Wallet(id), nil
	}
	a, err := ir.ParseAddress(s)
	if err != nil {
		return ir.Address{}, WrapExitError(ExitCommandError, "invalid address", err)
	}
	return a, nil
}

func runWalletShow(opts *RootOptions, cmd *cobra.Command, arg string) error {
	addr, err := parseAccount(arg)
	if err != nil {
		return err
	}
	eng, closeFn, err := opts.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	f := opts.formatter(cmd)
	w, err := eng.Wallet(cmd.Context(), addr)
	if err != nil {
		return f.Rejected("wallet show", err)
	}
	view := walletView(eng, w)
	return f.Result(view, func(out io.Writer) { writeWallet(out, view) })
}

func runWalletFund(opts *RootOptions, cmd *cobra.Command, account, amount string) error {
	addr, err := parseAccount(account)
	if err != nil {
		return err
	}
	n, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid amount", err)
	}
	eng, closeFn, err := opts.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	f := opts.formatter(cmd)
	evs, err := eng.Deposit(cmd.Context(), addr, n)
	if err != nil {
		return f.Rejected("wallet fund", err)
	}
	return outputEvents(f, evs)
}
