package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/passvault/internal/engine"
	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/store"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Manifest        string
	Authority       string
	DefaultPolicy   string
	Whitelist       []string
	CommitTTL       int64
	MaxMessageAge   int64
	CreateWalletFee uint64
	ExecuteFee      uint64
}

// ConfigView is the JSON form of the global configuration.
type ConfigView struct {
	Authority       string   `json:"authority"`
	DefaultPolicy   string   `json:"default_policy"`
	CommitTTL       int64    `json:"commit_ttl"`
	MaxMessageAge   int64    `json:"max_message_age"`
	CreateWalletFee uint64   `json:"create_wallet_fee"`
	ExecuteFee      uint64   `json:"execute_fee"`
	Paused          bool     `json:"paused"`
	Whitelist       []string `json:"whitelist"`
}

func configView(eng *engine.Engine, cfg store.Config, wl []ir.Address) ConfigView {
	names := make([]string, len(wl))
	for i, id := range wl {
		names[i] = eng.Policies().Name(id)
	}
	return ConfigView{
		Authority:       cfg.Authority.String(),
		DefaultPolicy:   eng.Policies().Name(cfg.DefaultPolicy),
		CommitTTL:       cfg.CommitTTL,
		MaxMessageAge:   cfg.MaxMessageAge,
		CreateWalletFee: cfg.CreateWalletFee,
		ExecuteFee:      cfg.ExecuteFee,
		Paused:          cfg.Paused,
		Whitelist:       names,
	}
}

func writeConfig(w io.Writer, v ConfigView) {
	fmt.Fprintf(w, "authority:       %s\n", v.Authority)
	fmt.Fprintf(w, "default policy:  %s\n", v.DefaultPolicy)
	fmt.Fprintf(w, "whitelist:       %s\n", strings.Join(v.Whitelist, ", "))
	fmt.Fprintf(w, "commit ttl:      %ds\n", v.CommitTTL)
	fmt.Fprintf(w, "max message age: %ds\n", v.MaxMessageAge)
	fmt.Fprintf(w, "fees:            create_wallet=%d execute=%d\n", v.CreateWalletFee, v.ExecuteFee)
	fmt.Fprintf(w, "paused:          %t\n", v.Paused)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the global configuration",
		Long: `Create the global configuration and whitelist.

Genesis parameters come either from a CUE deployment manifest, which may
also fund accounts, or from flags.

Examples:
  passvault init --manifest ./deploy
  passvault init --authority 9f1c...e2 --default-policy default --whitelist transfer_limit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "CUE deployment manifest directory")
	cmd.Flags().StringVar(&opts.Authority, "authority", "", "administrative authority address")
	cmd.Flags().StringVar(&opts.DefaultPolicy, "default-policy", "default", "default policy name or hex identity")
	cmd.Flags().StringSliceVar(&opts.Whitelist, "whitelist", nil, "additional whitelisted policies")
	cmd.Flags().Int64Var(&opts.CommitTTL, "commit-ttl", 0, "commit lifetime in seconds (default 300)")
	cmd.Flags().Int64Var(&opts.MaxMessageAge, "max-message-age", 0, "signed message freshness window in seconds (default 300)")
	cmd.Flags().Uint64Var(&opts.CreateWalletFee, "create-wallet-fee", 0, "fee charged on wallet creation")
	cmd.Flags().Uint64Var(&opts.ExecuteFee, "execute-fee", 0, "fee charged per execution")
	cmd.MarkFlagsMutuallyExclusive("manifest", "authority")
	cmd.MarkFlagsOneRequired("manifest", "authority")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	eng, closeFn, err := opts.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	if opts.Manifest != "" {
		m, err := loadManifest(f, opts.Manifest)
		if err != nil {
			return err
		}
		if err := m.Apply(ctx, eng); err != nil {
			return f.Rejected("init", err)
		}
		f.VerboseLog("Applied manifest %s (%d funding entries)", opts.Manifest, len(m.Funding))
	} else {
		req, err := opts.request(eng)
		if err != nil {
			return err
		}
		if _, err := eng.Initialize(ctx, req); err != nil {
			return f.Rejected("init", err)
		}
	}

	cfg, err := eng.Config(ctx)
	if err != nil {
		return f.Rejected("init", err)
	}
	wl, err := eng.Whitelist(ctx)
	if err != nil {
		return f.Rejected("init", err)
	}
	view := configView(eng, cfg, wl)
	return f.Result(view, func(w io.Writer) {
		fmt.Fprintln(w, "✓ Initialized")
		writeConfig(w, view)
	})
}

func (o *InitOptions) request(eng *engine.Engine) (engine.InitializeRequest, error) {
	authority, err := ir.ParseAddress(o.Authority)
	if err != nil {
		return engine.InitializeRequest{}, WrapExitError(ExitCommandError, "invalid --authority", err)
	}
	def, err := eng.Policies().Resolve(o.DefaultPolicy)
	if err != nil {
		return engine.InitializeRequest{}, WrapExitError(ExitCommandError, "invalid --default-policy", err)
	}
	req := engine.InitializeRequest{
		Authority:       authority,
		DefaultPolicy:   def,
		CommitTTL:       o.CommitTTL,
		MaxMessageAge:   o.MaxMessageAge,
		CreateWalletFee: o.CreateWalletFee,
		ExecuteFee:      o.ExecuteFee,
	}
	for _, name := range o.Whitelist {
		id, err := eng.Policies().Resolve(name)
		if err != nil {
			return engine.InitializeRequest{}, WrapExitError(ExitCommandError, "invalid --whitelist", err)
		}
		req.Whitelist = append(req.Whitelist, id)
	}
	return req, nil
}
