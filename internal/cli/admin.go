package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/passvault/internal/engine"
	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/store"
)

// AdminOptions holds flags shared by admin commands.
type AdminOptions struct {
	*RootOptions
	Caller string
}

// NewAdminCommand creates the admin command group. Every mutation is
// checked against the configured authority.
func NewAdminCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdminOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Authority-only administration",
	}
	cmd.PersistentFlags().StringVar(&opts.Caller, "caller", "", "address the request is made as")

	whitelist := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage the policy whitelist",
	}
	whitelist.AddCommand(
		opts.mutation("add <policy>", "Whitelist a policy module", cobra.ExactArgs(1),
			func(ctx context.Context, eng *engine.Engine, caller ir.Address, args []string) ([]store.Event, error) {
				id, err := resolvePolicy(eng, args[0])
				if err != nil {
					return nil, err
				}
				return eng.AddWhitelist(ctx, caller, id)
			}),
		opts.mutation("remove <policy>", "Remove a policy module from the whitelist", cobra.ExactArgs(1),
			func(ctx context.Context, eng *engine.Engine, caller ir.Address, args []string) ([]store.Event, error) {
				id, err := resolvePolicy(eng, args[0])
				if err != nil {
					return nil, err
				}
				return eng.RemoveWhitelist(ctx, caller, id)
			}),
	)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or update the global configuration",
	}
	configCmd.AddCommand(
		opts.mutation("set <param> <value>", "Update one parameter ("+strings.Join(engine.ConfigParams, ", ")+")", cobra.ExactArgs(2),
			func(ctx context.Context, eng *engine.Engine, caller ir.Address, args []string) ([]store.Event, error) {
				return eng.UpdateConfig(ctx, caller, args[0], args[1])
			}),
		&cobra.Command{
			Use:   "show",
			Short: "Show the global configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(rootOpts, cmd)
			},
		},
	)

	cmd.AddCommand(
		whitelist,
		configCmd,
		opts.mutation("pause", "Pause all wallet actions", cobra.NoArgs,
			func(ctx context.Context, eng *engine.Engine, caller ir.Address, _ []string) ([]store.Event, error) {
				return eng.SetPaused(ctx, caller, true)
			}),
		opts.mutation("resume", "Resume wallet actions", cobra.NoArgs,
			func(ctx context.Context, eng *engine.Engine, caller ir.Address, _ []string) ([]store.Event, error) {
				return eng.SetPaused(ctx, caller, false)
			}),
	)
	return cmd
}

type adminFunc func(ctx context.Context, eng *engine.Engine, caller ir.Address, args []string) ([]store.Event, error)

// mutation builds an admin subcommand that runs fn as --caller and prints
// the events it produced.
func (o *AdminOptions) mutation(use, short string, args cobra.PositionalArgs, fn adminFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := parseAddressFlag("caller", o.Caller)
			if err != nil {
				return err
			}
			eng, closeFn, err := o.openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			f := o.formatter(cmd)
			evs, err := fn(cmd.Context(), eng, caller, args)
			if err != nil {
				return f.Rejected(cmd.Name(), err)
			}
			return outputEvents(f, evs)
		},
	}
}

func runConfigShow(opts *RootOptions, cmd *cobra.Command) error {
	eng, closeFn, err := opts.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	f := opts.formatter(cmd)
	cfg, err := eng.Config(cmd.Context())
	if err != nil {
		return f.Rejected("config show", err)
	}
	wl, err := eng.Whitelist(cmd.Context())
	if err != nil {
		return f.Rejected("config show", err)
	}
	view := configView(eng, cfg, wl)
	return f.Result(view, func(w io.Writer) { writeConfig(w, view) })
}

// resolvePolicy accepts a built-in policy name or a hex identity.
func resolvePolicy(eng *engine.Engine, s string) (ir.Address, error) {
	id, err := eng.Policies().Resolve(s)
	if err != nil {
		return ir.Address{}, WrapExitError(ExitCommandError, "invalid policy", err)
	}
	return id, nil
}

func parseAddressFlag(name, value string) (ir.Address, error) {
	if value == "" {
		return ir.Address{}, NewExitError(ExitCommandError, fmt.Sprintf("--%s is required", name))
	}
	a, err := ir.ParseAddress(value)
	if err != nil {
		return ir.Address{}, WrapExitError(ExitCommandError, "invalid --"+name, err)
	}
	return a, nil
}
