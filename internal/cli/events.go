package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/passvault/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Filter string
	Wallet string
	Limit  int
}

// EventView is the JSON form of a logged event.
type EventView struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Wallet    string          `json:"wallet,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Hash      string          `json:"hash"`
	CreatedAt int64           `json:"created_at"`
}

func eventViews(evs []store.Event) []EventView {
	out := make([]EventView, len(evs))
	for i, ev := range evs {
		out[i] = EventView{
			Seq:       ev.Seq,
			ID:        ev.ID,
			Kind:      ev.Kind,
			Payload:   ev.Payload,
			Hash:      ev.Hash,
			CreatedAt: ev.CreatedAt,
		}
		if !ev.Wallet.IsZero() {
			out[i].Wallet = ev.Wallet.String()
		}
	}
	return out
}

// outputEvents prints events as a table or a JSON list.
func outputEvents(f *OutputFormatter, evs []store.Event) error {
	views := eventViews(evs)
	rows := make([][]string, len(views))
	for i, v := range views {
		wallet := "-"
		if v.Wallet != "" {
			wallet = v.Wallet[:8]
		}
		rows[i] = []string{strconv.FormatInt(v.Seq, 10), v.Kind, wallet, string(v.Payload)}
	}
	return f.Table(views, []string{"Seq", "Kind", "Wallet", "Payload"}, rows)
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the event log",
		Long: `List logged engine events in sequence order.

Filter expressions use go-bexpr syntax over the selectors seq, kind, wallet
and payload.

Examples:
  passvault events --limit 20
  passvault events --filter 'kind == "TransactionExecuted"'
  passvault events --filter 'payload.reason == "expired"' --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "bexpr filter expression")
	cmd.Flags().StringVar(&opts.Wallet, "wallet", "", "only events for this wallet address")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 for all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Recompute and check the event hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsVerify(rootOpts, cmd)
		},
	})
	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	q := store.EventQuery{Filter: opts.Filter, Limit: opts.Limit}
	if opts.Wallet != "" {
		w, err := parseAddressFlag("wallet", opts.Wallet)
		if err != nil {
			return err
		}
		q.Wallet = &w
	}

	eng, closeFn, err := opts.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	f := opts.formatter(cmd)
	evs, err := eng.Events(cmd.Context(), q)
	if err != nil {
		return f.Rejected("events", err)
	}
	f.VerboseLog("%d event(s) matched", len(evs))
	return outputEvents(f, evs)
}

// ChainResult is the outcome of events verify.
type ChainResult struct {
	Valid  bool `json:"valid"`
	Events int  `json:"events"`
}

func runEventsVerify(opts *RootOptions, cmd *cobra.Command) error {
	eng, closeFn, err := opts.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	f := opts.formatter(cmd)
	n, err := eng.VerifyEventChain(cmd.Context())
	if err != nil {
		return f.Rejected("events verify", err)
	}
	return f.Result(ChainResult{Valid: true, Events: n}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Event chain valid (%d events)\n", n)
	})
}
