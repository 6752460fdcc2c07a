package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/passvault/internal/engine"
	"github.com/roach88/passvault/internal/store"
)

type submitFunc[T any] func(*engine.Engine, context.Context, T) ([]store.Event, error)

// NewRequestCommands creates the commands that submit a signed wallet
// request read from a JSON file.
func NewRequestCommands(rootOpts *RootOptions) []*cobra.Command {
	return []*cobra.Command{
		requestCommand(rootOpts, "execute", "Authorize and apply an effect in one step",
			(*engine.Engine).Execute),
		requestCommand(rootOpts, "commit", "Authorize an effect now and record it for later execution",
			(*engine.Engine).Commit),
		requestCommand(rootOpts, "execute-committed", "Apply a previously committed effect",
			(*engine.Engine).ExecuteCommitted),
		requestCommand(rootOpts, "invoke-policy", "Call the active policy, optionally adding or removing a device",
			(*engine.Engine).InvokePolicy),
		requestCommand(rootOpts, "change-policy", "Atomically replace the active policy",
			(*engine.Engine).ChangePolicy),
	}
}

// requestCommand builds a command that decodes --request into T and
// submits it.
func requestCommand[T any](opts *RootOptions, use, short string, submit submitFunc[T]) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The request is a JSON document; addresses and keys are hex, byte fields
(policy data, effect data, assertion parts) are base64. Use "-" to read it
from stdin.

Example:
  passvault ` + use + ` --request req.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(opts, cmd, path, submit)
		},
	}
	cmd.Flags().StringVar(&path, "request", "", "request JSON file, or - for stdin")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func runRequest[T any](opts *RootOptions, cmd *cobra.Command, path string, submit submitFunc[T]) error {
	req, err := readRequest[T](cmd, path)
	if err != nil {
		return err
	}

	eng, closeFn, err := opts.openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	f := opts.formatter(cmd)
	evs, err := submit(eng, cmd.Context(), req)
	if err != nil {
		return f.Rejected(cmd.Name(), err)
	}
	return outputEvents(f, evs)
}

// readRequest decodes a request file strictly.
func readRequest[T any](cmd *cobra.Command, path string) (T, error) {
	var req T
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return req, WrapExitError(ExitCommandError, "failed to read request", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, WrapExitError(ExitCommandError, fmt.Sprintf("invalid request %s", path), err)
	}
	return req, nil
}
