package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/passvault/internal/manifest"
	"github.com/roach88/passvault/internal/policy"
)

// ManifestIssue is one manifest problem with its source location.
type ManifestIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds manifest validation results.
type ValidationResult struct {
	Valid      bool            `json:"valid"`
	Files      int             `json:"files,omitempty"`
	Deployment *DeploymentView `json:"deployment,omitempty"`
	Errors     []ManifestIssue `json:"errors,omitempty"`
}

// DeploymentView is the JSON form of a compiled manifest.
type DeploymentView struct {
	Authority     string        `json:"authority"`
	DefaultPolicy string        `json:"default_policy"`
	Whitelist     []string      `json:"whitelist"`
	CommitTTL     int64         `json:"commit_ttl"`
	MaxMessageAge int64         `json:"max_message_age"`
	Fees          manifest.Fees `json:"fees"`
	Funding       int           `json:"funding_entries"`
}

func deploymentView(m *manifest.Manifest) *DeploymentView {
	wl := m.Whitelist
	if wl == nil {
		wl = []string{}
	}
	return &DeploymentView{
		Authority:     m.Authority.String(),
		DefaultPolicy: m.DefaultPolicy,
		Whitelist:     wl,
		CommitTTL:     m.CommitTTL,
		MaxMessageAge: m.MaxMessageAge,
		Fees:          m.Fees,
		Funding:       len(m.Funding),
	}
}

// NewManifestCommand creates the manifest command group.
func NewManifestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Work with CUE deployment manifests",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <manifest-dir>",
		Short: "Validate a deployment manifest without applying it",
		Long: `Validate a CUE deployment manifest.

Checks the manifest against the deployment schema, resolves policy names
against the built-in modules and reports every problem with its source
position.

Example:
  passvault manifest validate ./deploy`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifestValidate(rootOpts, args[0], cmd)
		},
	})
	return cmd
}

func runManifestValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	m, err := loadManifest(f, dir)
	if err != nil {
		return err
	}
	f.VerboseLog("Compiled %d CUE file(s) from %s", m.FileCount, dir)

	return f.Result(ValidationResult{Valid: true, Files: m.FileCount, Deployment: deploymentView(m)}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Manifest valid (%d file(s))\n", m.FileCount)
		fmt.Fprintf(w, "  authority:      %s\n", m.Authority)
		fmt.Fprintf(w, "  default policy: %s\n", m.DefaultPolicy)
		if len(m.Whitelist) > 0 {
			fmt.Fprintf(w, "  whitelist:      %s\n", strings.Join(m.Whitelist, ", "))
		}
		fmt.Fprintf(w, "  commit ttl:     %ds\n", m.CommitTTL)
		fmt.Fprintf(w, "  fees:           create_wallet=%d execute=%d\n", m.Fees.CreateWallet, m.Fees.Execute)
	})
}

// loadManifest compiles dir and checks its policy names. Problems are
// written through f and returned as an ExitError.
func loadManifest(f *OutputFormatter, dir string) (*manifest.Manifest, error) {
	m, errs := manifest.Load(dir)
	if len(errs) == 0 {
		if _, err := m.InitializeRequest(policy.Builtins()); err != nil {
			errs = []error{err}
		}
	}
	if len(errs) == 0 {
		return m, nil
	}

	issues := make([]ManifestIssue, 0, len(errs))
	commandError := false
	for _, err := range errs {
		issue := ManifestIssue{Code: manifest.ErrCodeGeneric, Message: err.Error()}
		var le *manifest.LoadError
		if errors.As(err, &le) {
			issue.Code = le.Code
			issue.Message = le.Message
			if le.Pos.IsValid() {
				issue.File = le.Pos.Filename()
				issue.Line = le.Pos.Line()
			}
		}
		if issue.Code == manifest.ErrCodeNotFound || issue.Code == manifest.ErrCodeNoFiles {
			commandError = true
		}
		issues = append(issues, issue)
	}

	if commandError {
		_ = f.Error(issues[0].Code, issues[0].Message, nil)
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", issues[0].Code, issues[0].Message))
	}
	return nil, outputManifestIssues(f, issues)
}

func outputManifestIssues(f *OutputFormatter, issues []ManifestIssue) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("manifest invalid with %d error(s)", len(issues)))
	if f.Format == "json" {
		encoder := json.NewEncoder(f.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error:  &CLIError{Code: issues[0].Code, Message: issues[0].Message},
		}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(f.Writer, "✗ Manifest invalid")
	fmt.Fprintln(f.Writer)
	for _, is := range issues {
		if is.Line > 0 {
			fmt.Fprintf(f.Writer, "%s:%d\n", is.File, is.Line)
		}
		fmt.Fprintf(f.Writer, "  %s: %s\n\n", is.Code, is.Message)
	}
	return exitErr
}
