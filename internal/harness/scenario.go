package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a conformance test case.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Genesis     Genesis     `yaml:"genesis"`
	Flow        []Step      `yaml:"flow"`
	Assertions  []Assertion `yaml:"assertions"`
}

// Genesis overrides the deployment the scenario starts from. Zero values
// keep the manifest defaults.
type Genesis struct {
	DefaultPolicy string            `yaml:"default_policy"`
	Whitelist     []string          `yaml:"whitelist"`
	CommitTTL     int64             `yaml:"commit_ttl"`
	MaxMessageAge int64             `yaml:"max_message_age"`
	Fees          GenesisFees       `yaml:"fees"`
	Funding       map[string]uint64 `yaml:"funding"`
}

// GenesisFees is the genesis fee schedule.
type GenesisFees struct {
	CreateWallet uint64 `yaml:"create_wallet"`
	Execute      uint64 `yaml:"execute"`
}

// Step is one action in the flow.
type Step struct {
	Action string  `yaml:"action"`
	Args   Args    `yaml:"args"`
	Expect *Expect `yaml:"expect,omitempty"`
}

// Args carries the parameters of every action. Each action reads the
// subset it needs.
type Args struct {
	Wallet uint64 `yaml:"wallet"`
	Device string `yaml:"device"`

	// Signer signs in place of Device when set.
	Signer string  `yaml:"signer"`
	Nonce  *uint64 `yaml:"nonce"`

	// Age back-dates the signed timestamp by this many seconds.
	Age int64 `yaml:"age"`

	Account string `yaml:"account"`
	To      string `yaml:"to"`
	Amount  uint64 `yaml:"amount"`
	Memo    string `yaml:"memo"`

	Policy       string `yaml:"policy"`
	Data         string `yaml:"data"`
	From         string `yaml:"from"`
	InitData     string `yaml:"init_data"`
	AddDevice    string `yaml:"add_device"`
	RemoveDevice string `yaml:"remove_device"`

	Payer      string `yaml:"payer"`
	PayForUser bool   `yaml:"pay_for_user"`

	Caller string `yaml:"caller"`
	Param  string `yaml:"param"`
	Value  string `yaml:"value"`

	// By is the advance duration, e.g. "301s".
	By string `yaml:"by"`
}

// Expect describes the outcome of a step. A nil Expect means success.
type Expect struct {
	Error    string   `yaml:"error,omitempty"`
	Category string   `yaml:"category,omitempty"`
	Events   []string `yaml:"events,omitempty"`
}

// Assertion is a post-flow state check.
type Assertion struct {
	Type    string   `yaml:"type"`
	Account string   `yaml:"account,omitempty"`
	Wallet  uint64   `yaml:"wallet,omitempty"`
	Policy  string   `yaml:"policy,omitempty"`
	Filter  string   `yaml:"filter,omitempty"`
	Kinds   []string `yaml:"kinds,omitempty"`
	Equals  *uint64  `yaml:"equals,omitempty"`
	Count   *int     `yaml:"count,omitempty"`
}

// Actions.
const (
	ActionFund             = "fund"
	ActionCreateWallet     = "create_wallet"
	ActionExecute          = "execute"
	ActionCommit           = "commit"
	ActionExecuteCommitted = "execute_committed"
	ActionInvokePolicy     = "invoke_policy"
	ActionChangePolicy     = "change_policy"
	ActionReclaim          = "reclaim"
	ActionReclaimExpired   = "reclaim_expired"
	ActionWhitelistAdd     = "whitelist_add"
	ActionWhitelistRemove  = "whitelist_remove"
	ActionPause            = "pause"
	ActionResume           = "resume"
	ActionConfigSet        = "config_set"
	ActionAdvance          = "advance"
	ActionReplay           = "replay"
)

// Assertion types.
const (
	AssertBalance        = "balance"
	AssertNonce          = "nonce"
	AssertPolicy         = "policy"
	AssertAuthenticators = "authenticators"
	AssertCommits        = "commits"
	AssertEventCount     = "event_count"
	AssertEventOrder     = "event_order"
	AssertChainValid     = "chain_valid"
)

var validActions = map[string]bool{
	ActionFund: true, ActionCreateWallet: true, ActionExecute: true,
	ActionCommit: true, ActionExecuteCommitted: true, ActionInvokePolicy: true,
	ActionChangePolicy: true, ActionReclaim: true, ActionReclaimExpired: true,
	ActionWhitelistAdd: true, ActionWhitelistRemove: true, ActionPause: true,
	ActionResume: true, ActionConfigSet: true, ActionAdvance: true,
	ActionReplay: true,
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty scenario")
		}
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	for i, st := range s.Flow {
		if err := validateStep(i, st); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st Step) error {
	if !validActions[st.Action] {
		return fmt.Errorf("flow[%d]: unknown action %q", i, st.Action)
	}
	switch st.Action {
	case ActionCreateWallet, ActionExecute, ActionCommit, ActionInvokePolicy, ActionChangePolicy:
		if st.Args.Wallet == 0 || st.Args.Device == "" {
			return fmt.Errorf("flow[%d]: %s requires wallet and device", i, st.Action)
		}
	case ActionExecuteCommitted, ActionReclaim:
		if st.Args.Wallet == 0 {
			return fmt.Errorf("flow[%d]: %s requires wallet", i, st.Action)
		}
	case ActionFund:
		if st.Args.Account == "" {
			return fmt.Errorf("flow[%d]: fund requires account", i)
		}
	case ActionWhitelistAdd, ActionWhitelistRemove:
		if st.Args.Policy == "" {
			return fmt.Errorf("flow[%d]: %s requires policy", i, st.Action)
		}
	case ActionConfigSet:
		if st.Args.Param == "" {
			return fmt.Errorf("flow[%d]: config_set requires param", i)
		}
	case ActionAdvance:
		if st.Args.By == "" {
			return fmt.Errorf("flow[%d]: advance requires by", i)
		}
	case ActionReplay:
		if i == 0 {
			return fmt.Errorf("flow[0]: replay needs a previous step")
		}
	}
	if st.Expect != nil && st.Expect.Error != "" && st.Expect.Category != "" {
		return fmt.Errorf("flow[%d]: expect error and category are exclusive", i)
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertBalance:
		if a.Equals == nil || (a.Account == "" && a.Wallet == 0) {
			return fmt.Errorf("assertions[%d]: balance requires account or wallet, and equals", i)
		}
	case AssertNonce:
		if a.Equals == nil || a.Wallet == 0 {
			return fmt.Errorf("assertions[%d]: nonce requires wallet and equals", i)
		}
	case AssertPolicy:
		if a.Wallet == 0 || a.Policy == "" {
			return fmt.Errorf("assertions[%d]: policy requires wallet and policy", i)
		}
	case AssertAuthenticators, AssertCommits:
		if a.Wallet == 0 || a.Count == nil {
			return fmt.Errorf("assertions[%d]: %s requires wallet and count", i, a.Type)
		}
	case AssertEventCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: event_count requires count", i)
		}
	case AssertEventOrder:
		if len(a.Kinds) < 2 {
			return fmt.Errorf("assertions[%d]: event_order requires at least 2 kinds", i)
		}
	case AssertChainValid:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q (valid: %s)", i, a.Type, strings.Join(assertionTypes, ", "))
	}
	return nil
}

var assertionTypes = []string{
	AssertBalance, AssertNonce, AssertPolicy, AssertAuthenticators,
	AssertCommits, AssertEventCount, AssertEventOrder, AssertChainValid,
}
