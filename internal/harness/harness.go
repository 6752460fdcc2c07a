package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/passvault/internal/address"
	"github.com/roach88/passvault/internal/engine"
	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/manifest"
	"github.com/roach88/passvault/internal/passkey"
	"github.com/roach88/passvault/internal/program"
	"github.com/roach88/passvault/internal/store"
	"github.com/roach88/passvault/internal/testutil"
)

// defaultFunding is deposited to "payer" when the genesis names no funding.
const defaultFunding = 1_000_000

var errScenario = errors.New("scenario")

func scenarioErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errScenario, fmt.Sprintf(format, args...))
}

// Harness executes one scenario against an isolated engine.
type Harness struct {
	ctx     context.Context
	eng     *engine.Engine
	clock   *testutil.DeterministicClock
	logger  *slog.Logger
	devices map[string]*testutil.Device

	// last resubmits the most recent signed request.
	last func() ([]store.Event, error)

	// seq is the last event sequence observed.
	seq int64
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger routes engine logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario on a fresh in-memory engine.
//
// Engine rejections are part of the trace and are checked against each
// step's expectation. A returned error means the scenario itself could not
// be run (bad genesis, unknown policy name, malformed duration).
func Run(s *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		ctx:     context.Background(),
		clock:   testutil.NewDeterministicClock(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		devices: make(map[string]*testutil.Device),
	}
	for _, opt := range opts {
		opt(h)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	h.eng, err = engine.New(st,
		engine.WithClock(h.clock),
		engine.WithIDGenerator(testutil.NewSequentialIDs("evt")),
		engine.WithOrigins(testutil.DefaultOrigin),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if err := h.genesis(s.Genesis); err != nil {
		return nil, err
	}

	result := &Result{Scenario: s.Name, Pass: true}
	for i, step := range s.Flow {
		sr, err := h.execute(i, step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Action, err)
		}
		result.Steps = append(result.Steps, sr)
		checkExpect(result, i, step, sr)
	}

	for i, a := range s.Assertions {
		if err := h.evaluate(a); err != nil {
			result.fail("assertions[%d]: %v", i, err)
		}
	}

	h.logger.Info("scenario finished", "scenario", s.Name, "steps", len(s.Flow), "pass", result.Pass)
	return result, nil
}

func (h *Harness) genesis(g Genesis) error {
	m, errs := manifest.LoadString(renderGenesis(g))
	if len(errs) > 0 {
		return fmt.Errorf("invalid genesis: %w", errors.Join(errs...))
	}
	if err := m.Apply(h.ctx, h.eng); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	evs, err := h.eng.Events(h.ctx, store.EventQuery{})
	if err != nil {
		return err
	}
	if len(evs) > 0 {
		h.seq = evs[len(evs)-1].Seq
	}
	return nil
}

// renderGenesis writes g as a deployment manifest.
func renderGenesis(g Genesis) string {
	var b strings.Builder
	b.WriteString("deployment: {\n")
	fmt.Fprintf(&b, "\tauthority: %q\n", account("authority").String())
	if g.DefaultPolicy != "" {
		fmt.Fprintf(&b, "\tdefault_policy: %q\n", g.DefaultPolicy)
	}
	if len(g.Whitelist) > 0 {
		quoted := make([]string, len(g.Whitelist))
		for i, w := range g.Whitelist {
			quoted[i] = strconv.Quote(w)
		}
		fmt.Fprintf(&b, "\twhitelist: [%s]\n", strings.Join(quoted, ", "))
	}
	if g.CommitTTL != 0 {
		fmt.Fprintf(&b, "\tcommit_ttl: %d\n", g.CommitTTL)
	}
	if g.MaxMessageAge != 0 {
		fmt.Fprintf(&b, "\tmax_message_age: %d\n", g.MaxMessageAge)
	}
	fmt.Fprintf(&b, "\tfees: {create_wallet: %d, execute: %d}\n", g.Fees.CreateWallet, g.Fees.Execute)

	funding := g.Funding
	if funding == nil {
		funding = map[string]uint64{"payer": defaultFunding}
	}
	names := make([]string, 0, len(funding))
	for n := range funding {
		names = append(names, n)
	}
	sort.Strings(names)
	b.WriteString("\tfunding: [")
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "{account: %q, amount: %d}", account(n).String(), funding[n])
	}
	b.WriteString("]\n}\n")
	return b.String()
}

// account maps a symbolic name to an address. "wallet:N" names the wallet
// with id N; any other name derives a stable address.
func account(name string) ir.Address {
	if id, ok := strings.CutPrefix(name, "wallet:"); ok {
		if n, err := strconv.ParseUint(id, 10, 64); err == nil {
			return address.Wallet(n)
		}
	}
	return address.Derive("harness/account", []byte(name))
}

func (h *Harness) device(name string) *testutil.Device {
	d, ok := h.devices[name]
	if !ok {
		d = testutil.NewDevice(name)
		h.devices[name] = d
	}
	return d
}

func (h *Harness) wallet(id uint64) (engine.WalletView, error) {
	return h.eng.Wallet(h.ctx, address.Wallet(id))
}

func (h *Harness) execute(i int, step Step) (StepResult, error) {
	sr := StepResult{Step: i + 1, Action: step.Action, Outcome: OutcomeOK, Events: []string{}}

	_, err := h.dispatch(step)
	if errors.Is(err, errScenario) {
		return sr, err
	}
	if err != nil {
		sr.Outcome = string(engine.CodeOf(err))
		if sr.Outcome == "" {
			sr.Outcome = string(engine.CodeInternal)
		}
		h.logger.Debug("step rejected", "step", sr.Step, "action", step.Action, "error", err)
		return sr, nil
	}

	// Events are read back from the log rather than taken from the return
	// value so that actions reporting only a count are traced too.
	evs, err := h.eng.Events(h.ctx, store.EventQuery{})
	if err != nil {
		return sr, err
	}
	for _, ev := range evs {
		if ev.Seq <= h.seq {
			continue
		}
		sr.Events = append(sr.Events, ev.Kind)
		h.seq = ev.Seq
	}
	return sr, nil
}

func (h *Harness) dispatch(step Step) ([]store.Event, error) {
	a := step.Args
	switch step.Action {
	case ActionFund:
		return h.eng.Deposit(h.ctx, account(a.Account), a.Amount)
	case ActionCreateWallet:
		return h.createWallet(a)
	case ActionExecute:
		return h.transaction(a, passkey.KindExecute)
	case ActionCommit:
		return h.transaction(a, passkey.KindCommit)
	case ActionExecuteCommitted:
		return h.executeCommitted(a)
	case ActionInvokePolicy:
		return h.invokePolicy(a)
	case ActionChangePolicy:
		return h.changePolicy(a)
	case ActionReclaim:
		nonce, err := h.nonce(a, 1)
		if err != nil {
			return nil, err
		}
		return h.eng.Reclaim(h.ctx, address.Wallet(a.Wallet), nonce)
	case ActionReclaimExpired:
		_, err := h.eng.ReclaimExpired(h.ctx)
		return nil, err
	case ActionWhitelistAdd, ActionWhitelistRemove:
		id, err := h.policy(a.Policy)
		if err != nil {
			return nil, err
		}
		if step.Action == ActionWhitelistAdd {
			return h.eng.AddWhitelist(h.ctx, h.caller(a), id)
		}
		return h.eng.RemoveWhitelist(h.ctx, h.caller(a), id)
	case ActionPause, ActionResume:
		return h.eng.SetPaused(h.ctx, h.caller(a), step.Action == ActionPause)
	case ActionConfigSet:
		return h.eng.UpdateConfig(h.ctx, h.caller(a), a.Param, a.Value)
	case ActionAdvance:
		d, err := time.ParseDuration(a.By)
		if err != nil {
			return nil, scenarioErr("invalid duration %q", a.By)
		}
		h.clock.Advance(d)
		return nil, nil
	case ActionReplay:
		if h.last == nil {
			return nil, scenarioErr("no signed request to replay")
		}
		return h.last()
	}
	return nil, scenarioErr("unknown action %q", step.Action)
}

func (h *Harness) caller(a Args) ir.Address {
	if a.Caller == "" {
		return account("authority")
	}
	return account(a.Caller)
}

func (h *Harness) payer(a Args) ir.Address {
	if a.Payer == "" {
		return account("payer")
	}
	return account(a.Payer)
}

func (h *Harness) policy(name string) (ir.Address, error) {
	id, err := h.eng.Policies().Resolve(name)
	if err != nil {
		return ir.Address{}, scenarioErr("%v", err)
	}
	return id, nil
}

// nonce returns the explicit nonce or the wallet nonce minus back.
func (h *Harness) nonce(a Args, back uint64) (uint64, error) {
	if a.Nonce != nil {
		return *a.Nonce, nil
	}
	w, err := h.wallet(a.Wallet)
	if err != nil {
		return 0, err
	}
	if w.Nonce < back {
		return 0, scenarioErr("wallet %d has no previous nonce", a.Wallet)
	}
	return w.Nonce - back, nil
}

func (h *Harness) auth(a Args) (engine.Auth, *testutil.Device, error) {
	nonce, err := h.nonce(a, 0)
	if err != nil {
		return engine.Auth{}, nil, err
	}
	signer := h.device(a.Device)
	if a.Signer != "" {
		signer = h.device(a.Signer)
	}
	return engine.Auth{
		Passkey:   h.device(a.Device).Key,
		Nonce:     nonce,
		Timestamp: h.clock.Unix() - a.Age,
	}, signer, nil
}

func data(s string) []byte {
	if s == "" {
		return []byte("{}")
	}
	return []byte(s)
}

func (h *Harness) newDevice(name string) *engine.DeviceRequest {
	if name == "" {
		return nil
	}
	d := h.device(name)
	return &engine.DeviceRequest{Passkey: d.Key, CredentialID: d.CredentialID}
}

// effect is a memo when Memo is set and a transfer from the wallet
// otherwise.
func effect(a Args) ir.Instruction {
	if a.Memo != "" {
		return ir.Instruction{Program: address.Program(program.MemoName), Data: []byte(a.Memo)}
	}
	return program.Transfer(address.Wallet(a.Wallet), account(a.To), a.Amount)
}

// activePolicy returns the named policy or the wallet's current one.
func (h *Harness) activePolicy(a Args) (ir.Address, error) {
	if a.Policy != "" {
		return h.policy(a.Policy)
	}
	w, err := h.wallet(a.Wallet)
	if err != nil {
		return ir.Address{}, err
	}
	return w.Policy, nil
}

func (h *Harness) createWallet(a Args) ([]store.Event, error) {
	dev := h.device(a.Device)
	req := engine.CreateWalletRequest{
		Payer:        h.payer(a),
		WalletID:     a.Wallet,
		Passkey:      dev.Key,
		CredentialID: dev.CredentialID,
		PolicyData:   data(a.Data),
		Amount:       a.Amount,
		PayForUser:   a.PayForUser,
	}
	if a.Policy != "" {
		id, err := h.policy(a.Policy)
		if err != nil {
			return nil, err
		}
		req.Policy = &id
	}
	return h.eng.CreateWallet(h.ctx, req)
}

func (h *Harness) transaction(a Args, kind passkey.Kind) ([]store.Event, error) {
	auth, signer, err := h.auth(a)
	if err != nil {
		return nil, err
	}
	pol, err := h.activePolicy(a)
	if err != nil {
		return nil, err
	}
	in := effect(a)
	req := engine.TransactionRequest{
		Wallet:        address.Wallet(a.Wallet),
		Payer:         h.payer(a),
		Auth:          auth,
		PolicyProgram: pol,
		PolicyData:    data(a.Data),
		EffectProgram: in.Program,
		EffectData:    in.Data,
		Accounts:      in.Accounts,
	}
	m, err := req.Message(kind)
	if err != nil {
		return nil, scenarioErr("build message: %v", err)
	}
	if req.Auth.Assertion, err = signer.Sign(m); err != nil {
		return nil, scenarioErr("sign: %v", err)
	}

	submit := h.eng.Execute
	if kind == passkey.KindCommit {
		submit = h.eng.Commit
	}
	h.last = func() ([]store.Event, error) { return submit(h.ctx, req) }
	return h.last()
}

func (h *Harness) executeCommitted(a Args) ([]store.Event, error) {
	nonce, err := h.nonce(a, 1)
	if err != nil {
		return nil, err
	}
	in := effect(a)
	req := engine.ExecuteCommittedRequest{
		Wallet:        address.Wallet(a.Wallet),
		Nonce:         nonce,
		Payer:         h.payer(a),
		EffectProgram: in.Program,
		EffectData:    in.Data,
		Accounts:      in.Accounts,
	}
	h.last = func() ([]store.Event, error) { return h.eng.ExecuteCommitted(h.ctx, req) }
	return h.last()
}

func (h *Harness) invokePolicy(a Args) ([]store.Event, error) {
	auth, signer, err := h.auth(a)
	if err != nil {
		return nil, err
	}
	pol, err := h.activePolicy(a)
	if err != nil {
		return nil, err
	}
	req := engine.InvokePolicyRequest{
		Wallet:        address.Wallet(a.Wallet),
		Payer:         h.payer(a),
		Auth:          auth,
		PolicyProgram: pol,
		PolicyData:    data(a.Data),
		NewDevice:     h.newDevice(a.AddDevice),
	}
	if a.RemoveDevice != "" {
		gone := address.Authenticator(req.Wallet, h.device(a.RemoveDevice).Key.Bytes())
		req.RemoveDevice = &gone
	}
	if req.Auth.Assertion, err = signer.Sign(req.Message()); err != nil {
		return nil, scenarioErr("sign: %v", err)
	}
	h.last = func() ([]store.Event, error) { return h.eng.InvokePolicy(h.ctx, req) }
	return h.last()
}

func (h *Harness) changePolicy(a Args) ([]store.Event, error) {
	auth, signer, err := h.auth(a)
	if err != nil {
		return nil, err
	}
	if a.Policy == "" {
		return nil, scenarioErr("change_policy requires policy")
	}
	to, err := h.policy(a.Policy)
	if err != nil {
		return nil, err
	}
	from, err := h.activePolicy(Args{Wallet: a.Wallet, Policy: a.From})
	if err != nil {
		return nil, err
	}
	req := engine.ChangePolicyRequest{
		Wallet:      address.Wallet(a.Wallet),
		Payer:       h.payer(a),
		Auth:        auth,
		OldPolicy:   from,
		NewPolicy:   to,
		DestroyData: data(a.Data),
		InitData:    data(a.InitData),
		NewDevice:   h.newDevice(a.AddDevice),
	}
	m, err := req.Message()
	if err != nil {
		return nil, scenarioErr("build message: %v", err)
	}
	if req.Auth.Assertion, err = signer.Sign(m); err != nil {
		return nil, scenarioErr("sign: %v", err)
	}
	h.last = func() ([]store.Event, error) { return h.eng.ChangePolicy(h.ctx, req) }
	return h.last()
}

// checkExpect compares a step's outcome against its expectation.
func checkExpect(r *Result, i int, step Step, sr StepResult) {
	exp := step.Expect
	wantOK := exp == nil || (exp.Error == "" && exp.Category == "")
	switch {
	case wantOK && sr.Outcome != OutcomeOK:
		r.fail("flow[%d] %s: expected success, got %s", i, step.Action, sr.Outcome)
		return
	case !wantOK && sr.Outcome == OutcomeOK:
		r.fail("flow[%d] %s: expected failure, got success", i, step.Action)
		return
	case exp != nil && exp.Error != "" && exp.Error != sr.Outcome:
		r.fail("flow[%d] %s: expected error %s, got %s", i, step.Action, exp.Error, sr.Outcome)
		return
	case exp != nil && exp.Category != "" && !wantOK:
		got := engine.Code(sr.Outcome).Category()
		if string(got) != exp.Category {
			r.fail("flow[%d] %s: expected category %s, got %s (%s)", i, step.Action, exp.Category, got, sr.Outcome)
			return
		}
	}
	if exp != nil && exp.Events != nil && joinKinds(exp.Events) != joinKinds(sr.Events) {
		r.fail("flow[%d] %s: expected events %s, got %s", i, step.Action, joinKinds(exp.Events), joinKinds(sr.Events))
	}
}
