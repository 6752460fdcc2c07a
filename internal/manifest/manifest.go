// Package manifest compiles CUE deployment manifests into the genesis
// parameters of a passvault engine.
//
// A manifest directory holds one or more .cue files in a single package
// that together define a top-level deployment struct:
//
//	deployment: {
//		authority:      "9f1c...e2"       // 64 hex characters
//		default_policy: "default"
//		whitelist: ["transfer_limit"]
//		commit_ttl: 300
//		fees: execute: 5
//		funding: [{account: "3a07...41", amount: 1000000}]
//	}
package manifest

import (
	"context"
	"fmt"

	"github.com/roach88/passvault/internal/engine"
	"github.com/roach88/passvault/internal/ir"
	"github.com/roach88/passvault/internal/policy"
)

// Manifest is a decoded deployment.
type Manifest struct {
	Authority     ir.Address
	DefaultPolicy string
	Whitelist     []string
	CommitTTL     int64
	MaxMessageAge int64
	Fees          Fees
	Funding       []Funding

	// FileCount is the number of .cue files the manifest was built from.
	FileCount int
}

// Fees are the genesis fee schedule.
type Fees struct {
	CreateWallet uint64 `json:"create_wallet"`
	Execute      uint64 `json:"execute"`
}

// Funding is a genesis deposit.
type Funding struct {
	Account ir.Address
	Amount  uint64
}

// InitializeRequest resolves policy names against reg.
func (m *Manifest) InitializeRequest(reg *policy.Registry) (engine.InitializeRequest, error) {
	def, err := reg.Resolve(m.DefaultPolicy)
	if err != nil {
		return engine.InitializeRequest{}, &LoadError{Code: ErrCodeUnknownPolicy, Message: err.Error()}
	}
	req := engine.InitializeRequest{
		Authority:       m.Authority,
		DefaultPolicy:   def,
		CommitTTL:       m.CommitTTL,
		MaxMessageAge:   m.MaxMessageAge,
		CreateWalletFee: m.Fees.CreateWallet,
		ExecuteFee:      m.Fees.Execute,
	}
	for _, name := range m.Whitelist {
		id, err := reg.Resolve(name)
		if err != nil {
			return engine.InitializeRequest{}, &LoadError{Code: ErrCodeUnknownPolicy, Message: err.Error()}
		}
		req.Whitelist = append(req.Whitelist, id)
	}
	return req, nil
}

// Apply initializes eng from the manifest and makes the genesis deposits.
func (m *Manifest) Apply(ctx context.Context, eng *engine.Engine) error {
	req, err := m.InitializeRequest(eng.Policies())
	if err != nil {
		return err
	}
	if _, err := eng.Initialize(ctx, req); err != nil {
		return err
	}
	for _, f := range m.Funding {
		if _, err := eng.Deposit(ctx, f.Account, f.Amount); err != nil {
			return fmt.Errorf("fund %s: %w", f.Account.Short(), err)
		}
	}
	return nil
}
