package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/passvault/internal/ir"
)

// DefaultName is the registered name of the device-rule policy.
const DefaultName = "default"

// Default approves any action signed by a device it has a rule for.
//
// One record per authenticator holds (wallet, authenticator). Every device
// registered while Default is active gets a rule; removing a device drops
// its rule.
type Default struct{}

type deviceRule struct {
	Wallet        ir.Address `json:"wallet"`
	Authenticator ir.Address `json:"authenticator"`
}

func putRule(ctx context.Context, rs RecordStore, wallet, auth ir.Address) error {
	data, err := ir.MarshalCanonical(map[string]any{
		"wallet":        wallet,
		"authenticator": auth,
	})
	if err != nil {
		return err
	}
	return rs.Put(ctx, auth, data)
}

func loadRule(ctx context.Context, rs RecordStore, auth ir.Address) (deviceRule, bool, error) {
	data, ok, err := rs.Get(ctx, auth)
	if err != nil || !ok {
		return deviceRule{}, false, err
	}
	var r deviceRule
	if err := json.Unmarshal(data, &r); err != nil {
		return deviceRule{}, false, fmt.Errorf("decode device rule: %w", err)
	}
	return r, true, nil
}

func (Default) checkRule(ctx context.Context, inv *Invocation) error {
	r, ok, err := loadRule(ctx, inv.Records, inv.Authenticator)
	if err != nil {
		return err
	}
	if !ok || r.Wallet != inv.Wallet {
		return rejectf("no rule for authenticator %s", inv.Authenticator.Short())
	}
	return nil
}

// Approve implements Module.
func (d Default) Approve(ctx context.Context, inv *Invocation) error {
	return d.checkRule(ctx, inv)
}

// Mutate implements Module.
func (d Default) Mutate(ctx context.Context, inv *Invocation) error {
	switch inv.Phase {
	case PhaseInit:
		if err := putRule(ctx, inv.Records, inv.Wallet, inv.Authenticator); err != nil {
			return err
		}
		if inv.NewDevice != nil {
			return putRule(ctx, inv.Records, inv.Wallet, inv.NewDevice.Address)
		}
		return nil

	case PhaseDestroy:
		if err := d.checkRule(ctx, inv); err != nil {
			return err
		}
		return inv.Records.Delete(ctx, inv.Authenticator)

	case PhaseMutate:
		if err := d.checkRule(ctx, inv); err != nil {
			return err
		}
		if inv.NewDevice == nil && inv.RemoveDevice == nil {
			return rejectf("mutate requires a device to add or remove")
		}
		if inv.RemoveDevice != nil {
			r, ok, err := loadRule(ctx, inv.Records, *inv.RemoveDevice)
			if err != nil {
				return err
			}
			if ok && r.Wallet == inv.Wallet {
				if err := inv.Records.Delete(ctx, *inv.RemoveDevice); err != nil {
					return err
				}
			}
		}
		if inv.NewDevice != nil {
			return putRule(ctx, inv.Records, inv.Wallet, inv.NewDevice.Address)
		}
		return nil

	default:
		return fmt.Errorf("default policy: unsupported phase %q", inv.Phase)
	}
}
