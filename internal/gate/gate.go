// Package gate binds accounts to a plan-limited set of device
// fingerprints and locks accounts that show multi-device sharing abuse.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/armansaberi/prism/config"
)

// Deny reasons. A deny is authoritative; callers surface it as an auth
// failure without retrying.
var (
	ErrUnregisteredDevice = errors.New("unregistered-device")
	ErrMultiDeviceAbuse   = errors.New("multi-device-abuse")
	ErrAccountLocked      = errors.New("account-locked")
)

// Account is the slice of the account row the gate needs.
type Account struct {
	ID     string
	Plan   string
	Locked bool
}

// Directory resolves accounts and persists the lock transition.
type Directory interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	LockAccount(ctx context.Context, id string) error
}

// DeviceStore is the keyed, concurrency-safe store behind the gate:
// the registered device set per account plus a trailing activity log of
// every fingerprint sighting, allowed or denied.
type DeviceStore interface {
	IsRegistered(ctx context.Context, accountID, fingerprint string) (bool, error)
	CountRegistered(ctx context.Context, accountID string) (int, error)
	RegisterDevice(ctx context.Context, accountID, fingerprint string) error
	RecordSighting(ctx context.Context, accountID, fingerprint string, at time.Time) error
	DistinctSightings(ctx context.Context, accountID string, window time.Duration) (int, error)
}

// Gate validates (account, fingerprint) pairs.
type Gate struct {
	cfg        config.GateConfig
	devices    DeviceStore
	accounts   Directory
	onLock     func()
	onRegister func()
	now        func() time.Time
}

// SetOnRegister installs a hook fired whenever a new device binds.
func (g *Gate) SetOnRegister(fn func()) { g.onRegister = fn }

// New creates a gate. onLock may be nil; it fires once per lock
// transition (metrics hook).
func New(cfg config.GateConfig, devices DeviceStore, accounts Directory, onLock func()) *Gate {
	return &Gate{cfg: cfg, devices: devices, accounts: accounts, onLock: onLock, now: time.Now}
}

// Validate applies the device-binding policy. A nil return is Allow.
// Deny reasons come back as the sentinel errors above; anything else is
// an infrastructure failure.
//
// Every sighting is recorded before the verdict so abuse shows up in
// the trailing window even when the request is denied. The account
// locks when distinct sightings inside the window exceed the plan cap
// by more than one device-worth of activity.
func (g *Gate) Validate(ctx context.Context, accountID, fingerprint string) error {
	account, err := g.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("resolving account %s: %w", accountID, err)
	}
	if account.Locked {
		return ErrAccountLocked
	}

	if err := g.devices.RecordSighting(ctx, accountID, fingerprint, g.now()); err != nil {
		return fmt.Errorf("recording sighting: %w", err)
	}

	cap := g.cfg.DevicesFor(account.Plan)
	distinct, err := g.devices.DistinctSightings(ctx, accountID, g.cfg.Window)
	if err != nil {
		return fmt.Errorf("scanning sightings: %w", err)
	}
	if distinct > cap+1 {
		if err := g.accounts.LockAccount(ctx, accountID); err != nil {
			return fmt.Errorf("locking account %s: %w", accountID, err)
		}
		if g.onLock != nil {
			g.onLock()
		}
		return ErrMultiDeviceAbuse
	}

	registered, err := g.devices.IsRegistered(ctx, accountID, fingerprint)
	if err != nil {
		return fmt.Errorf("checking device: %w", err)
	}
	if registered {
		return nil
	}

	count, err := g.devices.CountRegistered(ctx, accountID)
	if err != nil {
		return fmt.Errorf("counting devices: %w", err)
	}
	if count >= cap {
		return ErrUnregisteredDevice
	}
	if err := g.devices.RegisterDevice(ctx, accountID, fingerprint); err != nil {
		return fmt.Errorf("registering device: %w", err)
	}
	if g.onRegister != nil {
		g.onRegister()
	}
	return nil
}
