package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"escrowledger/core/state"
	"escrowledger/crypto"
	"escrowledger/native/access"
	"escrowledger/native/bank"
)

// Initialize bootstraps the module once: admin receives the administrator
// role and policy becomes the active configuration. A zero StakeBps falls
// back to the default.
func (e *Engine) Initialize(admin [20]byte, policy Policy) error {
	return e.execute("initialize", false, func(c *call) error {
		if _, ok, err := loadPolicy(c.tx); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}
		if admin == ([20]byte{}) {
			return fmt.Errorf("%w: zero administrator", ErrInvalidAddress)
		}
		cfg := policy.Clone()
		if cfg.StakeBps == 0 {
			cfg.StakeBps = DefaultStakeBps
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := access.Grant(c.tx, access.RoleAdministrator, admin); err != nil {
			return err
		}
		if err := storePolicy(c.tx, cfg); err != nil {
			return err
		}
		c.emit(newRoleEvent(EventTypeRoleGranted, string(access.RoleAdministrator), admin, admin))
		return nil
	})
}

// Initialized reports whether Initialize has run.
func (e *Engine) Initialized() (bool, error) {
	var ok bool
	err := e.read(func(kv state.KV) error {
		var err error
		_, ok, err = loadPolicy(kv)
		return err
	})
	return ok, err
}

// GrantRole assigns role to account. Administrators only.
func (e *Engine) GrantRole(caller [20]byte, role access.Role, account [20]byte) error {
	return e.execute("grant_role", false, func(c *call) error {
		if err := access.Require(c.tx, access.RoleAdministrator, caller); err != nil {
			return err
		}
		if account == ([20]byte{}) {
			return fmt.Errorf("%w: zero account", ErrInvalidAddress)
		}
		changed, err := access.Grant(c.tx, role, account)
		if err != nil {
			return err
		}
		if changed {
			c.emit(newRoleEvent(EventTypeRoleGranted, string(role), account, caller))
		}
		return nil
	})
}

// RevokeRole removes role from account. The last administrator cannot be
// revoked.
func (e *Engine) RevokeRole(caller [20]byte, role access.Role, account [20]byte) error {
	return e.execute("revoke_role", false, func(c *call) error {
		if err := access.Require(c.tx, access.RoleAdministrator, caller); err != nil {
			return err
		}
		changed, err := access.Revoke(c.tx, role, account)
		if err != nil {
			return err
		}
		if changed {
			c.emit(newRoleEvent(EventTypeRoleRevoked, string(role), account, caller))
		}
		return nil
	})
}

// HasRole reports whether account satisfies role.
func (e *Engine) HasRole(role access.Role, account [20]byte) (bool, error) {
	var ok bool
	err := e.read(func(kv state.KV) error {
		err := access.Require(kv, role, account)
		if err == nil {
			ok = true
			return nil
		}
		if errors.Is(err, ErrNotAuthorized) {
			return nil
		}
		return err
	})
	return ok, err
}

// Pause engages the circuit breaker.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused("pause", caller, true, EventTypePaused)
}

// Unpause releases the circuit breaker.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused("unpause", caller, false, EventTypeUnpaused)
}

func (e *Engine) setPaused(op string, caller [20]byte, paused bool, eventType string) error {
	return e.execute(op, false, func(c *call) error {
		if err := access.Require(c.tx, access.RoleAdministrator, caller); err != nil {
			return err
		}
		current, err := access.Paused(c.tx)
		if err != nil {
			return err
		}
		if current == paused {
			return nil
		}
		if err := access.SetPaused(c.tx, paused); err != nil {
			return err
		}
		c.emit(newPauseEvent(eventType, caller))
		return nil
	})
}

// Paused reports whether the circuit breaker is engaged.
func (e *Engine) Paused() (bool, error) {
	var paused bool
	err := e.read(func(kv state.KV) error {
		var err error
		paused, err = access.Paused(kv)
		return err
	})
	return paused, err
}

// Deposit credits a wallet from outside the ledger. Administrators only.
func (e *Engine) Deposit(caller, to [20]byte, asset string, amount *big.Int) error {
	return e.execute("deposit", false, func(c *call) error {
		if err := access.Require(c.tx, access.RoleAdministrator, caller); err != nil {
			return err
		}
		if to == ([20]byte{}) {
			return fmt.Errorf("%w: zero account", ErrInvalidAddress)
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
		}
		normalized, err := NormalizeAsset(asset)
		if err != nil {
			return err
		}
		return bank.Deposit(c.tx, to, normalized, amount)
	})
}

// updatePolicy runs mutate against the stored policy on behalf of a manager
// or administrator.
func (e *Engine) updatePolicy(op string, caller [20]byte, role access.Role, field string, mutate func(*Policy) (string, error)) error {
	return e.execute(op, false, func(c *call) error {
		if err := access.Require(c.tx, role, caller); err != nil {
			return err
		}
		policy, err := requirePolicy(c.tx)
		if err != nil {
			return err
		}
		value, err := mutate(&policy)
		if err != nil {
			return err
		}
		if err := policy.Validate(); err != nil {
			return err
		}
		if err := storePolicy(c.tx, policy); err != nil {
			return err
		}
		c.emit(newConfigEvent(caller, field, value))
		return nil
	})
}

// SetAssetWhitelisted allows or disallows an asset for new jobs. The native
// asset is always allowed.
func (e *Engine) SetAssetWhitelisted(caller [20]byte, asset string, allowed bool) error {
	return e.updatePolicy("set_asset_whitelisted", caller, access.RoleManager, "whitelist", func(p *Policy) (string, error) {
		normalized, err := NormalizeAsset(asset)
		if err != nil {
			return "", err
		}
		if normalized != NativeAsset {
			p.setWhitelisted(normalized, allowed)
		}
		return normalized + "=" + strconv.FormatBool(allowed), nil
	})
}

// SetPlatformFee sets the completion fee in basis points.
func (e *Engine) SetPlatformFee(caller [20]byte, bps uint32) error {
	return e.updatePolicy("set_platform_fee", caller, access.RoleManager, "feeBps", func(p *Policy) (string, error) {
		if bps > MaxFeeBps {
			return "", fmt.Errorf("%w: fee %d bps exceeds %d", ErrInvalidAmount, bps, MaxFeeBps)
		}
		p.FeeBps = bps
		return strconv.FormatUint(uint64(bps), 10), nil
	})
}

// SetVault sets the account credited with platform fees.
func (e *Engine) SetVault(caller [20]byte, vault [20]byte) error {
	return e.updatePolicy("set_vault", caller, access.RoleManager, "vault", func(p *Policy) (string, error) {
		if vault == ([20]byte{}) {
			return "", fmt.Errorf("%w: zero vault", ErrInvalidAddress)
		}
		p.Vault = vault
		return crypto.HexAddress(vault), nil
	})
}

// SetReputationThreshold sets the score at which the fee is waived. Zero
// disables the threshold.
func (e *Engine) SetReputationThreshold(caller [20]byte, threshold uint64) error {
	return e.updatePolicy("set_reputation_threshold", caller, access.RoleManager, "reputationThreshold", func(p *Policy) (string, error) {
		p.ReputationThreshold = threshold
		return strconv.FormatUint(threshold, 10), nil
	})
}

// SetSupreme toggles the per-address fee waiver override.
func (e *Engine) SetSupreme(caller [20]byte, account [20]byte, supreme bool) error {
	return e.updatePolicy("set_supreme", caller, access.RoleManager, "supreme", func(p *Policy) (string, error) {
		if account == ([20]byte{}) {
			return "", fmt.Errorf("%w: zero account", ErrInvalidAddress)
		}
		p.setSupreme(account, supreme)
		return crypto.HexAddress(account) + "=" + strconv.FormatBool(supreme), nil
	})
}

// SetStakeBps sets the applicant stake share, bounded to 5-10%.
func (e *Engine) SetStakeBps(caller [20]byte, bps uint32) error {
	return e.updatePolicy("set_stake_bps", caller, access.RoleManager, "stakeBps", func(p *Policy) (string, error) {
		p.StakeBps = bps
		return strconv.FormatUint(uint64(bps), 10), nil
	})
}

// SetExternalArbitration routes new disputes to the attached arbitrator.
// Administrators only.
func (e *Engine) SetExternalArbitration(caller [20]byte, enabled bool) error {
	return e.updatePolicy("set_external_arbitration", caller, access.RoleAdministrator, "externalArbitration", func(p *Policy) (string, error) {
		p.ExternalArbitration = enabled
		return strconv.FormatBool(enabled), nil
	})
}
