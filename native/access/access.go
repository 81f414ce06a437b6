// Package access implements role grants and the global pause switch shared by
// the ledger modules.
package access

import (
	"errors"
	"fmt"
	"strings"

	"escrowledger/core/state"
	"escrowledger/crypto"
)

// Role names a capability granted to an account.
type Role string

const (
	RoleAdministrator Role = "ADMINISTRATOR"
	RoleArbitrator    Role = "ARBITRATOR"
	RoleManager       Role = "MANAGER"
)

var (
	ErrNotAuthorized     = errors.New("access: AccessControlUnauthorizedAccount")
	ErrEnforcedPause     = errors.New("access: EnforcedPause")
	ErrLastAdministrator = errors.New("access: cannot revoke the last administrator")
	ErrUnknownRole       = errors.New("access: unknown role")
)

// Roles lists every role in a stable order.
func Roles() []Role {
	return []Role{RoleAdministrator, RoleArbitrator, RoleManager}
}

// ParseRole accepts role names case-insensitively.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdministrator:
		return RoleAdministrator, nil
	case RoleArbitrator:
		return RoleArbitrator, nil
	case RoleManager:
		return RoleManager, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

func (r Role) valid() bool {
	switch r {
	case RoleAdministrator, RoleArbitrator, RoleManager:
		return true
	}
	return false
}

// HasRole reports whether addr holds exactly the supplied role.
func HasRole(kv state.KV, role Role, addr [20]byte) (bool, error) {
	if !role.valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	var granted bool
	ok, err := kv.KVGet(state.AccessRoleKey(string(role), addr), &granted)
	if err != nil {
		return false, err
	}
	return ok && granted, nil
}

// Require fails with ErrNotAuthorized unless addr holds role. Administrators
// satisfy every role.
func Require(kv state.KV, role Role, addr [20]byte) error {
	ok, err := HasRole(kv, role, addr)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if role != RoleAdministrator {
		admin, err := HasRole(kv, RoleAdministrator, addr)
		if err != nil {
			return err
		}
		if admin {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks %s", ErrNotAuthorized, crypto.HexAddress(addr), role)
}

// RequireAny succeeds when addr satisfies at least one of the roles.
func RequireAny(kv state.KV, addr [20]byte, roles ...Role) error {
	for _, role := range roles {
		err := Require(kv, role, addr)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotAuthorized) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrNotAuthorized, crypto.HexAddress(addr))
}

// AdministratorCount returns the number of accounts holding the
// administrator role.
func AdministratorCount(kv state.KV) (uint64, error) {
	var count uint64
	if _, err := kv.KVGet(state.AccessAdminCountKey(), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Grant assigns role to addr. The boolean reports whether state changed.
func Grant(kv state.KV, role Role, addr [20]byte) (bool, error) {
	if addr == ([20]byte{}) {
		return false, fmt.Errorf("access: zero address")
	}
	has, err := HasRole(kv, role, addr)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}
	if err := kv.KVPut(state.AccessRoleKey(string(role), addr), true); err != nil {
		return false, err
	}
	if role == RoleAdministrator {
		count, err := AdministratorCount(kv)
		if err != nil {
			return false, err
		}
		if err := kv.KVPut(state.AccessAdminCountKey(), count+1); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Revoke removes role from addr. Removing the final administrator is
// rejected so the module can never be orphaned.
func Revoke(kv state.KV, role Role, addr [20]byte) (bool, error) {
	has, err := HasRole(kv, role, addr)
	if err != nil {
		return false, err
	}
	if !has {
		return false, nil
	}
	if role == RoleAdministrator {
		count, err := AdministratorCount(kv)
		if err != nil {
			return false, err
		}
		if count <= 1 {
			return false, ErrLastAdministrator
		}
		if err := kv.KVPut(state.AccessAdminCountKey(), count-1); err != nil {
			return false, err
		}
	}
	if err := kv.KVDelete(state.AccessRoleKey(string(role), addr)); err != nil {
		return false, err
	}
	return true, nil
}

// Paused reports whether the global circuit breaker is engaged.
func Paused(kv state.KV) (bool, error) {
	var paused bool
	if _, err := kv.KVGet(state.AccessPausedKey(), &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// SetPaused engages or releases the circuit breaker.
func SetPaused(kv state.KV, paused bool) error {
	if !paused {
		return kv.KVDelete(state.AccessPausedKey())
	}
	return kv.KVPut(state.AccessPausedKey(), true)
}

// Guard returns ErrEnforcedPause while the circuit breaker is engaged.
func Guard(kv state.KV) error {
	paused, err := Paused(kv)
	if err != nil {
		return err
	}
	if paused {
		return ErrEnforcedPause
	}
	return nil
}
