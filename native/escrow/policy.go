package escrow

import (
	"bytes"
	"fmt"
	"sort"
)

const (
	// NativeAsset is accepted regardless of the whitelist.
	NativeAsset = "NATIVE"

	DefaultFeeBps   uint32 = 250
	MaxFeeBps       uint32 = 1_000
	DefaultStakeBps uint32 = 500
	MinStakeBps     uint32 = 500
	MaxStakeBps     uint32 = 1_000
)

// Policy is the configuration surface read by settlements. Each operation
// loads it fresh, so later changes never touch credits already made.
type Policy struct {
	Whitelist           []string
	FeeBps              uint32
	Vault               [20]byte
	ReputationThreshold uint64
	Supreme             [][20]byte
	StakeBps            uint32
	ExternalArbitration bool
}

// DefaultPolicy returns the configuration applied when Initialize receives
// no overrides.
func DefaultPolicy() Policy {
	return Policy{FeeBps: DefaultFeeBps, StakeBps: DefaultStakeBps}
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	clone := p
	clone.Whitelist = append([]string(nil), p.Whitelist...)
	clone.Supreme = append([][20]byte(nil), p.Supreme...)
	return clone
}

// Validate checks bounds and canonicalises list fields.
func (p *Policy) Validate() error {
	if p.FeeBps > MaxFeeBps {
		return fmt.Errorf("%w: fee %d bps exceeds %d", ErrInvalidAmount, p.FeeBps, MaxFeeBps)
	}
	if p.StakeBps < MinStakeBps || p.StakeBps > MaxStakeBps {
		return fmt.Errorf("%w: stake %d bps outside [%d,%d]", ErrInvalidAmount, p.StakeBps, MinStakeBps, MaxStakeBps)
	}
	assets := make([]string, 0, len(p.Whitelist))
	seen := make(map[string]struct{}, len(p.Whitelist))
	for _, raw := range p.Whitelist {
		asset, err := NormalizeAsset(raw)
		if err != nil {
			return err
		}
		if _, dup := seen[asset]; dup {
			continue
		}
		seen[asset] = struct{}{}
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	p.Whitelist = assets

	supreme := make([][20]byte, 0, len(p.Supreme))
	for _, addr := range p.Supreme {
		if addr == ([20]byte{}) {
			return fmt.Errorf("%w: zero supreme address", ErrInvalidAddress)
		}
		supreme = insertAddress(supreme, addr)
	}
	p.Supreme = supreme
	return nil
}

// IsWhitelisted reports whether jobs may be denominated in asset.
func (p Policy) IsWhitelisted(asset string) bool {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return false
	}
	if normalized == NativeAsset {
		return true
	}
	idx := sort.SearchStrings(p.Whitelist, normalized)
	return idx < len(p.Whitelist) && p.Whitelist[idx] == normalized
}

// IsSupreme reports whether addr carries the fee waiver override.
func (p Policy) IsSupreme(addr [20]byte) bool {
	for _, candidate := range p.Supreme {
		if candidate == addr {
			return true
		}
	}
	return false
}

func (p *Policy) setWhitelisted(asset string, allowed bool) {
	idx := sort.SearchStrings(p.Whitelist, asset)
	present := idx < len(p.Whitelist) && p.Whitelist[idx] == asset
	switch {
	case allowed && !present:
		p.Whitelist = append(p.Whitelist, "")
		copy(p.Whitelist[idx+1:], p.Whitelist[idx:])
		p.Whitelist[idx] = asset
	case !allowed && present:
		p.Whitelist = append(p.Whitelist[:idx], p.Whitelist[idx+1:]...)
	}
}

func (p *Policy) setSupreme(addr [20]byte, supreme bool) {
	if supreme {
		p.Supreme = insertAddress(p.Supreme, addr)
		return
	}
	out := p.Supreme[:0]
	for _, candidate := range p.Supreme {
		if candidate != addr {
			out = append(out, candidate)
		}
	}
	p.Supreme = out
}

func insertAddress(list [][20]byte, addr [20]byte) [][20]byte {
	idx := sort.Search(len(list), func(i int) bool { return bytes.Compare(list[i][:], addr[:]) >= 0 })
	if idx < len(list) && list[idx] == addr {
		return list
	}
	list = append(list, [20]byte{})
	copy(list[idx+1:], list[idx:])
	list[idx] = addr
	return list
}
