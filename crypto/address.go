package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part used for bech32 account strings.
const AddressPrefix = "esc"

// ErrInvalidAddress marks strings that do not decode to a 20-byte account.
var ErrInvalidAddress = errors.New("crypto: invalid address")

// EncodeAddress renders a 20-byte account as a bech32 string with the ledger
// prefix.
func EncodeAddress(addr [20]byte) string {
	conv, err := bech32.ConvertBits(addr[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// HexAddress renders the account as a 0x-prefixed lowercase hex string.
func HexAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

// ParseAddress accepts either a 0x-prefixed 40 character hex string or a
// bech32 string carrying the ledger prefix.
func ParseAddress(raw string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return out, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		body := trimmed[2:]
		if len(body) != 40 {
			return out, fmt.Errorf("%w: hex address must be 20 bytes", ErrInvalidAddress)
		}
		decoded, err := hex.DecodeString(body)
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		copy(out[:], decoded)
		return out, nil
	}
	prefix, data, err := bech32.Decode(strings.ToLower(trimmed))
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if prefix != AddressPrefix {
		return out, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAddress, prefix)
	}
	conv, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(conv) != 20 {
		return out, fmt.Errorf("%w: decoded %d bytes", ErrInvalidAddress, len(conv))
	}
	copy(out[:], conv)
	return out, nil
}

// ModuleAddress derives a deterministic account for an internal module from
// its name: the trailing 20 bytes of keccak256(name).
func ModuleAddress(name string) [20]byte {
	digest := crypto.Keccak256([]byte(name))
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}
