package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{0x42}, 20))

	encoded := EncodeAddress(addr)
	if !strings.HasPrefix(encoded, AddressPrefix+"1") {
		t.Fatalf("unexpected bech32 prefix: %s", encoded)
	}
	decoded, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if decoded != addr {
		t.Fatalf("bech32 round trip mismatch")
	}

	fromHex, err := ParseAddress(HexAddress(addr))
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex != addr {
		t.Fatalf("hex round trip mismatch")
	}
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"0x1234",
		"0xzz00000000000000000000000000000000000000",
		"nhb1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq",
		"not-an-address",
	}
	for _, tc := range cases {
		if _, err := ParseAddress(tc); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected ErrInvalidAddress for %q, got %v", tc, err)
		}
	}
}

func TestParseAddressRejectsForeignPrefix(t *testing.T) {
	var addr [20]byte
	addr[0] = 1
	encoded := EncodeAddress(addr)
	foreign := "abc" + encoded[len(AddressPrefix):]
	if _, err := ParseAddress(foreign); err == nil {
		t.Fatalf("expected foreign prefix to be rejected")
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	a := ModuleAddress("escrow/custody")
	b := ModuleAddress("escrow/custody")
	c := ModuleAddress("escrow/other")
	if a != b {
		t.Fatalf("module address must be deterministic")
	}
	if a == c {
		t.Fatalf("distinct module names must not collide")
	}
	if a == ([20]byte{}) {
		t.Fatalf("module address must be non-zero")
	}
}
