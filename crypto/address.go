package crypto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix is the human-readable part of a bech32 encoded address.
type AddressPrefix string

const (
	// AccountPrefix marks regular wallet addresses.
	AccountPrefix AddressPrefix = "lend"
	// VaultPrefix marks module-owned vault addresses holding pooled funds.
	VaultPrefix AddressPrefix = "lendvault"
)

// AddressLength is the raw byte length of every address.
const AddressLength = 20

// Address is a 20-byte account identifier with a prefix describing its role.
type Address struct {
	prefix AddressPrefix
	raw    []byte
}

// NewAddress wraps the provided raw bytes. The byte slice must be exactly
// AddressLength long.
func NewAddress(prefix AddressPrefix, raw []byte) Address {
	if len(raw) != AddressLength {
		panic(fmt.Sprintf("address must be %d bytes", AddressLength))
	}
	cloned := append([]byte(nil), raw...)
	return Address{prefix: prefix, raw: cloned}
}

// Bytes returns the raw address payload.
func (a Address) Bytes() []byte { return a.raw }

// Prefix returns the human-readable prefix of the address.
func (a Address) Prefix() AddressPrefix { return a.prefix }

// IsZero reports whether the address is unset or all-zero bytes.
func (a Address) IsZero() bool {
	if len(a.raw) == 0 {
		return true
	}
	for _, b := range a.raw {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether two addresses carry the same payload and prefix.
func (a Address) Equal(other Address) bool {
	return a.prefix == other.prefix && bytes.Equal(a.raw, other.raw)
}

// String renders the bech32 encoding of the address.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.raw, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// DecodeAddress parses a bech32 encoded address string.
func DecodeAddress(encoded string) (Address, error) {
	prefix, data, err := bech32.Decode(encoded)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("convert bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address payload must be %d bytes, got %d", AddressLength, len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}
