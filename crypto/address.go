package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used when rendering addresses.
type AddressPrefix string

const (
	AccountPrefix AddressPrefix = "acct"
	PoolPrefix    AddressPrefix = "pool"
	TranchePrefix AddressPrefix = "tranche"
	VaultPrefix   AddressPrefix = "vault"
)

// EncodeAddress renders a 20-byte address as a bech32 string with the supplied
// prefix.
func EncodeAddress(prefix AddressPrefix, addr common.Address) (string, error) {
	if strings.TrimSpace(string(prefix)) == "" {
		return "", fmt.Errorf("address prefix required")
	}
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(string(prefix), conv)
}

// MustEncodeAddress is EncodeAddress for callers holding a known-good prefix.
func MustEncodeAddress(prefix AddressPrefix, addr common.Address) string {
	encoded, err := EncodeAddress(prefix, addr)
	if err != nil {
		panic(err)
	}
	return encoded
}

// DecodeAddress parses a bech32 address and returns its prefix and raw bytes.
func DecodeAddress(addrStr string) (AddressPrefix, common.Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return "", common.Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return "", common.Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != common.AddressLength {
		return "", common.Address{}, fmt.Errorf("address must be %d bytes long, got %d", common.AddressLength, len(conv))
	}
	return AddressPrefix(prefix), common.BytesToAddress(conv), nil
}

// ParseAddress accepts either a 0x-prefixed hex address or a bech32 address.
func ParseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return common.Address{}, fmt.Errorf("invalid hex address %q", trimmed)
		}
		return common.HexToAddress(trimmed), nil
	}
	_, addr, err := DecodeAddress(trimmed)
	if err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// DeriveAddress maps a human label onto a deterministic address. The simulator
// uses it to give scenario participants stable identities.
func DeriveAddress(label string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte(strings.TrimSpace(label)))[12:])
}
