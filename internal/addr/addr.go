// Package addr validates wallet addresses and derives deterministic escrow
// addresses for collateral vaults. Addresses are base58-encoded 32-byte
// ed25519 public keys; escrow addresses are intentionally off-curve so no
// private key can ever sign for them.
package addr

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"grovevault-engine/internal/domain"
)

// Validate checks that an address is base58, decodes to 32 bytes, and lies
// on the ed25519 curve.
func Validate(address string) error {
	if address == "" {
		return fmt.Errorf("%w: empty address", domain.ErrInvalidArgument)
	}

	decoded, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: address %s is not base58: %v", domain.ErrInvalidArgument, address, err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("%w: address %s decodes to %d bytes, want 32", domain.ErrInvalidArgument, address, len(decoded))
	}
	if !isOnCurve(decoded) {
		return fmt.Errorf("%w: address %s is not a valid public key", domain.ErrInvalidArgument, address)
	}
	return nil
}

// DeriveVault derives the deterministic escrow address holding collateral
// for one pledged token. The bump search stops at the first hash that is
// off the curve, mirroring program-derived address schemes.
func DeriveVault(asset, tokenID string) (string, error) {
	if asset == "" || tokenID == "" {
		return "", fmt.Errorf("%w: asset and token id are required", domain.ErrInvalidArgument)
	}

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, len(asset)+len(tokenID)+16)
		data = append(data, []byte(asset)...)
		data = append(data, []byte(tokenID)...)
		data = append(data, bump)
		data = append(data, []byte("CollateralVault")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), nil
		}
	}

	return "", fmt.Errorf("no off-curve vault address for %s/%s", asset, tokenID)
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
