package discovery

import (
	"crypto/sha256"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// CurveAddress derives the bonding-curve account for a mint under the
// launchpad program: PDA of ("bonding-curve", mint).
func CurveAddress(mint, programID string) (string, error) {
	mintBytes, err := base58.Decode(mint)
	if err != nil {
		return "", err
	}
	programBytes, err := base58.Decode(programID)
	if err != nil {
		return "", err
	}
	return derivePDA([][]byte{[]byte("bonding-curve"), mintBytes}, programBytes), nil
}

// derivePDA derives a Program Derived Address: sha256 over seeds + bump +
// program ID + marker, taking the highest bump whose hash is off-curve.
func derivePDA(seeds [][]byte, programID []byte) string {
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:])
		}
	}
	return ""
}

// isOnCurve reports whether the 32-byte point decodes as a valid ed25519
// curve point. PDAs must be off-curve so no private key can exist for them.
func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
