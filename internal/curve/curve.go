// Package curve decodes pump.fun bonding-curve reserve accounts and derives
// prices via the constant-product formula. Virtual reserves govern the trade
// math; real reserves exist for display only.
package curve

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// Account layout: 8-byte anchor discriminator, then five little-endian u64
// reserve fields and a one-byte completion flag.
const (
	accountDiscriminatorLen = 8
	accountMinLen           = accountDiscriminatorLen + 5*8 + 1
)

// accountDiscriminator identifies a BondingCurve account (anchor sha256 tag).
var accountDiscriminator = []byte{0x17, 0xb7, 0xf8, 0x37, 0x60, 0xd8, 0xac, 0x60}

// Reserve decimal conventions: tokens use 6 decimals, SOL uses 9.
const (
	TokenDecimals = 6
	SolDecimals   = 9

	lamportsPerSol   = 1_000_000_000
	tokenBaseUnits   = 1_000_000
	basisPointsTotal = 10_000
)

// DefaultFeeBasisPoints is the launchpad's swap fee (1%).
const DefaultFeeBasisPoints = 100

var (
	// ErrBadLayout is returned for account data that is too short or does
	// not carry the bonding-curve discriminator.
	ErrBadLayout = errors.New("not a bonding curve account")

	// ErrCurveComplete is returned when simulating a buy against a curve
	// that has graduated; trading continues on the DEX pool instead.
	ErrCurveComplete = errors.New("bonding curve complete")

	// ErrEmptyReserves is returned when either virtual reserve is zero.
	ErrEmptyReserves = errors.New("bonding curve has empty virtual reserves")
)

// State is the decoded reserve state of one bonding curve. All quantities
// are raw base units; nothing here is decimal-adjusted.
type State struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// Decode parses a bonding-curve account's raw data.
func Decode(data []byte) (*State, error) {
	if len(data) < accountMinLen {
		return nil, ErrBadLayout
	}
	for i, b := range accountDiscriminator {
		if data[i] != b {
			return nil, ErrBadLayout
		}
	}

	off := accountDiscriminatorLen
	s := &State{
		VirtualTokenReserves: binary.LittleEndian.Uint64(data[off:]),
		VirtualSolReserves:   binary.LittleEndian.Uint64(data[off+8:]),
		RealTokenReserves:    binary.LittleEndian.Uint64(data[off+16:]),
		RealSolReserves:      binary.LittleEndian.Uint64(data[off+24:]),
		TokenTotalSupply:     binary.LittleEndian.Uint64(data[off+32:]),
		Complete:             data[off+40] != 0,
	}
	return s, nil
}

// Price returns the instantaneous SOL-per-token price from virtual reserves.
// This is the only place float arithmetic enters; everything upstream stays
// in integer base units.
func (s *State) Price() (float64, error) {
	if s.VirtualTokenReserves == 0 || s.VirtualSolReserves == 0 {
		return 0, ErrEmptyReserves
	}
	sol := float64(s.VirtualSolReserves) / lamportsPerSol
	tokens := float64(s.VirtualTokenReserves) / tokenBaseUnits
	return sol / tokens, nil
}

// BuyQuote computes the token base units received for spending solIn
// lamports, after deducting feeBasisPoints, using 128-bit constant-product
// arithmetic. A graduated curve rejects buys with ErrCurveComplete.
func (s *State) BuyQuote(solIn uint64, feeBasisPoints uint64) (uint64, error) {
	if s.Complete {
		return 0, ErrCurveComplete
	}
	if s.VirtualTokenReserves == 0 || s.VirtualSolReserves == 0 {
		return 0, ErrEmptyReserves
	}
	if solIn == 0 {
		return 0, nil
	}

	fee := mulDiv(solIn, feeBasisPoints, basisPointsTotal)
	solAfterFee := solIn - fee

	// k = virtualSol * virtualToken, kept as a 128-bit pair.
	kHi, kLo := bits.Mul64(s.VirtualSolReserves, s.VirtualTokenReserves)

	newSol := s.VirtualSolReserves + solAfterFee
	if kHi >= newSol {
		return 0, fmt.Errorf("reserve overflow: k too large for divisor %d", newSol)
	}
	newToken, _ := bits.Div64(kHi, kLo, newSol)

	if newToken >= s.VirtualTokenReserves {
		return 0, nil
	}
	return s.VirtualTokenReserves - newToken, nil
}

// SellQuote computes the lamports received for selling tokenIn base units,
// after deducting feeBasisPoints from the proceeds.
func (s *State) SellQuote(tokenIn uint64, feeBasisPoints uint64) (uint64, error) {
	if s.VirtualTokenReserves == 0 || s.VirtualSolReserves == 0 {
		return 0, ErrEmptyReserves
	}
	if tokenIn == 0 {
		return 0, nil
	}

	kHi, kLo := bits.Mul64(s.VirtualSolReserves, s.VirtualTokenReserves)

	newToken := s.VirtualTokenReserves + tokenIn
	if kHi >= newToken {
		return 0, fmt.Errorf("reserve overflow: k too large for divisor %d", newToken)
	}
	newSol, _ := bits.Div64(kHi, kLo, newToken)

	if newSol >= s.VirtualSolReserves {
		return 0, nil
	}
	solOut := s.VirtualSolReserves - newSol
	fee := mulDiv(solOut, feeBasisPoints, basisPointsTotal)
	return solOut - fee, nil
}

// mulDiv computes a*b/div without overflowing the intermediate product.
func mulDiv(a, b, div uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= div {
		return ^uint64(0) // saturate; callers treat this as a hard cap
	}
	q, _ := bits.Div64(hi, lo, div)
	return q
}
