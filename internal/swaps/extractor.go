// Package swaps recovers normalized trades from raw Solana transactions.
// Parsing is best effort: a transaction that cannot be decoded as a swap of
// the target mint yields no swap and is skipped, never an error.
package swaps

import (
	"bytes"
	"strconv"
	"sync/atomic"

	"github.com/mr-tron/base58"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/observability"
	"solana-candle-lab/internal/solana"
)

// PumpFunProgram is the pump.fun launchpad program ID.
const PumpFunProgram = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Anchor instruction discriminators for the buy and sell instructions.
// This is a fixed allow-list: unknown discriminators are ignored, so new
// instruction variants silently produce no swaps until the list is extended.
var (
	buyDiscriminators = [][]byte{
		{102, 6, 61, 18, 1, 218, 235, 234},
	}
	sellDiscriminators = [][]byte{
		{51, 230, 133, 164, 1, 127, 131, 173},
	}
	// createDiscriminator marks the token-creation instruction. It is not a
	// swap itself, but a buy sharing its transaction is the creator's dev buy.
	createDiscriminator = []byte{24, 30, 200, 40, 5, 28, 7, 119}
)

const lamportsPerSol = 1_000_000_000

// Extractor parses swaps of one launchpad program out of transactions.
type Extractor struct {
	programID string

	// unknownInstructions counts instructions of the target program whose
	// discriminator matched neither set, as a staleness signal for the
	// allow-list above.
	unknownInstructions atomic.Int64
}

// NewExtractor creates an extractor for the given program, defaulting to
// pump.fun.
func NewExtractor(programID string) *Extractor {
	if programID == "" {
		programID = PumpFunProgram
	}
	return &Extractor{programID: programID}
}

// UnknownInstructionCount reports how many target-program instructions were
// skipped for carrying an unrecognized discriminator.
func (e *Extractor) UnknownInstructionCount() int64 {
	return e.unknownInstructions.Load()
}

// ExtractSwap recovers a swap of mint from tx. poolAddress is the bonding
// curve (or pool) account whose balances anchor the quote-side delta; it may
// be empty, in which case the fee payer's delta is used despite being
// polluted by transaction fees. The second return is false when the
// transaction holds no recognizable swap of the mint.
func (e *Extractor) ExtractSwap(tx *solana.TransactionDetail, mint, poolAddress string) (*domain.Swap, bool) {
	if tx == nil || tx.Failed() || tx.Meta == nil || tx.Message == nil {
		return nil, false
	}

	keys := tx.AllAccountKeys()

	side, mintTx, ok := e.scanInstructions(tx, keys)
	if !ok {
		return nil, false
	}

	tokenDelta, decimals, ok := tokenDeltaForMint(tx.Meta, mint, poolAddress)
	if !ok || tokenDelta == 0 {
		return nil, false
	}

	nativeDelta, ok := nativeDelta(tx.Meta, keys, poolAddress)
	if !ok || nativeDelta == 0 {
		return nil, false
	}

	tokenAmount := float64(abs64(tokenDelta)) / pow10(decimals)
	quoteAmount := float64(abs64(nativeDelta)) / lamportsPerSol
	if tokenAmount == 0 {
		return nil, false
	}

	observability.RecordSwapExtracted()
	return &domain.Swap{
		Signature:   tx.Signature,
		Slot:        tx.Slot,
		Timestamp:   tx.BlockTime,
		Side:        side,
		TokenAmount: tokenAmount,
		QuoteAmount: quoteAmount,
		Price:       quoteAmount / tokenAmount,
		MintTx:      mintTx,
	}, true
}

// scanInstructions walks top-level and inner instructions of the target
// program, matching leading discriminator bytes. The first buy or sell match
// fixes the side; a create instruction anywhere in the transaction marks the
// swap as the mint transaction.
func (e *Extractor) scanInstructions(tx *solana.TransactionDetail, keys []string) (side string, mintTx, ok bool) {
	classify := func(inst solana.Instruction) {
		if inst.ProgramIDIndex < 0 || inst.ProgramIDIndex >= len(keys) {
			return
		}
		if keys[inst.ProgramIDIndex] != e.programID {
			return
		}
		data, err := base58.Decode(inst.Data)
		if err != nil || len(data) < 8 {
			return
		}
		disc := data[:8]
		if bytes.Equal(disc, createDiscriminator) {
			mintTx = true
			return
		}
		for _, d := range buyDiscriminators {
			if bytes.Equal(disc, d) {
				if side == "" {
					side = domain.SwapSideBuy
				}
				return
			}
		}
		for _, d := range sellDiscriminators {
			if bytes.Equal(disc, d) {
				if side == "" {
					side = domain.SwapSideSell
				}
				return
			}
		}
		e.unknownInstructions.Add(1)
		observability.RecordUnknownInstruction()
	}

	for _, inst := range tx.Message.Instructions {
		classify(inst)
	}
	for _, set := range tx.Meta.InnerInstructions {
		for _, inst := range set.Instructions {
			classify(inst)
		}
	}
	return side, mintTx, side != ""
}

// tokenDeltaForMint diffs pre/post token balances for the mint of interest.
// The pool-owned token account is preferred; otherwise the account with the
// largest absolute movement stands in for the pool side. All arithmetic is
// on raw base units; decimals are applied by the caller.
func tokenDeltaForMint(meta *solana.TransactionMeta, mint, poolAddress string) (delta int64, decimals int, ok bool) {
	type balance struct {
		pre, post uint64
		owner     string
		decimals  int
		hasPre    bool
		hasPost   bool
	}
	byIndex := make(map[int]*balance)

	get := func(idx int) *balance {
		b, exists := byIndex[idx]
		if !exists {
			b = &balance{}
			byIndex[idx] = b
		}
		return b
	}

	for _, tb := range meta.PreTokenBalances {
		if tb.Mint != mint {
			continue
		}
		amount, err := strconv.ParseUint(tb.Amount, 10, 64)
		if err != nil {
			continue
		}
		b := get(tb.AccountIndex)
		b.pre = amount
		b.owner = tb.Owner
		b.decimals = tb.Decimals
		b.hasPre = true
	}
	for _, tb := range meta.PostTokenBalances {
		if tb.Mint != mint {
			continue
		}
		amount, err := strconv.ParseUint(tb.Amount, 10, 64)
		if err != nil {
			continue
		}
		b := get(tb.AccountIndex)
		b.post = amount
		b.owner = tb.Owner
		b.decimals = tb.Decimals
		b.hasPost = true
	}

	var best int64
	var bestDecimals int
	found := false
	for _, b := range byIndex {
		if !b.hasPre && !b.hasPost {
			continue
		}
		d := int64(b.post) - int64(b.pre)
		if poolAddress != "" && b.owner == poolAddress {
			return d, b.decimals, true
		}
		if !found || abs64(d) > abs64(best) {
			best = d
			bestDecimals = b.decimals
			found = true
		}
	}
	return best, bestDecimals, found
}

// nativeDelta computes the lamport delta, preferring the pool account over
// the fee payer since the payer's balance is polluted by transaction fees.
func nativeDelta(meta *solana.TransactionMeta, keys []string, poolAddress string) (int64, bool) {
	idx := -1
	if poolAddress != "" {
		for i, k := range keys {
			if k == poolAddress {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		idx = 0 // fee payer fallback
	}
	if idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
		return 0, false
	}
	return int64(meta.PostBalances[idx]) - int64(meta.PreBalances[idx]), true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func pow10(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 10
	}
	return r
}
