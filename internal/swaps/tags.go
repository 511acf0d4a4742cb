package swaps

import (
	"sort"

	"solana-candle-lab/internal/domain"
)

// earlySniperSlots is the slot window after creation in which swaps are
// tagged as early snipers.
const earlySniperSlots = 2

// TagSwaps orders a batch of swaps by (slot, mint transaction first,
// timestamp, signature) and attaches actor tags: the very first swap at the
// lowest observed slot is the mint creator, other swaps in that slot are
// bundlers, swaps within the next two slots are early snipers, and any
// signature that carries both a buy and a sell is a volume bot. Tags are
// informational metadata; the candle aggregator ignores them.
func TagSwaps(batch []*domain.Swap) {
	if len(batch) == 0 {
		return
	}

	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Slot != batch[j].Slot {
			return batch[i].Slot < batch[j].Slot
		}
		if batch[i].MintTx != batch[j].MintTx {
			return batch[i].MintTx
		}
		if batch[i].Timestamp != batch[j].Timestamp {
			return batch[i].Timestamp < batch[j].Timestamp
		}
		return batch[i].Signature < batch[j].Signature
	})

	// Signatures seen with both sides in the batch.
	sides := make(map[string]map[string]bool)
	for _, s := range batch {
		if sides[s.Signature] == nil {
			sides[s.Signature] = make(map[string]bool)
		}
		sides[s.Signature][s.Side] = true
	}

	creationSlot := batch[0].Slot
	for i, s := range batch {
		switch {
		case sides[s.Signature][domain.SwapSideBuy] && sides[s.Signature][domain.SwapSideSell]:
			s.Tag = domain.TagVolumeBot
		case i == 0:
			s.Tag = domain.TagMintCreator
		case s.Slot == creationSlot:
			s.Tag = domain.TagBundler
		case s.Slot <= creationSlot+earlySniperSlots:
			s.Tag = domain.TagEarlySniper
		}
	}
}
