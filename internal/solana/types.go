package solana

// SignatureInfo is one entry from getSignaturesForAddress (newest first).
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts controls getSignaturesForAddress pagination.
type SignaturesOpts struct {
	Before string // fetch signatures older than this one
	Until  string // stop at this signature
	Limit  int    // max 1000
}

// TokenBalance is a pre/post token balance snapshot from transaction meta.
// Amount is kept as a raw base-unit string; decimals are applied by callers
// only after integer deltas are computed.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string
	Decimals     int
}

// Instruction is a compiled instruction referencing the account key list.
type Instruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"` // base58
}

// InnerInstructionSet groups inner instructions under one outer index.
type InnerInstructionSet struct {
	Index        int           `json:"index"`
	Instructions []Instruction `json:"instructions"`
}

// TransactionMeta carries the balance snapshots and inner instructions
// needed to reconstruct a swap from a confirmed transaction.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	PreBalances       []uint64 // lamports per account index
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	InnerInstructions []InnerInstructionSet
	LoadedWritable    []string // address-table-looked-up accounts
	LoadedReadonly    []string
	LogMessages       []string
}

// TransactionMessage is the static portion of a transaction.
type TransactionMessage struct {
	AccountKeys  []string
	Instructions []Instruction
}

// TransactionDetail is a confirmed transaction with full meta.
type TransactionDetail struct {
	Signature string
	Slot      int64
	BlockTime int64 // Unix seconds, 0 if unavailable
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// AllAccountKeys resolves the complete account key list: the static message
// keys followed by address-table-looked-up writable and readonly accounts,
// in that order. Instruction account indices address this combined list.
func (t *TransactionDetail) AllAccountKeys() []string {
	if t.Message == nil {
		return nil
	}
	keys := make([]string, 0, len(t.Message.AccountKeys))
	keys = append(keys, t.Message.AccountKeys...)
	if t.Meta != nil {
		keys = append(keys, t.Meta.LoadedWritable...)
		keys = append(keys, t.Meta.LoadedReadonly...)
	}
	return keys
}

// Failed reports whether the transaction errored on chain.
func (t *TransactionDetail) Failed() bool {
	return t.Meta != nil && t.Meta.Err != nil
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte // decoded account data
	Executable bool
	RentEpoch  uint64
}
