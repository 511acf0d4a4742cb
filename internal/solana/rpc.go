package solana

import "context"

// RPCClient defines the chain RPC surface consumed by the rest of the
// process: signature pagination, transaction fetch (single and batched),
// and account reads for bonding-curve state.
type RPCClient interface {
	// GetSignaturesForAddress pages signatures newest-first with a before cursor.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction fetches one confirmed transaction with full meta.
	// Returns nil when the transaction is unknown.
	GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error)

	// GetTransactions fetches several transactions in one batched request.
	// Unknown signatures yield nil entries at the matching index.
	GetTransactions(ctx context.Context, signatures []string) ([]*TransactionDetail, error)

	// GetAccountInfo reads an account's lamports and raw data.
	// Returns nil when the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetSlot returns the current slot.
	GetSlot(ctx context.Context) (int64, error)

	// GetBlockTime returns the estimated production time of a block.
	GetBlockTime(ctx context.Context, slot int64) (*int64, error)
}

// Limiter gates outgoing requests. The rate-limited scheduler satisfies this;
// when nil the client calls the endpoint directly (tests only).
type Limiter interface {
	Execute(ctx context.Context, endpoint string, fn func(context.Context) error) error
}
