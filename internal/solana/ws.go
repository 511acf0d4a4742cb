package solana

import "context"

// WSClient defines the Solana WebSocket subscription interface used by the
// live price watcher.
type WSClient interface {
	// SubscribeAccount subscribes to data changes of one account
	// (a bonding-curve reserve account).
	SubscribeAccount(ctx context.Context, pubkey string) (<-chan AccountNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// AccountNotification is one account-change message.
type AccountNotification struct {
	Pubkey   string
	Slot     int64
	Lamports uint64
	Data     []byte // decoded account data
}
