package ports

import "context"

// StreamConn is one live push-channel connection. ReadMessage blocks until the next
// frame arrives or the connection fails; Close unblocks a pending read.
type StreamConn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// StreamDialer opens the exchange push channels.
type StreamDialer interface {
	// UserStream opens the private channel authorized by sessionKey.
	UserStream(ctx context.Context, sessionKey string) (StreamConn, error)
	// MarkPriceStream opens the public mark-price channel for symbol.
	MarkPriceStream(ctx context.Context, symbol string) (StreamConn, error)
}
