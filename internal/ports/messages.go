package ports

import (
	"context"
	"time"
)

// InboundMessage is one instruction delivered by the message source.
type InboundMessage struct {
	MessageID  int64
	Text       string
	SenderName string
	Timestamp  time.Time
}

// Channel is one subscribable channel at the message source.
type Channel struct {
	ID    int64
	Title string
	Type  string
}

// MessageSource delivers free-text trade instructions via a registered
// callback for a selected channel.
type MessageSource interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// Channels enumerates the channels available for monitoring.
	Channels(ctx context.Context) ([]Channel, error)
	// Listen registers the handler and blocks delivering messages from the
	// channel until the context is cancelled.
	Listen(ctx context.Context, channelID int64, handler func(InboundMessage)) error
}
