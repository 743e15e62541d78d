package client

// User-facing connection messages.
const (
	MessageDisconnected = "Connection lost. Reconnecting when the network returns."
	MessageReconnected  = "Reconnected."
	MessageConflict     = "Another participant already revealed this round."
)

// Notifier is the toast boundary: Show presents a message (the most recent
// Show stays visible until Hide), Hide clears it. UI layers provide a real
// implementation; the CLI writes to stderr.
type Notifier interface {
	Show(text string)
	Hide()
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Show(string) {}
func (NopNotifier) Hide()       {}
