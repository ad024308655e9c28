// Package transport defines the contract between the session core and
// the external chat network. The network handshake itself is opaque: a
// Client begins a login, reports progress through lifecycle events and
// accepts send/list calls once ready.
package transport

import (
	"context"
	"strings"
	"time"
)

type EventType string

const (
	// EventPairing carries a fresh pairing code the tenant must enter
	// out-of-band. Codes go stale quickly; a later event overwrites an
	// earlier one.
	EventPairing EventType = "pairing"
	// EventReady signals the session is authenticated and usable.
	EventReady EventType = "ready"
	// EventAuthFailure signals a terminal authentication error.
	EventAuthFailure EventType = "auth_failure"
	// EventDisconnected signals the network dropped the session, whether
	// or not a disconnect was requested.
	EventDisconnected EventType = "disconnected"
)

type Event struct {
	Type   EventType
	Code   string // pairing code, EventPairing only
	Reason string
	At     time.Time
}

// Chat is one entry of the client's chat list.
type Chat struct {
	ID               string
	Name             string
	IsGroup          bool
	ParticipantCount int
}

// Media is an already-resolved attachment sent alongside a text caption.
type Media struct {
	Data     []byte
	MimeType string
	Filename string
}

// Client is one tenant's connection to the chat network. Implementations
// own the protocol; callers own the lifecycle. Events must be delivered
// on the channel returned by Events until Destroy closes it.
type Client interface {
	// Connect begins the login flow. Completion is reported via events,
	// not the return value; an error here means the attempt could not
	// even start.
	Connect(ctx context.Context) error

	// Destroy tears the connection down and closes the event channel.
	// Safe to call more than once.
	Destroy() error

	Events() <-chan Event

	ListChats(ctx context.Context) ([]Chat, error)

	// SendMessage delivers text to a destination, optionally with one
	// media attachment captioned by the text.
	SendMessage(ctx context.Context, destination, text string, media *Media) error
}

// Factory creates at most one Client per call; the session manager
// guarantees at most one live Client per tenant.
type Factory interface {
	NewClient(tenantID string) (Client, error)
}

// UserDestination converts a bare phone number (digits only) into the
// network's canonical direct-chat destination.
func UserDestination(digits string) string {
	return digits + "@s.whatsapp.net"
}

// IsGroupDestination reports whether a destination addresses a group
// chat rather than a direct chat.
func IsGroupDestination(dest string) bool {
	return strings.HasSuffix(dest, "@g.us")
}
