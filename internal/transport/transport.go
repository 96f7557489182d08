// Package transport defines the outbound delivery interface and is
// implemented by the smtp, ses, and stdout backends.
package transport

import "context"

// Transport delivers one raw message with an explicit SMTP envelope.
// The envelope sender is the bounce address for the (list, recipient)
// pair, distinct from the visible From header.
type Transport interface {
	// Send delivers raw to envelopeTo with envelopeFrom as return
	// path. It returns an error if the delivery fails.
	Send(ctx context.Context, raw []byte, envelopeFrom, envelopeTo string) error

	// Name returns the human-readable name of this transport.
	Name() string
}
