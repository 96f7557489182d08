// Package stdout implements a Transport that prints messages to standard
// output instead of delivering them. Useful for local development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Transport prints each outgoing message with its envelope in a
// human-readable format.
type Transport struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Transport that writes to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Transport that writes to the given
// writer. This is useful for testing.
func NewWithWriter(w io.Writer) *Transport {
	return &Transport{writer: w}
}

// Send prints the message and its envelope. It always returns nil.
func (t *Transport) Send(_ context.Context, raw []byte, envelopeFrom, envelopeTo string) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("Envelope-From: %s\n", envelopeFrom))
	b.WriteString(fmt.Sprintf("Envelope-To: %s\n", envelopeTo))
	b.WriteString(fmt.Sprintf("Size: %s\n", formatSize(len(raw))))
	b.WriteString("----------------------------------------\n")
	b.Write(raw)
	if len(raw) == 0 || raw[len(raw)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString("========================================\n")

	// A failed write to stdout is not a delivery failure.
	_, _ = fmt.Fprint(t.writer, b.String())
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
