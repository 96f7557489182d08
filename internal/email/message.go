// Package email defines the parsed representation of a fetched message
// that the classification, authorization, and composition stages share.
package email

import (
	"net/textproto"
	"time"
)

// Message is one email fetched from a list's mailbox, parsed into the
// pieces the pipeline needs. Raw always holds the exact fetched bytes.
type Message struct {
	// UID identifies the message within its IMAP folder, used for
	// move/flag operations.
	UID uint32

	FromAddress     string
	FromDisplayName string
	To              []string
	Cc              []string

	Subject    string
	MessageID  string
	InReplyTo  string
	References []string
	Date       time.Time

	// Headers holds the full header set with canonical-cased keys.
	Headers map[string][]string

	TextBody    string
	HTMLBody    string
	Attachments []Attachment

	Raw []byte
}

// Attachment is a file carried by a message, preserved verbatim when
// the message is redistributed.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Header returns the first value of the named header, or "". The name
// is canonicalized, so lookups are case-insensitive.
func (m *Message) Header(name string) string {
	if vs := m.Headers[textproto.CanonicalMIMEHeaderKey(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// HasSender reports whether the message carries a usable From address.
// Group-mode composition requires one.
func (m *Message) HasSender() bool {
	return m.FromAddress != ""
}

// DisplayName returns the sender display name, falling back to the
// sender address when the From header carried no name.
func (m *Message) DisplayName() string {
	if m.FromDisplayName != "" {
		return m.FromDisplayName
	}
	return m.FromAddress
}
