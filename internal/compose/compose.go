// Package compose builds the outbound message for a list post: common
// and mode-specific headers, the redistributed body, and the
// per-recipient finalization that yields independent raw messages.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	netmail "net/mail"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castmail/castmail2list/internal/address"
	"github.com/castmail/castmail2list/internal/authorize"
	"github.com/castmail/castmail2list/internal/email"
	"github.com/castmail/castmail2list/internal/model"
)

// mailerID is the fixed X-Mailer identifier on every outbound message.
const mailerID = "CastMail2List"

// domainHeader mirrors bounce.DomainHeader; composed here, checked
// there.
const domainHeader = "X-CastMail2List-Domain"

// ErrNoSender is returned when group-mode composition cannot proceed
// because the incoming message has no usable From address.
var ErrNoSender = errors.New("no valid From header on incoming message")

// Config is the per-instance configuration the composer needs.
type Config struct {
	// Domain is this instance's domain, stamped into the loop-guard
	// header and generated Message-IDs.
	Domain string
}

// Composer turns authorized incoming messages into outbound templates.
type Composer struct {
	cfg Config

	// now and newID are swappable for tests.
	now   func() time.Time
	newID func() string
}

// New returns a Composer for the given instance configuration.
func New(cfg Config) *Composer {
	c := &Composer{cfg: cfg, now: time.Now}
	c.newID = func() string {
		return "<" + uuid.New().String() + "@" + cfg.Domain + ">"
	}
	return c
}

// Composed is the canonical outbound message: an immutable template.
// Per-recipient variants are produced by Finalize, which renders a
// fresh byte sequence every call, so no recipient's mutation can leak
// into another's.
type Composed struct {
	mode        model.Mode
	listAddress string

	from      string
	replyTo   string
	sender    string
	xMailFrom string

	to []string
	cc []string

	subject    string
	messageID  string
	originalID string
	inReplyTo  string
	references []string
	date       time.Time
	listID     string
	domain     string

	textBody    string
	htmlBody    string
	attachments []email.Attachment

	// originalRecipients holds the normalized To/Cc of the incoming
	// message, pre-rewrite, for avoid_duplicates suppression.
	originalRecipients map[string]struct{}
	avoidDuplicates    bool
}

// MessageID returns the freshly generated outbound Message-ID.
func (m *Composed) MessageID() string { return m.messageID }

// Compose builds the canonical outbound message for ml from msg. The
// subscriber snapshot decides the group-mode Reply-To branch; auth
// carries the recipient address whose password suffix must be hidden.
func (c *Composer) Compose(ml *model.MailingList, msg *email.Message, auth authorize.Result, subscribers []model.Subscriber) (*Composed, error) {
	out := &Composed{
		mode:            ml.Mode,
		listAddress:     ml.Address,
		sender:          ml.Address,
		subject:         msg.Subject,
		messageID:       c.newID(),
		originalID:      msg.MessageID,
		inReplyTo:       msg.InReplyTo,
		references:      buildReferences(msg),
		listID:          "<" + strings.ReplaceAll(ml.Address, "@", ".") + ">",
		domain:          c.cfg.Domain,
		textBody:        msg.TextBody,
		htmlBody:        msg.HTMLBody,
		attachments:     msg.Attachments,
		avoidDuplicates: ml.AvoidDuplicates,
	}

	out.date = msg.Date
	if out.date.IsZero() {
		out.date = c.now()
	}

	out.originalRecipients = make(map[string]struct{}, len(msg.To)+len(msg.Cc))
	for _, rcpt := range append(append([]string{}, msg.To...), msg.Cc...) {
		out.originalRecipients[address.Normalize(rcpt)] = struct{}{}
	}

	// Hide the sender-auth password: any suffixed form of the list
	// address becomes the plain list address.
	to := rewriteListAddress(msg.To, ml.Address)
	cc := rewriteListAddress(msg.Cc, ml.Address)

	switch ml.Mode {
	case model.ModeBroadcast:
		composeBroadcast(out, ml, msg, to, cc)
	case model.ModeGroup:
		if !msg.HasSender() {
			return nil, fmt.Errorf("list %s: %w", ml.Address, ErrNoSender)
		}
		composeGroup(out, ml, msg, to, cc, subscribers)
	default:
		return nil, fmt.Errorf("unknown list mode %q for list %s", ml.Mode, ml.Address)
	}

	return out, nil
}

func composeBroadcast(out *Composed, ml *model.MailingList, msg *email.Message, to, cc []string) {
	if ml.FromAddr != "" {
		// A configured From override keeps replies away from the
		// original sender entirely.
		out.from = ml.FromAddr
	} else {
		out.from = viaFrom(ml, msg)
		out.replyTo = msg.FromAddress
		out.xMailFrom = msg.FromAddress
	}

	// The list's own address never appears on outbound To/Cc in
	// broadcast mode; each recipient is appended individually.
	out.to = dropListAddress(to, ml.Address)
	out.cc = dropListAddress(cc, ml.Address)
}

func composeGroup(out *Composed, ml *model.MailingList, msg *email.Message, to, cc []string, subscribers []model.Subscriber) {
	out.from = viaFrom(ml, msg)
	out.xMailFrom = msg.FromAddress

	if isSubscriber(subscribers, msg.FromAddress) {
		out.replyTo = ml.Address
	} else {
		// Replies must reach both the outside sender and the list.
		out.replyTo = msg.FromAddress + ", " + ml.Address
	}

	out.to = to
	out.cc = cc
}

// ShouldSkip reports whether delivery to recipient is suppressed
// because the original message already addressed them directly.
func (m *Composed) ShouldSkip(recipient string) bool {
	if !m.avoidDuplicates {
		return false
	}
	_, present := m.originalRecipients[address.Normalize(recipient)]
	return present
}

// Finalize renders the per-recipient message: the template plus
// X-Recipient and, in broadcast mode, the recipient appended to To.
// It returns the raw message bytes and the bounce-encoded envelope
// sender. Every call renders from the template, never mutating it.
func (m *Composed) Finalize(recipient string) (raw []byte, envelopeFrom string, err error) {
	to := slices.Clone(m.to)
	if m.mode == model.ModeBroadcast {
		to = append(to, recipient)
	}
	body, err := m.render(to, recipient)
	if err != nil {
		return nil, "", err
	}
	return body, address.BuildBounceAddress(m.listAddress, recipient), nil
}

// Canonical renders the template itself, without any per-recipient
// headers. This is the copy archived to the sent folder.
func (m *Composed) Canonical() ([]byte, error) {
	return m.render(m.to, "")
}

func (m *Composed) render(to []string, recipient string) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader(&buf, "From", m.from)
	if len(to) > 0 {
		writeHeader(&buf, "To", strings.Join(to, ", "))
	}
	if len(m.cc) > 0 {
		writeHeader(&buf, "Cc", strings.Join(m.cc, ", "))
	}
	writeHeader(&buf, "Subject", m.subject)
	if m.replyTo != "" {
		writeHeader(&buf, "Reply-To", m.replyTo)
	}
	writeHeader(&buf, "Sender", m.sender)
	writeHeader(&buf, "Message-ID", m.messageID)
	if m.originalID != "" {
		writeHeader(&buf, "Original-Message-ID", m.originalID)
	}
	if m.inReplyTo != "" {
		writeHeader(&buf, "In-Reply-To", m.inReplyTo)
	}
	if len(m.references) > 0 {
		writeHeader(&buf, "References", strings.Join(m.references, " "))
	}
	writeHeader(&buf, "Date", m.date.Format(time.RFC1123Z))
	writeHeader(&buf, "List-Id", m.listID)
	writeHeader(&buf, "Precedence", "list")
	writeHeader(&buf, "X-Mailer", mailerID)
	writeHeader(&buf, domainHeader, m.domain)
	if m.xMailFrom != "" {
		writeHeader(&buf, "X-MailFrom", m.xMailFrom)
	}
	if recipient != "" {
		writeHeader(&buf, "X-Recipient", recipient)
	}
	writeHeader(&buf, "MIME-Version", "1.0")

	if err := m.writeBody(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBody emits Content-Type plus the message payload: simple
// text/plain, multipart/alternative for text+html, or multipart/mixed
// when attachments are present.
func (m *Composed) writeBody(buf *bytes.Buffer) error {
	if len(m.attachments) > 0 {
		return m.writeMixed(buf)
	}
	if m.textBody != "" && m.htmlBody != "" {
		return m.writeAlternative(buf)
	}
	if m.htmlBody != "" {
		fmt.Fprintf(buf, "Content-Type: text/html; charset=UTF-8\r\n\r\n%s", m.htmlBody)
		return nil
	}
	fmt.Fprintf(buf, "Content-Type: text/plain; charset=UTF-8\r\n\r\n%s", m.textBody)
	return nil
}

func (m *Composed) writeAlternative(buf *bytes.Buffer) error {
	writer := multipart.NewWriter(buf)
	fmt.Fprintf(buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())

	if err := writeTextPart(writer, "text/plain; charset=UTF-8", m.textBody); err != nil {
		return err
	}
	if err := writeTextPart(writer, "text/html; charset=UTF-8", m.htmlBody); err != nil {
		return err
	}
	return writer.Close()
}

func (m *Composed) writeMixed(buf *bytes.Buffer) error {
	writer := multipart.NewWriter(buf)
	fmt.Fprintf(buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	if m.textBody != "" {
		if err := writeTextPart(writer, "text/plain; charset=UTF-8", m.textBody); err != nil {
			return err
		}
	}
	if m.htmlBody != "" {
		if err := writeTextPart(writer, "text/html; charset=UTF-8", m.htmlBody); err != nil {
			return err
		}
	}

	for _, att := range m.attachments {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Type", att.ContentType)
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		part, err := writer.CreatePart(header)
		if err != nil {
			return fmt.Errorf("creating attachment part: %w", err)
		}
		if _, err := part.Write(att.Content); err != nil {
			return fmt.Errorf("writing attachment %s: %w", att.Filename, err)
		}
	}
	return writer.Close()
}

func writeTextPart(writer *multipart.Writer, contentType, body string) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("creating body part: %w", err)
	}
	_, err = part.Write([]byte(body))
	return err
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", name, value)
}

// viaFrom renders the rewritten From header:
// "Sender Name via List Name" <list@address>. The display name falls
// back to the sender address, then to the list name alone.
func viaFrom(ml *model.MailingList, msg *email.Message) string {
	display := ml.Name
	if msg.HasSender() {
		display = address.FormatViaDisplay(msg.DisplayName(), ml.Name)
	}
	addr := netmail.Address{Name: display, Address: ml.Address}
	return addr.String()
}

// buildReferences propagates the incoming References chain and appends
// the incoming Message-ID so threading survives redistribution.
func buildReferences(msg *email.Message) []string {
	refs := slices.Clone(msg.References)
	if msg.MessageID != "" && !slices.Contains(refs, msg.MessageID) {
		refs = append(refs, msg.MessageID)
	}
	return refs
}

// rewriteListAddress replaces any suffixed form of the list address
// with the plain list address, deduplicating the result.
func rewriteListAddress(rcpts []string, listAddress string) []string {
	out := make([]string, 0, len(rcpts))
	seen := make(map[string]struct{}, len(rcpts))
	for _, rcpt := range rcpts {
		if address.SameList(rcpt, listAddress) {
			rcpt = listAddress
		}
		key := address.Normalize(rcpt)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rcpt)
	}
	return out
}

func dropListAddress(rcpts []string, listAddress string) []string {
	out := make([]string, 0, len(rcpts))
	for _, rcpt := range rcpts {
		if address.SameList(rcpt, listAddress) {
			continue
		}
		out = append(out, rcpt)
	}
	return out
}

func isSubscriber(subscribers []model.Subscriber, sender string) bool {
	normalized := address.Normalize(sender)
	for _, s := range subscribers {
		if s.Email == normalized {
			return true
		}
	}
	return false
}
