// Package parser turns raw RFC 5322 messages into the email.Message
// representation the pipeline operates on, including MIME multipart
// bodies and attachments.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	netmail "net/mail"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/castmail/castmail2list/internal/email"
)

// Parse parses a raw message. Header parsing is strict (a message we
// cannot read headers from cannot be classified); body parsing is
// lenient, falling back to treating the payload as plain text so that
// odd MIME structures do not lose mail.
func Parse(raw []byte) (*email.Message, error) {
	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing message headers: %w", err)
	}

	result := &email.Message{
		Headers: make(map[string][]string, len(msg.Header)),
		Raw:     raw,
	}
	for key, values := range msg.Header {
		result.Headers[key] = values
	}

	result.Subject = msg.Header.Get("Subject")
	result.MessageID = msg.Header.Get("Message-Id")
	result.InReplyTo = msg.Header.Get("In-Reply-To")
	result.References = strings.Fields(msg.Header.Get("References"))
	result.To = parseAddressList(msg.Header.Get("To"))
	result.Cc = parseAddressList(msg.Header.Get("Cc"))

	if from, err := netmail.ParseAddress(msg.Header.Get("From")); err == nil {
		result.FromAddress = from.Address
		result.FromDisplayName = from.Name
	}

	if date, err := msg.Header.Date(); err == nil {
		result.Date = date
	}

	parseBody(raw, result)
	return result, nil
}

// parseAddressList extracts bare addresses from a recipient header.
// Entries that do not parse as RFC 5322 addresses are kept verbatim:
// bounce addresses with unusual local parts must survive.
func parseAddressList(value string) []string {
	if value == "" {
		return nil
	}
	parsed, err := netmail.ParseAddressList(value)
	if err != nil {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	out := make([]string, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, a.Address)
	}
	return out
}

// parseBody walks the MIME structure, collecting the text/plain and
// text/html bodies and any attachments.
func parseBody(raw []byte, result *email.Message) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not a well-formed MIME message; take everything after the
		// header block as plain text.
		if _, body, found := bytes.Cut(raw, []byte("\r\n\r\n")); found {
			result.TextBody = string(body)
		} else if _, body, found := bytes.Cut(raw, []byte("\n\n")); found {
			result.TextBody = string(body)
		}
		return
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("skipping unreadable MIME part", "error", err)
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case contentType == "" || strings.HasPrefix(contentType, "text/plain"):
				result.TextBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				result.HTMLBody = string(body)
			default:
				slog.Debug("ignoring inline part", "content_type", contentType)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Content:     body,
			})
		}
	}
}
