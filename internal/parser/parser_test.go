package parser

import (
	"strings"
	"testing"
)

func TestParsePlainText(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: Sender Name <sender@example.com>",
		"To: list@example.com, other@example.net",
		"Cc: cc@example.org",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Date: Mon, 01 Jan 2024 12:00:00 +0000",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.FromAddress != "sender@example.com" {
		t.Errorf("FromAddress: got %q", msg.FromAddress)
	}
	if msg.FromDisplayName != "Sender Name" {
		t.Errorf("FromDisplayName: got %q", msg.FromDisplayName)
	}
	if len(msg.To) != 2 || msg.To[0] != "list@example.com" || msg.To[1] != "other@example.net" {
		t.Errorf("To: got %v", msg.To)
	}
	if len(msg.Cc) != 1 || msg.Cc[0] != "cc@example.org" {
		t.Errorf("Cc: got %v", msg.Cc)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q", msg.Subject)
	}
	if msg.MessageID != "<test123@example.com>" {
		t.Errorf("MessageID: got %q", msg.MessageID)
	}
	if msg.Date.IsZero() {
		t.Error("Date: not parsed")
	}
	if !strings.Contains(msg.TextBody, "plain text email") {
		t.Errorf("TextBody: got %q", msg.TextBody)
	}
}

func TestParseThreadingHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: list@example.com",
		"Subject: Re: Thread",
		"Message-ID: <reply@example.com>",
		"In-Reply-To: <original@example.com>",
		"References: <first@example.com> <original@example.com>",
		"",
		"Reply body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.InReplyTo != "<original@example.com>" {
		t.Errorf("InReplyTo: got %q", msg.InReplyTo)
	}
	if len(msg.References) != 2 || msg.References[0] != "<first@example.com>" {
		t.Errorf("References: got %v", msg.References)
	}
}

func TestParseMultipartAlternative(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: list@example.com",
		"Subject: Multipart Test",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text version",
		"--boundary123",
		"Content-Type: text/html",
		"",
		"<p>HTML version</p>",
		"--boundary123--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(msg.TextBody, "Plain text version") {
		t.Errorf("TextBody: got %q", msg.TextBody)
	}
	if !strings.Contains(msg.HTMLBody, "HTML version") {
		t.Errorf("HTMLBody: got %q", msg.HTMLBody)
	}
}

func TestParseAttachment(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: list@example.com",
		"Subject: With Attachment",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=mixed1",
		"",
		"--mixed1",
		"Content-Type: text/plain",
		"",
		"See attached.",
		"--mixed1",
		"Content-Type: application/octet-stream",
		"Content-Disposition: attachment; filename=report.bin",
		"",
		"binarydata",
		"--mixed1--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}
	if msg.Attachments[0].Filename != "report.bin" {
		t.Errorf("Filename: got %q", msg.Attachments[0].Filename)
	}
	if string(msg.Attachments[0].Content) != "binarydata" {
		t.Errorf("Content: got %q", msg.Attachments[0].Content)
	}
}

func TestParseNoFromHeader(t *testing.T) {
	t.Parallel()

	raw := []byte("To: list@example.com\r\nSubject: No From\r\n\r\nBody")

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.HasSender() {
		t.Errorf("HasSender: got true for message without From, address %q", msg.FromAddress)
	}
}

func TestParseUnparseableRecipientKeptVerbatim(t *testing.T) {
	t.Parallel()

	// Bounce addresses are not always valid RFC 5322 address lists but
	// must survive parsing for bounce correlation.
	raw := []byte("From: mailer-daemon@example.com\r\n" +
		"To: list+bounces--jane.doe=gmail.com@example.com\r\n" +
		"Subject: Undelivered\r\n\r\nBody")

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.To) != 1 || !strings.Contains(msg.To[0], "bounces--") {
		t.Errorf("To: got %v", msg.To)
	}
}
