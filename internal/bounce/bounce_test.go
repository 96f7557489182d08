package bounce

import (
	"testing"

	"github.com/castmail/castmail2list/internal/address"
	"github.com/castmail/castmail2list/internal/email"
)

const listAddr = "list@example.com"

func newMessage(from string, to []string, headers map[string]string) *email.Message {
	msg := &email.Message{
		FromAddress: from,
		To:          to,
		Headers:     make(map[string][]string),
	}
	for k, v := range headers {
		msg.Headers[k] = []string{v}
	}
	return msg
}

func TestIsLoop(t *testing.T) {
	t.Parallel()

	msg := newMessage("me@example.com", []string{listAddr},
		map[string]string{"X-Castmail2list-Domain": "lists.example.com"})

	if !IsLoop(msg, "lists.example.com") {
		t.Error("message carrying our own domain must be a loop")
	}
	if IsLoop(msg, "other.example.com") {
		t.Error("different domain must not be a loop")
	}

	plain := newMessage("me@example.com", []string{listAddr}, nil)
	if IsLoop(plain, "lists.example.com") {
		t.Error("message without domain header must not be a loop")
	}
	if IsLoop(plain, "") {
		t.Error("empty configured domain must never match")
	}
}

func TestIsBounceDaemonSender(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from string
		want bool
	}{
		{"MAILER-DAEMON@mx.example.net", true},
		{"postmaster@example.net", true},
		{"mail-daemon@example.net", true},
		{"sender@example.com", false},
	}
	for _, c := range cases {
		msg := newMessage(c.from, []string{listAddr}, nil)
		if got := IsBounce(msg, listAddr); got != c.want {
			t.Errorf("IsBounce(from=%q): got %v, want %v", c.from, got, c.want)
		}
	}
}

func TestIsBounceDeliveryStatusReport(t *testing.T) {
	t.Parallel()

	msg := newMessage("sender@example.com", []string{listAddr}, map[string]string{
		"Content-Type": `multipart/report; report-type=delivery-status; boundary="b1"`,
	})
	if !IsBounce(msg, listAddr) {
		t.Error("multipart/report delivery-status must classify as bounce")
	}
}

func TestIsBounceAutoSubmitted(t *testing.T) {
	t.Parallel()

	auto := newMessage("sender@example.com", []string{listAddr},
		map[string]string{"Auto-Submitted": "auto-replied"})
	if !IsBounce(auto, listAddr) {
		t.Error("auto-replied must classify as bounce")
	}

	// RFC 3834: "no" means a human sent it.
	no := newMessage("sender@example.com", []string{listAddr},
		map[string]string{"Auto-Submitted": "no"})
	if IsBounce(no, listAddr) {
		t.Error(`Auto-Submitted "no" must not classify as bounce`)
	}
}

func TestIsBounceNullReturnPath(t *testing.T) {
	t.Parallel()

	msg := newMessage("some-mta@example.net", []string{listAddr},
		map[string]string{"Return-Path": "<>"})
	if !IsBounce(msg, listAddr) {
		t.Error("null return path must classify as bounce")
	}
}

func TestBouncedRecipient(t *testing.T) {
	t.Parallel()

	bounceTo := address.BuildBounceAddress(listAddr, "john.doe@gmail.com")
	msg := newMessage("mta@example.net", []string{bounceTo}, nil)

	if got := BouncedRecipient(msg, listAddr); got != "john.doe@gmail.com" {
		t.Errorf("BouncedRecipient: got %q", got)
	}
	if !IsBounce(msg, listAddr) {
		t.Error("bounce-address recipient must classify as bounce")
	}
}

func TestBouncedRecipientOtherListSuffix(t *testing.T) {
	t.Parallel()

	// A +suffix that is not the bounce encoding is sender auth, not a
	// bounce.
	msg := newMessage("sender@example.com", []string{"list+secret123@example.com"}, nil)
	if got := BouncedRecipient(msg, listAddr); got != "" {
		t.Errorf("BouncedRecipient: got %q, want empty", got)
	}
	if IsBounce(msg, listAddr) {
		t.Error("auth-suffixed post must not classify as bounce")
	}
}

func TestPlainPostIsNotBounce(t *testing.T) {
	t.Parallel()

	msg := newMessage("sender@example.com", []string{listAddr}, nil)
	if IsBounce(msg, listAddr) {
		t.Error("plain post misclassified as bounce")
	}
	if got := BouncedRecipient(msg, listAddr); got != "" {
		t.Errorf("BouncedRecipient: got %q, want empty", got)
	}
}
