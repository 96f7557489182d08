// Package bounce classifies incoming messages as delivery-failure
// notifications and guards against cross-instance mail loops.
package bounce

import (
	"strings"

	"github.com/castmail/castmail2list/internal/address"
	"github.com/castmail/castmail2list/internal/email"
)

// DomainHeader marks messages this system sent. An incoming message
// carrying our own domain in it is a loop, not a post.
const DomainHeader = "X-CastMail2List-Domain"

// daemonLocalParts are sender local parts of automated MTA failure
// notifications.
var daemonLocalParts = map[string]struct{}{
	"mailer-daemon": {},
	"mail-daemon":   {},
	"postmaster":    {},
}

// IsLoop reports whether msg was sent by a CastMail2List instance on
// the given domain. Checked before any other classification: a list
// redistributing its own output would loop forever.
func IsLoop(msg *email.Message, domain string) bool {
	if domain == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(msg.Header(DomainHeader)), domain)
}

// IsBounce reports whether msg is a delivery-failure notification for
// the given list. Detection fails open: an ambiguous message is treated
// as a regular post so legitimate mail is never silently dropped.
func IsBounce(msg *email.Message, listAddress string) bool {
	if BouncedRecipient(msg, listAddress) != "" {
		return true
	}
	return isDaemonSender(msg) || isFailureReport(msg)
}

// BouncedRecipient returns the original recipient a bounce refers to,
// decoded from the bounce-address encoding on any of the To addresses.
// It returns "" when no recipient can be correlated.
func BouncedRecipient(msg *email.Message, listAddress string) string {
	listLocal, _ := address.Split(listAddress)
	for _, to := range msg.To {
		local, _ := address.Split(to)
		if !strings.HasPrefix(strings.ToLower(local), strings.ToLower(listLocal)+"+") {
			continue
		}
		if rcpt := address.ParseBounceAddress(to); rcpt != "" {
			return rcpt
		}
	}
	return ""
}

// isDaemonSender matches mailer-daemon-style senders and the SMTP null
// sender (Return-Path: <>).
func isDaemonSender(msg *email.Message) bool {
	if msg.Header("Return-Path") == "<>" {
		return true
	}
	if msg.FromAddress == "" {
		return false
	}
	local, _ := address.Split(address.Normalize(msg.FromAddress))
	_, ok := daemonLocalParts[local]
	return ok
}

// isFailureReport matches machine-generated failure reports by their
// MIME structure (RFC 3464) and automation headers (RFC 3834).
func isFailureReport(msg *email.Message) bool {
	contentType := strings.ToLower(msg.Header("Content-Type"))
	if strings.Contains(contentType, "multipart/report") &&
		strings.Contains(contentType, "report-type=delivery-status") {
		return true
	}

	autoSubmitted := strings.ToLower(strings.TrimSpace(msg.Header("Auto-Submitted")))
	return autoSubmitted == "auto-replied" || autoSubmitted == "auto-generated"
}
