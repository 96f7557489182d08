// Package authorize decides whether a sender may post to a mailing
// list. The engine is a pure decision function over the list snapshot,
// the incoming message, and a subscriber-lookup collaborator.
package authorize

import (
	"context"
	"fmt"

	"github.com/castmail/castmail2list/internal/address"
	"github.com/castmail/castmail2list/internal/email"
	"github.com/castmail/castmail2list/internal/model"
)

// Via tags how an authorization succeeded.
type Via string

const (
	// ViaOpen means the list imposes no sender restriction.
	ViaOpen Via = "open"
	// ViaSubscriber means the sender is subscribed to the list.
	ViaSubscriber Via = "subscriber"
	// ViaAllowedSender means the sender is on the allowed_senders set.
	ViaAllowedSender Via = "allowed_sender"
	// ViaSenderAuth means the recipient address carried a valid
	// +password suffix.
	ViaSenderAuth Via = "sender_auth"
)

// Result is the outcome of one authorization decision.
type Result struct {
	Authorized bool
	Via        Via

	// AuthRecipient is the incoming recipient address whose +suffix
	// authorized the post. The composer must rewrite it so subscribers
	// never see the password.
	AuthRecipient string
}

// SubscriberLookup answers subscription membership queries.
type SubscriberLookup interface {
	IsSubscriber(ctx context.Context, listID int64, email string) (bool, error)
}

// Engine evaluates an ordered list of named sender checks per list
// mode, short-circuiting on the first match.
type Engine struct {
	subscribers SubscriberLookup
}

// New returns an Engine using the given subscriber lookup.
func New(subscribers SubscriberLookup) *Engine {
	return &Engine{subscribers: subscribers}
}

// check is one named authorization predicate. It reports whether it
// matched and, on match, fills the result.
type check struct {
	name string
	fn   func(ctx context.Context, ml *model.MailingList, msg *email.Message) (Result, bool, error)
}

// Authorize decides whether msg's sender may post to ml. Checks run in
// a fixed, mode-specific order; the first match wins.
func (e *Engine) Authorize(ctx context.Context, ml *model.MailingList, msg *email.Message) (Result, error) {
	var checks []check
	switch ml.Mode {
	case model.ModeBroadcast:
		checks = []check{
			{"unrestricted", e.checkBroadcastOpen},
			{"allowed-sender", e.checkAllowedSender},
			{"sender-auth", e.checkSenderAuth},
		}
	case model.ModeGroup:
		checks = []check{
			{"open-group", e.checkGroupOpen},
			{"subscriber", e.checkSubscriber},
			{"allowed-sender", e.checkAllowedSender},
			{"sender-auth", e.checkSenderAuth},
		}
	default:
		return Result{}, fmt.Errorf("unknown list mode %q for list %s", ml.Mode, ml.Address)
	}

	for _, c := range checks {
		result, matched, err := c.fn(ctx, ml, msg)
		if err != nil {
			return Result{}, fmt.Errorf("authorization check %s: %w", c.name, err)
		}
		if matched {
			return result, nil
		}
	}
	return Result{}, nil
}

// checkBroadcastOpen authorizes everyone when a broadcast list has no
// sender restriction configured at all. This is a configuration risk
// the caller logs, not a rejection.
func (e *Engine) checkBroadcastOpen(_ context.Context, ml *model.MailingList, _ *email.Message) (Result, bool, error) {
	if len(ml.AllowedSenders) == 0 && len(ml.SenderAuth) == 0 {
		return Result{Authorized: true, Via: ViaOpen}, true, nil
	}
	return Result{}, false, nil
}

// checkGroupOpen authorizes everyone when a group list does not
// restrict posting to subscribers. allowed_senders and sender_auth are
// not consulted in that case.
func (e *Engine) checkGroupOpen(_ context.Context, ml *model.MailingList, _ *email.Message) (Result, bool, error) {
	if !ml.OnlySubscribersSend {
		return Result{Authorized: true, Via: ViaOpen}, true, nil
	}
	return Result{}, false, nil
}

func (e *Engine) checkSubscriber(ctx context.Context, ml *model.MailingList, msg *email.Message) (Result, bool, error) {
	if msg.FromAddress == "" {
		return Result{}, false, nil
	}
	ok, err := e.subscribers.IsSubscriber(ctx, ml.ID, address.Normalize(msg.FromAddress))
	if err != nil {
		return Result{}, false, err
	}
	if ok {
		return Result{Authorized: true, Via: ViaSubscriber}, true, nil
	}
	return Result{}, false, nil
}

func (e *Engine) checkAllowedSender(_ context.Context, ml *model.MailingList, msg *email.Message) (Result, bool, error) {
	sender := address.Normalize(msg.FromAddress)
	if sender == "" {
		return Result{}, false, nil
	}
	for _, allowed := range ml.AllowedSenders {
		if address.Normalize(allowed) == sender {
			return Result{Authorized: true, Via: ViaAllowedSender}, true, nil
		}
	}
	return Result{}, false, nil
}

// checkSenderAuth matches a +password suffix on any recipient form of
// the list address. Passwords compare case-sensitively as raw strings,
// independent of the From header.
func (e *Engine) checkSenderAuth(_ context.Context, ml *model.MailingList, msg *email.Message) (Result, bool, error) {
	if len(ml.SenderAuth) == 0 {
		return Result{}, false, nil
	}
	for _, rcpt := range append(append([]string{}, msg.To...), msg.Cc...) {
		if !address.SameList(rcpt, ml.Address) {
			continue
		}
		suffix := address.ExtractAuthSuffix(rcpt)
		if suffix == "" {
			continue
		}
		for _, password := range ml.SenderAuth {
			if suffix == password {
				return Result{Authorized: true, Via: ViaSenderAuth, AuthRecipient: rcpt}, true, nil
			}
		}
	}
	return Result{}, false, nil
}
