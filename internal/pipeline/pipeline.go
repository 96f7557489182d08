// Package pipeline drives one message's full journey: loop and
// duplicate guards, bounce classification, sender authorization,
// composition, per-subscriber dispatch, and terminal status writeback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/castmail/castmail2list/internal/authorize"
	"github.com/castmail/castmail2list/internal/bounce"
	"github.com/castmail/castmail2list/internal/compose"
	"github.com/castmail/castmail2list/internal/email"
	"github.com/castmail/castmail2list/internal/model"
)

// Mailbox is the IMAP-side collaborator for one list's account.
type Mailbox interface {
	// FetchUnseen returns unseen messages, marking them seen so a
	// crashed run cannot dispatch the same message twice.
	FetchUnseen(ctx context.Context) ([]*email.Message, error)
	MoveTo(ctx context.Context, uid uint32, folder string) error
	Append(ctx context.Context, folder string, raw []byte) error
	EnsureFolder(ctx context.Context, folder string) error
	Close() error
}

// Transport delivers one raw message with an explicit envelope.
type Transport interface {
	Send(ctx context.Context, raw []byte, envelopeFrom, envelopeTo string) error
	Name() string
}

// SubscriberStore answers membership queries and records bounces.
type SubscriberStore interface {
	authorize.SubscriberLookup
	ListSubscribers(ctx context.Context, listID int64) ([]model.Subscriber, error)
	RecordBounce(ctx context.Context, listID int64, email string) error
}

// MessageStore persists incoming messages with their terminal status.
type MessageStore interface {
	HasMessage(ctx context.Context, listID int64, messageID string) (bool, error)
	StoreMessage(ctx context.Context, msg *model.StoredMessage) error
}

// Folders names the IMAP folders terminal outcomes land in.
type Folders struct {
	Processed string
	Sent      string
	Bounces   string
	Denied    string
	Duplicate string
}

// Processor runs the per-message pipeline for all lists of one
// instance.
type Processor struct {
	domain      string
	folders     Folders
	engine      *authorize.Engine
	composer    *compose.Composer
	transport   Transport
	subscribers SubscriberStore
	messages    MessageStore
	log         *slog.Logger
}

// New wires a Processor from its collaborators.
func New(domain string, folders Folders, transport Transport, subscribers SubscriberStore, messages MessageStore) *Processor {
	return &Processor{
		domain:      domain,
		folders:     folders,
		engine:      authorize.New(subscribers),
		composer:    compose.New(compose.Config{Domain: domain}),
		transport:   transport,
		subscribers: subscribers,
		messages:    messages,
		log:         slog.Default(),
	}
}

// Process runs one message through the pipeline and returns its
// terminal status. Exactly one status is recorded and at most one
// folder move happens, after all per-recipient attempts finished.
func (p *Processor) Process(ctx context.Context, mb Mailbox, ml *model.MailingList, msg *email.Message) (model.Status, error) {
	log := p.log.With("list", ml.Address, "uid", msg.UID, "message_id", msg.MessageID)

	messageID := msg.MessageID
	if messageID == "" {
		// Status rows need a key even when the sender omitted one.
		messageID = "<" + uuid.New().String() + "@" + p.domain + ">"
		log.Debug("incoming message has no Message-ID, generated one", "generated", messageID)
	}

	// Loop guard runs before any other classification.
	if bounce.IsLoop(msg, p.domain) {
		log.Warn("message originates from this instance, discarding to avoid mail loop")
		return p.finalize(ctx, mb, ml, msg, messageID, model.StatusDuplicateSkipped, p.folders.Denied)
	}

	seen, err := p.messages.HasMessage(ctx, ml.ID, messageID)
	if err != nil {
		return model.StatusError, fmt.Errorf("checking for duplicate message: %w", err)
	}
	if seen {
		log.Info("duplicate message, skipping", "status", model.StatusDuplicateSkipped)
		return p.finalize(ctx, mb, ml, msg, messageID, model.StatusDuplicateSkipped, p.folders.Duplicate)
	}

	if bounce.IsBounce(msg, ml.Address) {
		if rcpt := bounce.BouncedRecipient(msg, ml.Address); rcpt != "" {
			if err := p.subscribers.RecordBounce(ctx, ml.ID, rcpt); err != nil {
				log.Error("recording bounce", "recipient", rcpt, "error", err)
			} else {
				log.Info("recorded bounce", "recipient", rcpt)
			}
		}
		return p.finalize(ctx, mb, ml, msg, messageID, model.StatusBounce, p.folders.Bounces)
	}

	auth, err := p.engine.Authorize(ctx, ml, msg)
	if err != nil {
		return model.StatusError, fmt.Errorf("authorizing sender: %w", err)
	}
	if !auth.Authorized {
		log.Warn("sender not allowed", "sender", msg.FromAddress)
		return p.finalize(ctx, mb, ml, msg, messageID, model.StatusSenderNotAllowed, p.folders.Denied)
	}
	if auth.Via == authorize.ViaOpen && ml.Mode == model.ModeBroadcast {
		log.Warn("broadcast list accepts any sender, consider configuring allowed_senders or sender_auth")
	}

	// The subscriber snapshot is read once; later changes do not
	// affect this distribution run.
	subscribers, err := p.subscribers.ListSubscribers(ctx, ml.ID)
	if err != nil {
		return model.StatusError, fmt.Errorf("listing subscribers: %w", err)
	}

	composed, err := p.composer.Compose(ml, msg, auth, subscribers)
	if err != nil {
		if errors.Is(err, compose.ErrNoSender) {
			log.Error("composition failed, message left in inbox", "error", err)
			return p.finalize(ctx, mb, ml, msg, messageID, model.StatusError, "")
		}
		return model.StatusError, fmt.Errorf("composing message: %w", err)
	}

	sent, failed := p.dispatch(ctx, log, composed, subscribers)
	log.Info("distribution finished", "sent", sent, "failed", failed, "subscribers", len(subscribers))

	if canonical, err := composed.Canonical(); err != nil {
		log.Error("rendering sent-folder copy", "error", err)
	} else if err := mb.Append(ctx, p.folders.Sent, canonical); err != nil {
		log.Error("appending to sent folder", "folder", p.folders.Sent, "error", err)
	}

	return p.finalize(ctx, mb, ml, msg, messageID, model.StatusSent, p.folders.Processed)
}

// dispatch delivers a fresh per-recipient copy to every subscriber.
// A failure for one recipient never aborts the rest.
func (p *Processor) dispatch(ctx context.Context, log *slog.Logger, composed *compose.Composed, subscribers []model.Subscriber) (sent, failed int) {
	for _, sub := range subscribers {
		if composed.ShouldSkip(sub.Email) {
			log.Debug("skipping subscriber already addressed directly", "recipient", sub.Email)
			continue
		}

		raw, envelopeFrom, err := composed.Finalize(sub.Email)
		if err != nil {
			failed++
			log.Error("finalizing per-recipient copy", "recipient", sub.Email, "error", err)
			continue
		}

		if err := p.transport.Send(ctx, raw, envelopeFrom, sub.Email); err != nil {
			failed++
			log.Error("delivery failed", "recipient", sub.Email, "transport", p.transport.Name(), "error", err)
			continue
		}
		sent++
	}
	return sent, failed
}

// finalize writes the single terminal status row and performs the
// terminal folder move. An empty folder leaves the message in place.
func (p *Processor) finalize(ctx context.Context, mb Mailbox, ml *model.MailingList, msg *email.Message, messageID string, status model.Status, folder string) (model.Status, error) {
	record := &model.StoredMessage{
		ListID:     ml.ID,
		MessageID:  messageID,
		Subject:    msg.Subject,
		FromAddr:   msg.FromAddress,
		Raw:        string(msg.Raw),
		Status:     status,
		ReceivedAt: time.Now().UTC(),
	}
	if err := p.messages.StoreMessage(ctx, record); err != nil {
		return model.StatusError, fmt.Errorf("recording message status: %w", err)
	}

	if folder != "" {
		if err := mb.MoveTo(ctx, msg.UID, folder); err != nil {
			return status, fmt.Errorf("moving message to %s: %w", folder, err)
		}
	}
	return status, nil
}
