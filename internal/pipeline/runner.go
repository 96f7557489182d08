package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/castmail/castmail2list/internal/model"
)

// ListStore provides the active mailing lists to poll.
type ListStore interface {
	ActiveLists(ctx context.Context) ([]model.MailingList, error)
}

// MailboxDialer opens the IMAP account of one list. The runner closes
// the returned Mailbox after each polling pass.
type MailboxDialer func(ctx context.Context, ml *model.MailingList) (Mailbox, error)

// Runner polls every active list on a fixed interval and feeds fetched
// messages through the Processor. Messages of one list are processed
// strictly one at a time; ordering across lists is not constrained.
type Runner struct {
	processor *Processor
	lists     ListStore
	dial      MailboxDialer
	interval  time.Duration
	log       *slog.Logger
}

// NewRunner wires a Runner around a Processor.
func NewRunner(processor *Processor, lists ListStore, dial MailboxDialer, interval time.Duration) *Runner {
	return &Runner{
		processor: processor,
		lists:     lists,
		dial:      dial,
		interval:  interval,
		log:       slog.Default(),
	}
}

// Run polls until the context is cancelled. A failing list never
// prevents the remaining lists from being polled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.pollAll(ctx)
		}
	}
}

func (r *Runner) pollAll(ctx context.Context) {
	lists, err := r.lists.ActiveLists(ctx)
	if err != nil {
		r.log.Error("loading active lists", "error", err)
		return
	}

	for i := range lists {
		if ctx.Err() != nil {
			return
		}
		r.pollList(ctx, &lists[i])
	}
}

func (r *Runner) pollList(ctx context.Context, ml *model.MailingList) {
	log := r.log.With("list", ml.Address)

	mb, err := r.dial(ctx, ml)
	if err != nil {
		log.Error("connecting to mailbox", "host", ml.IMAPHost, "error", err)
		return
	}
	defer func() {
		if err := mb.Close(); err != nil {
			log.Debug("closing mailbox", "error", err)
		}
	}()

	for _, folder := range []string{
		r.processor.folders.Processed,
		r.processor.folders.Sent,
		r.processor.folders.Bounces,
		r.processor.folders.Denied,
		r.processor.folders.Duplicate,
	} {
		if err := mb.EnsureFolder(ctx, folder); err != nil {
			log.Error("ensuring folder exists", "folder", folder, "error", err)
			return
		}
	}

	messages, err := mb.FetchUnseen(ctx)
	if err != nil {
		log.Error("fetching messages", "error", err)
		return
	}

	for _, msg := range messages {
		status, err := r.processor.Process(ctx, mb, ml, msg)
		if err != nil {
			log.Error("processing message", "uid", msg.UID, "status", status, "error", err)
			continue
		}
		log.Info("message processed", "uid", msg.UID, "status", status)
	}
}
