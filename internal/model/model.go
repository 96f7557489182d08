// Package model defines the persistent entities shared across the relay:
// mailing lists, subscribers, and stored message records.
package model

import "time"

// Mode selects how a mailing list redistributes messages.
type Mode string

const (
	// ModeBroadcast is a one-to-many list: a small set of authorized
	// senders posts, recipients reply to the original sender.
	ModeBroadcast Mode = "broadcast"

	// ModeGroup is a many-to-many list: replies route through the list.
	ModeGroup Mode = "group"
)

// Status is the terminal outcome recorded for one processed message.
// Exactly one status is written per message.
type Status string

const (
	StatusSent             Status = "sent"
	StatusBounce           Status = "bounce-msg"
	StatusSenderNotAllowed Status = "sender-not-allowed"
	StatusDuplicateSkipped Status = "duplicate-skipped"
	StatusError            Status = "error"
)

// MailingList is the read-only list snapshot a single processing run
// operates on. Administrative mutation happens outside the pipeline.
type MailingList struct {
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	Address string `db:"address"`
	Mode    Mode   `db:"mode"`

	// FromAddr, when set, overrides the From header in broadcast mode.
	FromAddr string `db:"from_addr"`

	// AllowedSenders holds normalized (lowercase) sender addresses that
	// may post regardless of subscription.
	AllowedSenders []string `db:"-"`

	// SenderAuth holds passwords accepted via the list+password@domain
	// recipient suffix. Compared case-sensitively as raw strings.
	SenderAuth []string `db:"-"`

	// OnlySubscribersSend restricts group-mode posting to subscribers,
	// allowed senders, and suffix-authenticated senders.
	OnlySubscribersSend bool `db:"only_subscribers_send"`

	// AvoidDuplicates suppresses delivery to subscribers already
	// addressed in the original To/Cc.
	AvoidDuplicates bool `db:"avoid_duplicates"`

	// Per-list IMAP account the poller reads from.
	IMAPHost string `db:"imap_host"`
	IMAPPort int    `db:"imap_port"`
	IMAPUser string `db:"imap_user"`
	IMAPPass string `db:"imap_pass"`

	Deleted bool `db:"deleted"`
}

// Subscriber is a member of a mailing list. Email is stored lowercase
// and unique within a list.
type Subscriber struct {
	ID      int64  `db:"id"`
	ListID  int64  `db:"list_id"`
	Name    string `db:"name"`
	Email   string `db:"email"`
	Bounces int    `db:"bounces"`
}

// StoredMessage is the persisted record of one incoming message and its
// terminal processing status.
type StoredMessage struct {
	ID         int64     `db:"id"`
	ListID     int64     `db:"list_id"`
	MessageID  string    `db:"message_id"`
	Subject    string    `db:"subject"`
	FromAddr   string    `db:"from_addr"`
	Raw        string    `db:"raw"`
	Status     Status    `db:"status"`
	ReceivedAt time.Time `db:"received_at"`
}
