// Package store persists mailing lists, subscribers, and processed
// messages in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/castmail/castmail2list/internal/address"
	"github.com/castmail/castmail2list/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the list, subscriber, and message stores on a
// local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open opens (or creates) a SQLite database at dbPath, enables WAL mode,
// and runs any pending schema migrations.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveList inserts or updates a mailing list together with its allowed
// senders and sender-auth secrets. A new list gets its ID filled in.
func (s *SQLiteStore) SaveList(ctx context.Context, ml *model.MailingList) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ml.Address = address.Normalize(ml.Address)

	if ml.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO lists (
				name, address, mode, from_addr,
				only_subscribers_send, avoid_duplicates,
				imap_host, imap_port, imap_user, imap_pass, deleted
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ml.Name, ml.Address, string(ml.Mode), ml.FromAddr,
			boolToInt(ml.OnlySubscribersSend), boolToInt(ml.AvoidDuplicates),
			ml.IMAPHost, ml.IMAPPort, ml.IMAPUser, ml.IMAPPass,
			boolToInt(ml.Deleted),
		)
		if err != nil {
			return fmt.Errorf("inserting list %s: %w", ml.Address, err)
		}
		ml.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading list id: %w", err)
		}
	} else {
		_, err := tx.ExecContext(ctx, `
			UPDATE lists SET
				name = ?, address = ?, mode = ?, from_addr = ?,
				only_subscribers_send = ?, avoid_duplicates = ?,
				imap_host = ?, imap_port = ?, imap_user = ?, imap_pass = ?,
				deleted = ?
			WHERE id = ?`,
			ml.Name, ml.Address, string(ml.Mode), ml.FromAddr,
			boolToInt(ml.OnlySubscribersSend), boolToInt(ml.AvoidDuplicates),
			ml.IMAPHost, ml.IMAPPort, ml.IMAPUser, ml.IMAPPass,
			boolToInt(ml.Deleted), ml.ID,
		)
		if err != nil {
			return fmt.Errorf("updating list %s: %w", ml.Address, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM list_allowed_senders WHERE list_id = ?", ml.ID); err != nil {
		return fmt.Errorf("clearing allowed senders: %w", err)
	}
	for _, sender := range ml.AllowedSenders {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO list_allowed_senders (list_id, email) VALUES (?, ?)",
			ml.ID, address.Normalize(sender),
		)
		if err != nil {
			return fmt.Errorf("inserting allowed sender %s: %w", sender, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM list_sender_auth WHERE list_id = ?", ml.ID); err != nil {
		return fmt.Errorf("clearing sender auth: %w", err)
	}
	for _, secret := range ml.SenderAuth {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO list_sender_auth (list_id, secret) VALUES (?, ?)",
			ml.ID, secret,
		)
		if err != nil {
			return fmt.Errorf("inserting sender auth secret: %w", err)
		}
	}

	return tx.Commit()
}

// ActiveLists returns all lists that are not soft-deleted, with their
// allowed senders and sender-auth secrets loaded.
func (s *SQLiteStore) ActiveLists(ctx context.Context) ([]model.MailingList, error) {
	var lists []model.MailingList
	err := s.db.SelectContext(ctx, &lists,
		"SELECT * FROM lists WHERE deleted = 0 ORDER BY address")
	if err != nil {
		return nil, fmt.Errorf("querying lists: %w", err)
	}

	for i := range lists {
		if err := s.loadListExtras(ctx, &lists[i]); err != nil {
			return nil, err
		}
	}

	return lists, nil
}

// GetListByAddress looks up a list by its normalized address.
// Soft-deleted lists are not returned.
func (s *SQLiteStore) GetListByAddress(ctx context.Context, addr string) (*model.MailingList, error) {
	var ml model.MailingList
	err := s.db.GetContext(ctx, &ml,
		"SELECT * FROM lists WHERE address = ? AND deleted = 0",
		address.Normalize(addr),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting list %s: %w", addr, err)
	}

	if err := s.loadListExtras(ctx, &ml); err != nil {
		return nil, err
	}
	return &ml, nil
}

// DeleteList soft-deletes a list. It stops being polled but its
// subscribers and message history remain.
func (s *SQLiteStore) DeleteList(ctx context.Context, listID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE lists SET deleted = 1 WHERE id = ?", listID)
	if err != nil {
		return fmt.Errorf("deleting list %d: %w", listID, err)
	}
	return nil
}

func (s *SQLiteStore) loadListExtras(ctx context.Context, ml *model.MailingList) error {
	err := s.db.SelectContext(ctx, &ml.AllowedSenders,
		"SELECT email FROM list_allowed_senders WHERE list_id = ? ORDER BY email", ml.ID)
	if err != nil {
		return fmt.Errorf("loading allowed senders for list %d: %w", ml.ID, err)
	}

	err = s.db.SelectContext(ctx, &ml.SenderAuth,
		"SELECT secret FROM list_sender_auth WHERE list_id = ? ORDER BY secret", ml.ID)
	if err != nil {
		return fmt.Errorf("loading sender auth for list %d: %w", ml.ID, err)
	}
	return nil
}

// AddSubscriber adds a member to a list. The email is normalized to
// lowercase; adding an existing member updates the stored name.
func (s *SQLiteStore) AddSubscriber(ctx context.Context, listID int64, name, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (list_id, name, email) VALUES (?, ?, ?)
		ON CONFLICT(list_id, email) DO UPDATE SET name = excluded.name`,
		listID, name, address.Normalize(email),
	)
	if err != nil {
		return fmt.Errorf("adding subscriber %s to list %d: %w", email, listID, err)
	}
	return nil
}

// RemoveSubscriber removes a member from a list.
func (s *SQLiteStore) RemoveSubscriber(ctx context.Context, listID int64, email string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM subscribers WHERE list_id = ? AND email = ?",
		listID, address.Normalize(email),
	)
	if err != nil {
		return fmt.Errorf("removing subscriber %s from list %d: %w", email, listID, err)
	}
	return nil
}

// IsSubscriber reports whether email is subscribed to the list.
func (s *SQLiteStore) IsSubscriber(ctx context.Context, listID int64, email string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM subscribers WHERE list_id = ? AND email = ?",
		listID, address.Normalize(email),
	)
	if err != nil {
		return false, fmt.Errorf("checking subscription of %s: %w", email, err)
	}
	return count > 0, nil
}

// ListSubscribers returns every member of the list ordered by email.
func (s *SQLiteStore) ListSubscribers(ctx context.Context, listID int64) ([]model.Subscriber, error) {
	var subs []model.Subscriber
	err := s.db.SelectContext(ctx, &subs,
		"SELECT * FROM subscribers WHERE list_id = ? ORDER BY email", listID)
	if err != nil {
		return nil, fmt.Errorf("listing subscribers of list %d: %w", listID, err)
	}
	return subs, nil
}

// RecordBounce increments the bounce counter of the subscriber the
// failure report points at. Unknown recipients are ignored.
func (s *SQLiteStore) RecordBounce(ctx context.Context, listID int64, email string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE subscribers SET bounces = bounces + 1 WHERE list_id = ? AND email = ?",
		listID, address.Normalize(email),
	)
	if err != nil {
		return fmt.Errorf("recording bounce for %s: %w", email, err)
	}
	return nil
}

// HasMessage reports whether a message with the given Message-ID was
// already processed for the list.
func (s *SQLiteStore) HasMessage(ctx context.Context, listID int64, messageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM messages WHERE list_id = ? AND message_id = ?",
		listID, messageID,
	)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", messageID, err)
	}
	return count > 0, nil
}

// StoreMessage persists the record of one processed message. The new
// row ID is filled into msg.
func (s *SQLiteStore) StoreMessage(ctx context.Context, msg *model.StoredMessage) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (list_id, message_id, subject, from_addr, raw, status, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ListID, msg.MessageID, msg.Subject, msg.FromAddr,
		msg.Raw, string(msg.Status), msg.ReceivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing message %s: %w", msg.MessageID, err)
	}
	msg.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message id: %w", err)
	}
	return nil
}

// MessagesByStatus returns the stored messages of a list with the given
// status, newest first.
func (s *SQLiteStore) MessagesByStatus(ctx context.Context, listID int64, status model.Status) ([]model.StoredMessage, error) {
	var msgs []model.StoredMessage
	err := s.db.SelectContext(ctx, &msgs,
		"SELECT * FROM messages WHERE list_id = ? AND status = ? ORDER BY received_at DESC",
		listID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages of list %d: %w", listID, err)
	}
	return msgs, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
