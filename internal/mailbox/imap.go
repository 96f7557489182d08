// Package mailbox implements the IMAP collaborator: fetching unseen
// messages from a list's inbox and filing processed messages into
// their terminal folders.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/castmail/castmail2list/internal/email"
	"github.com/castmail/castmail2list/internal/parser"
)

// Config describes one list's IMAP account.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// Inbox is the folder polled for new messages.
	Inbox string

	// TLSConfig applies to the implicit-TLS or STARTTLS handshake.
	TLSConfig *tls.Config

	// StartTLS dials a plaintext connection upgraded via STARTTLS
	// instead of implicit TLS.
	StartTLS bool
}

// Client is a connected IMAP session for one list's account. It is not
// safe for concurrent use; the poller owns one per list per pass.
type Client struct {
	client *imapclient.Client
	inbox  string
}

// Dial connects and authenticates. The caller must Close the returned
// client.
func Dial(_ context.Context, cfg Config) (*Client, error) {
	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)

	var (
		cl  *imapclient.Client
		err error
	)
	opts := &imapclient.Options{TLSConfig: cfg.TLSConfig}
	if cfg.StartTLS {
		cl, err = imapclient.DialStartTLS(addr, opts)
	} else {
		cl, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := cl.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = cl.Logout().Wait()
		return nil, fmt.Errorf("IMAP login for %s: %w", cfg.Username, err)
	}

	inbox := cfg.Inbox
	if inbox == "" {
		inbox = "INBOX"
	}
	return &Client{client: cl, inbox: inbox}, nil
}

// FetchUnseen returns all unseen messages in the inbox, parsed. The
// fetch does not use Peek, so the server marks each message \Seen:
// a crashed run will not pick the same message up again.
func (c *Client) FetchUnseen(_ context.Context) ([]*email.Message, error) {
	if _, err := c.client.Select(c.inbox, nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", c.inbox, err)
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := c.client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var messages []*email.Message
	for {
		buf := fetchCmd.Next()
		if buf == nil {
			break
		}

		collected, err := buf.Collect()
		if err != nil {
			slog.Warn("collecting fetched message", "error", err)
			continue
		}

		raw := collected.FindBodySection(bodySection)
		if raw == nil {
			slog.Warn("fetched message without body", "uid", collected.UID)
			continue
		}

		msg, err := parser.Parse(raw)
		if err != nil {
			slog.Error("unparseable message left in inbox", "uid", collected.UID, "error", err)
			continue
		}
		msg.UID = uint32(collected.UID)
		messages = append(messages, msg)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching unseen messages: %w", err)
	}
	return messages, nil
}

// MoveTo files the message with the given UID into folder.
func (c *Client) MoveTo(_ context.Context, uid uint32, folder string) error {
	if _, err := c.client.Select(c.inbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", c.inbox, err)
	}
	if _, err := c.client.Move(imap.UIDSetNum(imap.UID(uid)), folder).Wait(); err != nil {
		return fmt.Errorf("moving uid %d to %s: %w", uid, folder, err)
	}
	return nil
}

// Append stores a raw message into folder, flagged \Seen so the copy
// is never picked up as new mail.
func (c *Client) Append(_ context.Context, folder string, raw []byte) error {
	appendCmd := c.client.Append(folder, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
	})
	if _, err := appendCmd.Write(raw); err != nil {
		_ = appendCmd.Close()
		return fmt.Errorf("writing appended message: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return fmt.Errorf("closing append: %w", err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		return fmt.Errorf("appending to %s: %w", folder, err)
	}
	return nil
}

// EnsureFolder creates folder if it does not exist yet. An error from
// CREATE for an existing folder is ignored.
func (c *Client) EnsureFolder(_ context.Context, folder string) error {
	if err := c.client.Create(folder, nil).Wait(); err != nil {
		slog.Debug("folder create returned error, assuming it exists", "folder", folder, "error", err)
	}
	return nil
}

// Close logs out and closes the connection.
func (c *Client) Close() error {
	return c.client.Logout().Wait()
}
