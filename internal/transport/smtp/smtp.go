// Package smtp implements a Transport that relays messages through an
// SMTP smarthost with STARTTLS and PLAIN authentication.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Config describes the smarthost connection.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// TLS selects the connection security: "implicit" wraps the
	// connection in TLS on dial, "starttls" upgrades after EHLO, and
	// "off" stays plaintext. Defaults to "implicit".
	TLS string

	// TLSConfig applies when TLS is not "off". ServerName is filled
	// from Host when empty.
	TLSConfig *tls.Config

	// Hostname is announced in EHLO. Defaults to localhost.
	Hostname string
}

// Transport sends messages through one configured smarthost, opening a
// fresh connection per message. An external redelivery mechanism owns
// retries; a failed recipient is reported, never retried inline.
type Transport struct {
	cfg Config
}

// TLS modes accepted by Config.TLS.
const (
	TLSImplicit = "implicit"
	TLSStartTLS = "starttls"
	TLSOff      = "off"
)

// New creates an SMTP transport.
func New(cfg Config) *Transport {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSImplicit
	}
	return &Transport{cfg: cfg}
}

// Send connects, authenticates, and submits raw with the given
// envelope.
func (t *Transport) Send(ctx context.Context, raw []byte, envelopeFrom, envelopeTo string) error {
	cl, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer cl.Close()

	if t.cfg.Username != "" {
		auth := sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)
		if err := cl.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth for %s: %w", t.cfg.Username, err)
		}
	}

	if err := cl.Mail(envelopeFrom, nil); err != nil {
		return fmt.Errorf("MAIL FROM %s: %w", envelopeFrom, err)
	}
	if err := cl.Rcpt(envelopeTo, nil); err != nil {
		return fmt.Errorf("RCPT TO %s: %w", envelopeTo, err)
	}

	wc, err := cl.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := wc.Write(raw); err != nil {
		_ = wc.Close()
		return fmt.Errorf("writing message body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finishing DATA: %w", err)
	}

	return cl.Quit()
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "smtp"
}

func (t *Transport) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))

	tlsConfig := t.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	if tlsConfig.ServerName == "" {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.ServerName = t.cfg.Host
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	if t.cfg.TLS == TLSImplicit {
		conn = tls.Client(conn, tlsConfig)
	}

	var cl *smtp.Client
	if t.cfg.TLS == TLSStartTLS {
		cl, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	} else {
		cl = smtp.NewClient(conn)
	}
	if err := cl.Hello(t.cfg.Hostname); err != nil {
		cl.Close()
		return nil, fmt.Errorf("EHLO: %w", err)
	}
	return cl, nil
}
