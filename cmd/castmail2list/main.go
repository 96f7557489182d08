// Package main is the entry point for the mailing list relay.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castmail/castmail2list/internal/config"
	"github.com/castmail/castmail2list/internal/mailbox"
	"github.com/castmail/castmail2list/internal/model"
	"github.com/castmail/castmail2list/internal/pipeline"
	"github.com/castmail/castmail2list/internal/store"
	"github.com/castmail/castmail2list/internal/tlsutil"
	"github.com/castmail/castmail2list/internal/transport"
	sestransport "github.com/castmail/castmail2list/internal/transport/ses"
	smtptransport "github.com/castmail/castmail2list/internal/transport/smtp"
	"github.com/castmail/castmail2list/internal/transport/stdout"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	// Client-side TLS for IMAP and SMTP connections
	tlsConfig, err := tlsutil.ClientConfig(cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	// Open the list database
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Select outgoing delivery transport
	tr := selectTransport(cfg, tlsConfig)

	folders := pipeline.Folders{
		Processed: cfg.Folders.Processed,
		Sent:      cfg.Folders.Sent,
		Bounces:   cfg.Folders.Bounces,
		Denied:    cfg.Folders.Denied,
		Duplicate: cfg.Folders.Duplicate,
	}
	processor := pipeline.New(cfg.Domain, folders, tr, st, st)

	dial := func(ctx context.Context, ml *model.MailingList) (pipeline.Mailbox, error) {
		return mailbox.Dial(ctx, mailbox.Config{
			Host:      ml.IMAPHost,
			Port:      ml.IMAPPort,
			Username:  ml.IMAPUser,
			Password:  ml.IMAPPass,
			Inbox:     "INBOX",
			TLSConfig: tlsConfig,
		})
	}

	interval := time.Duration(cfg.Poll.IntervalSec) * time.Second
	runner := pipeline.NewRunner(processor, st, dial, interval)

	slog.Info("starting castmail2list",
		"domain", cfg.Domain,
		"transport", tr.Name(),
		"database", cfg.Database.Path,
		"poll_interval", interval,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Poll until the context is cancelled
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("runner error", "error", err)
		os.Exit(1)
	}

	slog.Info("castmail2list stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectTransport builds the outgoing delivery backend the configuration
// names. Config validation already guaranteed the selection is complete.
func selectTransport(cfg *config.Config, tlsConfig *tls.Config) transport.Transport {
	switch cfg.Transport.Name {
	case "smtp":
		slog.Info("using SMTP transport",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"tls", cfg.SMTP.TLS,
		)
		return smtptransport.New(smtptransport.Config{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			TLS:       cfg.SMTP.TLS,
			TLSConfig: tlsConfig,
			Hostname:  cfg.SMTP.Hostname,
		})

	case "ses":
		slog.Info("using AWS SES transport", "region", cfg.SES.Region)
		tr, err := sestransport.New(context.Background(), sestransport.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		if err != nil {
			slog.Error("failed to create SES transport", "error", err)
			os.Exit(1)
		}
		return tr

	default:
		slog.Info("using stdout transport")
		return stdout.New()
	}
}
