// Command qmailctl manages quantum identities against the Postgres store.
//
//	qmailctl [-config path] setup <email>
//	qmailctl [-config path] rotate <email>
//	qmailctl [-config path] show <email>
//	qmailctl [-config path] purge [-older-than 720h]
//	qmailctl suggest
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/quantsphere/qmail"
	"github.com/quantsphere/qmail/internal/config"
	"github.com/quantsphere/qmail/internal/logging"
	"github.com/quantsphere/qmail/internal/retention"
	"github.com/quantsphere/qmail/store"
	"github.com/quantsphere/qmail/store/psql"
)

const usage = "usage: qmailctl [-config path] <setup|rotate|show|purge|suggest> [args]"

var exitFunc = os.Exit

// Config holds the command's I/O.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// ReadPassword reads a secret after printing prompt. Nil reads lines
	// from Stdin.
	ReadPassword func(prompt string) (string, error)
}

// DefaultConfig returns a Config using the process's standard streams.
// Passwords are read without echo when stdin is a terminal.
func DefaultConfig() *Config {
	cfg := &Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		cfg.ReadPassword = terminalPassword
	}
	return cfg
}

// clientFactory opens the store and client for cfg. Tests replace it.
var clientFactory = func(cfg config.Config, logger *slog.Logger) (*qmail.Client, store.Store, error) {
	if cfg.Database.DSN == "" {
		return nil, nil, errors.New("database DSN is required (database.dsn or QMAIL_DATABASE_DSN)")
	}
	backend, err := psql.Open(cfg.Database.DSN, cfg.Database.Migrate, psql.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	client, err := qmail.New(backend,
		qmail.WithOracleURL(cfg.Oracle.URL),
		qmail.WithRetries(cfg.Oracle.Retries),
		qmail.WithRetryDelay(cfg.Oracle.RetryDelay),
		qmail.WithIdleTimeout(cfg.Oracle.IdleTimeout),
		qmail.WithLogger(logger),
	)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return client, backend, nil
}

type app struct {
	cfg    config.Config
	io     *Config
	client *qmail.Client
	store  store.Store
	prompt func(string) (string, error)
}

func run(args []string, ioCfg *Config) error {
	flags := flag.NewFlagSet("qmailctl", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	configPath := flags.String("config", "", "path to qmail.yaml")
	if len(args) > 0 {
		args = args[1:]
	}
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%v\n%s", err, usage)
	}
	args = flags.Args()
	if len(args) == 0 {
		return errors.New(usage)
	}

	if args[0] == "suggest" {
		return runSuggest(ioCfg)
	}

	switch args[0] {
	case "setup", "rotate", "show", "purge":
	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], usage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(stderr(ioCfg), logging.Options{Level: cfg.Log.Level, Format: "text"})
	if err != nil {
		return err
	}

	client, st, err := clientFactory(cfg, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer st.Close()
	defer client.Close()

	a := &app{cfg: cfg, io: ioCfg, client: client, store: st, prompt: newPrompter(ioCfg)}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch args[0] {
	case "setup":
		return a.setup(ctx, args[1:])
	case "rotate":
		return a.rotate(ctx, args[1:])
	case "show":
		return a.show(ctx, args[1:])
	default:
		return a.purge(ctx, args[1:])
	}
}

func runSuggest(ioCfg *Config) error {
	phrase, err := qmail.SuggestPassphrase()
	if err != nil {
		return err
	}
	fmt.Fprintln(ioCfg.Stdout, phrase)
	return nil
}

func emailArg(cmd string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("usage: qmailctl %s <email>", cmd)
	}
	return strings.TrimSpace(args[0]), nil
}

func (a *app) readMasterKey() (string, string, error) {
	pass, err := a.prompt("Master Key: ")
	if err != nil {
		return "", "", fmt.Errorf("read master key: %w", err)
	}
	confirm, err := a.prompt("Confirm Master Key: ")
	if err != nil {
		return "", "", fmt.Errorf("read master key: %w", err)
	}
	return pass, confirm, nil
}

func (a *app) setup(ctx context.Context, args []string) error {
	email, err := emailArg("setup", args)
	if err != nil {
		return err
	}
	acct, err := a.client.AccountByEmail(ctx, email)
	if errors.Is(err, qmail.ErrAccountNotFound) {
		acct, err = a.client.CreateAccount(ctx, email)
	}
	if err != nil {
		return err
	}

	pass, confirm, err := a.readMasterKey()
	if err != nil {
		return err
	}
	ident, err := a.client.Setup(ctx, acct.ID, pass, confirm)
	if err != nil {
		return fmt.Errorf("%s: %w", qmail.UserMessage(err), err)
	}
	fmt.Fprintf(a.io.Stdout, "identity %s active for %s\nfingerprint %s\n", ident.ID, email, qmail.Fingerprint(ident.PublicKey))
	return nil
}

func (a *app) rotate(ctx context.Context, args []string) error {
	email, err := emailArg("rotate", args)
	if err != nil {
		return err
	}
	acct, err := a.client.AccountByEmail(ctx, email)
	if err != nil {
		return err
	}

	pass, confirm, err := a.readMasterKey()
	if err != nil {
		return err
	}
	ident, err := a.client.RotateIdentity(ctx, acct.ID, pass, confirm)
	if err != nil {
		return fmt.Errorf("%s: %w", qmail.UserMessage(err), err)
	}
	fmt.Fprintf(a.io.Stdout, "rotated to identity %s\nfingerprint %s\n", ident.ID, qmail.Fingerprint(ident.PublicKey))
	return nil
}

func (a *app) show(ctx context.Context, args []string) error {
	email, err := emailArg("show", args)
	if err != nil {
		return err
	}
	acct, err := a.client.AccountByEmail(ctx, email)
	if err != nil {
		return err
	}
	ids, err := a.client.Identities(ctx, acct.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.io.Stdout, "%s (%s)\n", acct.Email, acct.AccountStatus)
	w := tabwriter.NewWriter(a.io.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tFINGERPRINT")
	for _, id := range ids {
		status := string(id.Status)
		if id.Purged() {
			status += " (purged)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id.ID, status, id.CreatedAt.UTC().Format(time.RFC3339), qmail.ShortFingerprint(id.PublicKey))
	}
	return w.Flush()
}

func (a *app) purge(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("purge", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	olderThan := flags.Duration("older-than", a.cfg.Retention.RevokedKeys, "purge secrets of identities revoked longer ago than this")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *olderThan <= 0 {
		return errors.New("no retention period configured; pass -older-than")
	}

	sweeper := retention.New(a.store, retention.Config{Retention: *olderThan})
	n, err := sweeper.Sweep(ctx)
	fmt.Fprintf(a.io.Stdout, "purged %d identities\n", n)
	return err
}

func newPrompter(cfg *Config) func(string) (string, error) {
	if cfg.ReadPassword != nil {
		return cfg.ReadPassword
	}
	r := bufio.NewReader(cfg.Stdin)
	return func(prompt string) (string, error) {
		fmt.Fprint(stderr(cfg), prompt)
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}

func terminalPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	return string(b), err
}

func stderr(cfg *Config) io.Writer {
	if cfg.Stderr == nil {
		return io.Discard
	}
	return cfg.Stderr
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	exitFunc(1)
}
