// Package mail implements the Mail component: managed mailbox account
// CRUD against the Config Store, plus a narrow Sender interface over the
// host's externally-supervised SMTP transport. The mail server itself
// (SMTP/IMAP) is an out-of-scope external collaborator; this package only
// owns account bookkeeping and a thin shell-out to hand a message to
// whatever transport agent is installed on the host, the same way
// internal/hostctl isolates host resolver control behind exec.Command.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odac-run/odac/internal/clock"
	"github.com/odac-run/odac/internal/configstore"
	"github.com/odac-run/odac/internal/events"
	"github.com/odac-run/odac/internal/logging"
	"github.com/odac-run/odac/internal/model"
)

const bcryptCost = 12

var ErrAccountExists = errors.New("mail account already exists")
var ErrAccountNotFound = errors.New("mail account not found")

// Sender is the narrow capability interface to the host's mail transport
// agent (e.g. a local sendmail-compatible binary). Send does not implement
// SMTP itself; it only hands a fully-formed message to the transport.
type Sender interface {
	Send(ctx context.Context, from, to, subject, body string) error
}

// SendmailSender shells out to a sendmail-compatible binary on the host,
// mirroring internal/hostctl's pattern of building every exec.Command from
// an argv slice rather than a formatted shell string.
type SendmailSender struct {
	BinaryPath string // e.g. "/usr/sbin/sendmail"
}

// NewSendmailSender returns a SendmailSender against the conventional
// sendmail path.
func NewSendmailSender() SendmailSender {
	return SendmailSender{BinaryPath: "/usr/sbin/sendmail"}
}

var _ Sender = SendmailSender{}

// Send pipes an RFC 5322 message to sendmail's stdin, addressed via -t.
func (s SendmailSender) Send(ctx context.Context, from, to, subject, body string) error {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", from, to, subject, body)

	cmd := exec.CommandContext(ctx, s.BinaryPath, "-t", "-f", from)
	cmd.Stdin = &msg
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sendmail: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Manager is the Mail component: account CRUD plus outbound send, the
// subcomponent the SSL Engine notifies after a certificate renewal and the
// Control API dispatches mail.* actions to.
type Manager struct {
	store  *configstore.Store
	sender Sender
	bus    *events.Bus
	log    *logging.Logger
	clk    clock.Clock
}

// New creates a Manager. It performs no I/O itself.
func New(cs *configstore.Store, sender Sender, bus *events.Bus, log *logging.Logger, clk clock.Clock) *Manager {
	return &Manager{store: cs, sender: sender, bus: bus, log: log, clk: clk}
}

// Create registers a new mailbox, bcrypt-hashing password for storage.
func (m *Manager) Create(address, password string) (model.MailAccount, error) {
	if _, exists := m.store.Mail().Get(address); exists {
		return model.MailAccount{}, ErrAccountExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return model.MailAccount{}, fmt.Errorf("hash password: %w", err)
	}
	acc := model.MailAccount{Address: address, PasswordHash: string(hash), Created: m.clk.Now()}
	m.store.Mail().Put(acc)
	return acc, nil
}

// Delete removes a mailbox.
func (m *Manager) Delete(address string) error {
	if !m.store.Mail().Delete(address) {
		return ErrAccountNotFound
	}
	return nil
}

// List returns every managed mailbox.
func (m *Manager) List() []model.MailAccount {
	return m.store.Mail().List()
}

// SetPassword rehashes and replaces a mailbox's password.
func (m *Manager) SetPassword(address, password string) error {
	acc, exists := m.store.Mail().Get(address)
	if !exists {
		return ErrAccountNotFound
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	acc.PasswordHash = string(hash)
	m.store.Mail().Put(acc)
	return nil
}

// Send dispatches an outbound message from a managed mailbox through the
// configured transport Sender.
func (m *Manager) Send(ctx context.Context, from, to, subject, body string) error {
	if _, exists := m.store.Mail().Get(from); !exists {
		return ErrAccountNotFound
	}
	return m.sender.Send(ctx, from, to, subject, body)
}

// NotifyCertRenewed is the Mail component's SSL Engine observer hook
// (§4.4's "notify Proxy Sync and Mail"): the managed mailbox domains share
// the same per-domain certificate material the SSL Engine renews, so a
// renewal is logged here for operational visibility even though the
// SMTP/IMAP server itself is an out-of-scope external collaborator with no
// reload call this package can make on its behalf.
func (m *Manager) NotifyCertRenewed(domain string) {
	m.log.Info("mail observer: certificate renewed", "domain", domain)
}

// Check is the Mail component's 1Hz orchestrator tick. It currently has
// nothing to reconcile (account state has no runtime-observed drift) but
// is kept as a no-op hook; the orchestrator's tick calls it after the App
// Supervisor's check.
func (m *Manager) Check(ctx context.Context) {
	_ = ctx
}
