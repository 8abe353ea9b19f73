// Package cli is the clockode command line: cobra commands over the vault
// core, an interactive shell and a terminal UI.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/awnumar/memguard"
	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/fahmaliyi/clockode/config"
	"github.com/fahmaliyi/clockode/logging"
	"github.com/fahmaliyi/clockode/vault"
)

var ErrVaultBusy = errors.New("vault is open in another clockode process")

// app carries what every command shares once flags are parsed.
type app struct {
	cfgFile string
	cfg     config.Config
	now     func() time.Time
	log     *log.Logger
}

// Execute runs the clockode command line.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds a fresh command tree. Tests call it once per run.
func NewRootCmd() *cobra.Command {
	a := &app{now: time.Now, log: logging.Component("cli")}

	cmd := &cobra.Command{
		Use:   "clockode",
		Short: "Offline TOTP authenticator with an encrypted vault",
		Long: `Clockode keeps your two-factor seeds in one password-encrypted file
and shows the current codes.

Running without a subcommand launches the terminal UI.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default <user config dir>/clockode/clockode.yaml)")
	cmd.PersistentFlags().String("vault", "", "vault file")
	cmd.PersistentFlags().String("log-level", "", `log level ("debug", "info", "warn", "error")`)

	cmd.AddCommand(
		a.initCmd(),
		a.listCmd(),
		a.addCmd(),
		a.updateCmd(),
		a.deleteCmd(),
		a.reorderCmd(),
		a.codeCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.importKDBXCmd(),
		a.passwdCmd(),
		a.shellCmd(),
		a.tuiCmd(),
		a.configCmd(),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd, a.cfgFile)
	if err != nil {
		return err
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.Component("cli")
	a.log.Debug("config loaded", "vault", cfg.Vault, "kdf", cfg.KDF.Algorithm, "cipher", cfg.Cipher)
	return nil
}

func (a *app) store() (*vault.Store, error) {
	kdf, err := a.cfg.KDFParams()
	if err != nil {
		return nil, err
	}
	suite, err := a.cfg.CipherSuite()
	if err != nil {
		return nil, err
	}
	return vault.NewStore(a.cfg.Vault, vault.WithKDF(kdf), vault.WithCipher(suite))
}

// lockVault takes the advisory lock that keeps two clockode processes from
// writing the same vault.
func lockVault(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}
	fl := flock.New(path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, ErrVaultBusy
	}
	return fl, nil
}

// session is one unlocked vault held by a command.
type session struct {
	h    *vault.Handle
	lock *flock.Flock
	log  *log.Logger
}

// open locks the vault file and unlocks it with a password read from p.
func (a *app) open(p *prompter) (*session, error) {
	store, err := a.store()
	if err != nil {
		return nil, err
	}
	exists, err := store.Exists()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("no vault at %s, run 'clockode init' first", store.Path())
	}

	fl, err := lockVault(store.Path())
	if err != nil {
		return nil, err
	}
	pw, err := p.secret("Master password: ")
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	defer memguard.WipeBytes(pw)

	h, err := store.Unlock(pw)
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	return &session{h: h, lock: fl, log: a.log}, nil
}

// close saves pending changes, wipes the session and releases the file
// lock. If the save fails the changes are discarded and the error returned.
func (s *session) close() error {
	err := s.h.Lock()
	if err != nil {
		s.log.Error("could not save vault, discarding unsaved changes", "err", err)
		s.h.Discard()
	}
	if uerr := s.lock.Unlock(); uerr != nil {
		s.log.Warn("release vault lock", "path", s.lock.Path(), "err", uerr)
	}
	return err
}

// withSession runs fn on an unlocked vault and always closes it.
func (a *app) withSession(cmd *cobra.Command, fn func(s *session, p *prompter) error) (err error) {
	p := newPrompter(cmd)
	s, err := a.open(p)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()
	return fn(s, p)
}
