package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/fahmaliyi/clockode/vault"
)

const shellHelp = "Commands: l=list, s N=show code, c N=copy code, a=add, r N LABEL=rename, d N=delete, w=save, q=quit"

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive line-based session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session, p *prompter) error {
				return a.runShell(cmd.OutOrStdout(), s, p)
			})
		},
	}
}

// runShell reads commands until q or end of input. Numbers refer to the
// positions printed by the last listing.
func (a *app) runShell(out io.Writer, s *session, p *prompter) error {
	if err := printAccounts(out, s.h, a.now(), true); err != nil {
		return err
	}
	for {
		fmt.Fprintln(out, "\n"+shellHelp)
		line, err := p.line("> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch cmd := parts[0]; cmd {
		case "q":
			fmt.Fprintln(out, "Locking vault.")
			return nil
		case "l":
			err = printAccounts(out, s.h, a.now(), true)
		case "a":
			err = a.shellAdd(out, s, p)
		case "w":
			if err = s.h.Save(); err == nil {
				fmt.Fprintln(out, "Saved.")
			}
		case "s", "c", "d", "r":
			if len(parts) < 2 {
				fmt.Fprintln(out, "Specify item number")
				continue
			}
			var id string
			if id, err = resolveID(s.h, parts[1]); err != nil {
				break
			}
			switch cmd {
			case "s":
				err = a.shellShow(out, s, id)
			case "c":
				err = a.shellCopy(out, s, id)
			case "d":
				err = a.shellDelete(out, s, id)
			case "r":
				err = a.shellRename(out, s, id, strings.Join(parts[2:], " "))
			}
		default:
			fmt.Fprintln(out, "Unknown command")
			continue
		}
		if err != nil {
			fmt.Fprintln(out, "Error:", err)
		}
	}
}

func (a *app) shellAdd(out io.Writer, s *session, p *prompter) error {
	f, err := promptAccount(p)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(f.Secret)
	acc, err := s.h.AddAccount(f)
	if err != nil {
		return err
	}
	memguard.WipeBytes(acc.Secret)
	fmt.Fprintf(out, "Added %s\n", describe(acc))
	return s.h.Save()
}

func (a *app) shellShow(out io.Writer, s *session, id string) error {
	code, err := s.h.GenerateCode(id, a.now())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s  (%ds left)\n", formatCode(code.Value), code.Remaining)
	return nil
}

func (a *app) shellCopy(out io.Writer, s *session, id string) error {
	code, err := s.h.GenerateCode(id, a.now())
	if err != nil {
		return err
	}
	if _, err := copyToClipboard(code.Value, a.cfg.ClipboardClear); err != nil {
		return err
	}
	if a.cfg.ClipboardClear > 0 {
		fmt.Fprintf(out, "Code copied to clipboard. Clearing in %s...\n", a.cfg.ClipboardClear)
	} else {
		fmt.Fprintln(out, "Code copied to clipboard.")
	}
	return nil
}

func (a *app) shellDelete(out io.Writer, s *session, id string) error {
	if err := s.h.DeleteAccount(id); err != nil {
		return err
	}
	if err := s.h.Save(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Account deleted!")
	return nil
}

func (a *app) shellRename(out io.Writer, s *session, id, label string) error {
	if label == "" {
		return errors.New("usage: r N NEW LABEL")
	}
	if err := s.h.UpdateAccount(id, vault.AccountUpdate{Label: &label}); err != nil {
		return err
	}
	fmt.Fprintln(out, "Renamed to "+strconv.Quote(label))
	return s.h.Save()
}
