package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/fahmaliyi/clockode/backup"
	"github.com/fahmaliyi/clockode/totp"
	"github.com/fahmaliyi/clockode/vault"
)

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new empty vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			fl, err := lockVault(store.Path())
			if err != nil {
				return err
			}
			defer fl.Unlock()

			pw, err := newPrompter(cmd).newPassword("Master password: ")
			if err != nil {
				return err
			}
			defer memguard.WipeBytes(pw)

			h, err := store.Create(pw)
			if err != nil {
				return err
			}
			if err := h.Lock(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Vault created at %s\n", store.Path())
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var noCodes bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List accounts with their current codes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session, _ *prompter) error {
				return printAccounts(cmd.OutOrStdout(), s.h, a.now(), !noCodes)
			})
		},
	}
	cmd.Flags().BoolVar(&noCodes, "no-codes", false, "Do not print codes")
	return cmd
}

func printAccounts(out io.Writer, h *vault.Handle, now time.Time, codes bool) error {
	accounts, err := h.Accounts()
	if err != nil {
		return err
	}
	defer wipeAccounts(accounts)
	if len(accounts) == 0 {
		fmt.Fprintln(out, "No accounts.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if codes {
		fmt.Fprintln(w, "#\tID\tISSUER\tLABEL\tCODE\tEXPIRES")
	} else {
		fmt.Fprintln(w, "#\tID\tISSUER\tLABEL")
	}
	for i, acc := range accounts {
		if !codes {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, acc.ID, acc.Issuer, acc.Label)
			continue
		}
		code, err := totp.Generate(acc.Secret, now, acc.Params())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%ds\n", i+1, acc.ID, acc.Issuer, acc.Label, formatCode(code.Value), code.Remaining)
	}
	return w.Flush()
}

// formatCode splits a code in two halves for reading: "123 456".
func formatCode(code string) string {
	half := len(code) / 2
	return code[:half] + " " + code[half:]
}

func wipeAccounts(accounts []vault.Account) {
	for i := range accounts {
		memguard.WipeBytes(accounts[i].Secret)
	}
}

// resolveID accepts a full id, a 1-based list position or a unique id
// prefix.
func resolveID(h *vault.Handle, ref string) (string, error) {
	accounts, err := h.Accounts()
	if err != nil {
		return "", err
	}
	defer wipeAccounts(accounts)

	for _, acc := range accounts {
		if acc.ID == ref {
			return acc.ID, nil
		}
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(accounts) {
			return accounts[n-1].ID, nil
		}
		return "", fmt.Errorf("%w: no account at position %d", vault.ErrNotFound, n)
	}
	var match string
	for _, acc := range accounts {
		if strings.HasPrefix(acc.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", ref)
			}
			match = acc.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", vault.ErrNotFound, ref)
	}
	return match, nil
}

type accountFlags struct {
	label     string
	issuer    string
	secret    string
	digits    int
	period    uint32
	algorithm string
}

func (f *accountFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.label, "label", "", "Account label")
	cmd.Flags().StringVar(&f.issuer, "issuer", "", "Issuer, e.g. GitHub")
	cmd.Flags().StringVar(&f.secret, "secret", "", "Base32 secret")
	cmd.Flags().IntVar(&f.digits, "digits", totp.DefaultDigits, "Code length (6 or 8)")
	cmd.Flags().Uint32Var(&f.period, "period", totp.DefaultPeriod, "Code period in seconds")
	cmd.Flags().StringVar(&f.algorithm, "algorithm", "SHA1", "HMAC algorithm (SHA1, SHA256, SHA512)")
}

func (a *app) addCmd() *cobra.Command {
	var f accountFlags
	var uri, qrFile string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account from flags, an otpauth URI, a QR image or interactive prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if qrFile != "" {
				text, err := backup.ReadQRFile(qrFile)
				if err != nil {
					return err
				}
				if !isURI([]byte(text)) {
					return fmt.Errorf("%w: qr code in %s holds no otpauth uri", backup.ErrInvalidURI, qrFile)
				}
				uri = text
			}
			return a.withSession(cmd, func(s *session, p *prompter) error {
				var fields vault.AccountFields
				var err error
				switch {
				case uri != "":
					if fields, err = uriFields([]byte(uri), f.label, f.issuer); err != nil {
						return err
					}
				case f.label != "" || f.secret != "":
					if fields, err = f.fields(); err != nil {
						return err
					}
				default:
					if fields, err = promptAccount(p); err != nil {
						return err
					}
				}
				defer memguard.WipeBytes(fields.Secret)

				acc, err := s.h.AddAccount(fields)
				if err != nil {
					return err
				}
				defer memguard.WipeBytes(acc.Secret)
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", acc.Label, acc.ID)
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&uri, "uri", "", "otpauth://totp/ URI, as encoded in setup QR codes")
	cmd.Flags().StringVar(&qrFile, "qr", "", "PNG or JPEG image of a setup QR code")
	cmd.MarkFlagsMutuallyExclusive("uri", "qr", "secret")
	return cmd
}

func (f *accountFlags) fields() (vault.AccountFields, error) {
	secret, err := totp.DecodeSecret(f.secret)
	if err != nil {
		return vault.AccountFields{}, err
	}
	alg, err := totp.ParseAlgorithm(f.algorithm)
	if err != nil {
		memguard.WipeBytes(secret)
		return vault.AccountFields{}, err
	}
	return vault.AccountFields{
		Label:     f.label,
		Issuer:    f.issuer,
		Secret:    secret,
		Digits:    f.digits,
		Period:    f.period,
		Algorithm: alg,
	}, nil
}

func (a *app) updateCmd() *cobra.Command {
	var f accountFlags
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change label, issuer or code parameters of an account",
		Long: `Change label, issuer or code parameters of an account. The secret
cannot be changed; delete the account and add it again instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session, _ *prompter) error {
				id, err := resolveID(s.h, args[0])
				if err != nil {
					return err
				}
				var u vault.AccountUpdate
				flags := cmd.Flags()
				if flags.Changed("label") {
					u.Label = &f.label
				}
				if flags.Changed("issuer") {
					u.Issuer = &f.issuer
				}
				if flags.Changed("digits") {
					u.Digits = &f.digits
				}
				if flags.Changed("period") {
					u.Period = &f.period
				}
				if flags.Changed("algorithm") {
					alg, err := totp.ParseAlgorithm(f.algorithm)
					if err != nil {
						return err
					}
					u.Algorithm = &alg
				}
				if flags.Changed("secret") {
					if u.Secret, err = totp.DecodeSecret(f.secret); err != nil {
						return err
					}
					defer memguard.WipeBytes(u.Secret)
				}
				if err := s.h.UpdateAccount(id, u); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", id)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete an account",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session, p *prompter) error {
				id, err := resolveID(s.h, args[0])
				if err != nil {
					return err
				}
				acc, err := s.h.Account(id)
				if err != nil {
					return err
				}
				memguard.WipeBytes(acc.Secret)
				if !yes {
					answer, err := p.line(fmt.Sprintf("Delete %s? [y/N] ", describe(acc)))
					if err != nil {
						return err
					}
					if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
						fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
						return nil
					}
				}
				if err := s.h.DeleteAccount(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", describe(acc))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func describe(acc vault.Account) string {
	if acc.Issuer == "" {
		return acc.Label
	}
	return acc.Issuer + " (" + acc.Label + ")"
}

func (a *app) reorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder ID...",
		Short: "Set the display order; every account must be named once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session, _ *prompter) error {
				ids := make([]string, len(args))
				for i, ref := range args {
					id, err := resolveID(s.h, ref)
					if err != nil {
						return err
					}
					ids[i] = id
				}
				if err := s.h.Reorder(ids); err != nil {
					return err
				}
				return printAccounts(cmd.OutOrStdout(), s.h, a.now(), false)
			})
		},
	}
}

func (a *app) codeCmd() *cobra.Command {
	var copyCode bool
	cmd := &cobra.Command{
		Use:   "code ID",
		Short: "Print the current code of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session, _ *prompter) error {
				id, err := resolveID(s.h, args[0])
				if err != nil {
					return err
				}
				code, err := s.h.GenerateCode(id, a.now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%ds left)\n", code.Value, code.Remaining)
				if !copyCode {
					return nil
				}
				cleared, err := copyToClipboard(code.Value, a.cfg.ClipboardClear)
				if err != nil {
					return err
				}
				if cleared == nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "Copied to clipboard.")
					return nil
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Copied to clipboard, clearing in %s.\n", a.cfg.ClipboardClear)
				select {
				case <-cleared:
				case <-cmd.Context().Done():
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&copyCode, "copy", "c", false, "Copy the code to the clipboard")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export PATH",
		Short: "Write a plaintext backup (.json, .yaml, .txt, optionally .zst)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session, _ *prompter) error {
				if err := backup.Export(s.h, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s. The file is not encrypted; store it safely.\n", args[0])
				return nil
			})
		},
	}
}

func importMode(replace bool) vault.ImportMode {
	if replace {
		return vault.ImportReplace
	}
	return vault.ImportMerge
}

func (a *app) importCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import PATH",
		Short: "Import a backup written by export or another authenticator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session, _ *prompter) error {
				n, err := backup.Import(s.h, args[0], importMode(replace))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d accounts.\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace all accounts instead of merging")
	return cmd
}

func (a *app) importKDBXCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import-kdbx PATH",
		Short: "Import TOTP entries from a KeePass database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session, p *prompter) error {
				pw, err := p.secret("KeePass password: ")
				if err != nil {
					return err
				}
				defer memguard.WipeBytes(pw)
				n, err := backup.ImportKDBX(s.h, args[0], pw, importMode(replace))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d accounts.\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace all accounts instead of merging")
	return cmd
}

func (a *app) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the master password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session, p *prompter) error {
				pw, err := p.newPassword("New master password: ")
				if err != nil {
					return err
				}
				defer memguard.WipeBytes(pw)
				if err := s.h.ChangePassword(pw); err != nil {
					return err
				}
				if err := s.h.Save(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Master password changed.")
				return nil
			})
		},
	}
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, vault.ErrWrongPassword):
		return 3
	case errors.Is(err, ErrVaultBusy):
		return 4
	default:
		return 1
	}
}
