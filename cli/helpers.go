package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atotto/clipboard"
	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errPasswordMismatch = errors.New("passwords do not match")

// prompter reads answers from the command's input. Secrets are read without
// echo when the input is the terminal and as plain lines otherwise.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	tty *os.File
}

func newPrompter(cmd *cobra.Command) *prompter {
	p := &prompter{
		in:  bufio.NewReader(cmd.InOrStdin()),
		out: cmd.ErrOrStderr(),
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = f
	}
	return p
}

func (p *prompter) line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	s, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// secret returns a caller-owned buffer; wipe it when done.
func (p *prompter) secret(prompt string) ([]byte, error) {
	if p.tty == nil {
		fmt.Fprintln(p.out, prompt)
		s, err := p.in.ReadBytes('\n')
		if err != nil && !(errors.Is(err, io.EOF) && len(s) > 0) {
			return nil, err
		}
		out := bytes.TrimRight(s, "\r\n")
		trimmed := append([]byte(nil), out...)
		memguard.WipeBytes(s)
		return trimmed, nil
	}
	return p.masked(prompt)
}

// masked echoes one '*' per character while the terminal is in raw mode.
func (p *prompter) masked(prompt string) ([]byte, error) {
	fmt.Fprint(p.out, prompt)
	fd := int(p.tty.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	defer term.Restore(fd, state)

	var input []byte
	var buf [1]byte
	for {
		if _, err := p.tty.Read(buf[:]); err != nil {
			memguard.WipeBytes(input)
			return nil, err
		}
		switch c := buf[0]; c {
		case '\r', '\n':
			fmt.Fprint(p.out, "\r\n")
			return input, nil
		case 3: // ctrl+c
			memguard.WipeBytes(input)
			fmt.Fprint(p.out, "\r\n")
			return nil, errors.New("interrupted")
		case 127, 8:
			if len(input) > 0 {
				_, size := utf8.DecodeLastRune(input)
				input = input[:len(input)-size]
				fmt.Fprint(p.out, "\b \b")
			}
		default:
			input = append(input, c)
			if utf8.RuneStart(c) {
				fmt.Fprint(p.out, "*")
			}
		}
	}
}

// newPassword asks twice and rejects empty or differing answers.
func (p *prompter) newPassword(prompt string) ([]byte, error) {
	first, err := p.secret(prompt)
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, errors.New("password must not be empty")
	}
	second, err := p.secret("Repeat " + strings.ToLower(prompt[:1]) + prompt[1:])
	if err != nil {
		memguard.WipeBytes(first)
		return nil, err
	}
	defer memguard.WipeBytes(second)
	if !bytes.Equal(first, second) {
		memguard.WipeBytes(first)
		return nil, errPasswordMismatch
	}
	return first, nil
}

// The clipboard is swapped in tests; the real one needs a display.
var (
	writeClipboard = clipboard.WriteAll
	readClipboard  = clipboard.ReadAll
)

// copyToClipboard copies text and clears the clipboard after clearAfter if
// it still holds text. The returned channel closes once that check ran; it
// is nil when clearAfter is zero.
func copyToClipboard(text string, clearAfter time.Duration) (<-chan struct{}, error) {
	if err := writeClipboard(text); err != nil {
		return nil, fmt.Errorf("copy to clipboard: %w", err)
	}
	if clearAfter <= 0 {
		return nil, nil
	}
	done := make(chan struct{})
	time.AfterFunc(clearAfter, func() {
		defer close(done)
		if cur, err := readClipboard(); err == nil && cur == text {
			_ = writeClipboard("")
		}
	})
	return done, nil
}
