package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/fahmaliyi/clockode/totp"
	"github.com/fahmaliyi/clockode/vault"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	msgStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	codeStyle     = lipgloss.NewStyle().Bold(true)
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("0"))
)

type tuiState int

const (
	stateUnlock tuiState = iota
	stateUnlocking
	stateList
	stateAdd
	stateConfirmDelete
)

type keyMap struct {
	Up, Down, MoveUp, MoveDown key.Binding
	Copy, Add, Delete          key.Binding
	Help, Quit                 key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Copy, k.Add, k.Delete, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.MoveUp, k.MoveDown},
		{k.Copy, k.Add, k.Delete},
		{k.Help, k.Quit},
	}
}

var _ help.KeyMap = keyMap{}

var defaultKeyMap = keyMap{
	Up:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
	Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
	MoveUp:   key.NewBinding(key.WithKeys("K", "shift+up"), key.WithHelp("K", "move up")),
	MoveDown: key.NewBinding(key.WithKeys("J", "shift+down"), key.WithHelp("J", "move down")),
	Copy:     key.NewBinding(key.WithKeys("c", "enter"), key.WithHelp("c", "copy code")),
	Add:      key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
	Delete:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "lock and quit")),
}

// Add form fields, in tab order.
const (
	fieldLabel = iota
	fieldIssuer
	fieldSecret
	fieldDigits
	fieldPeriod
	fieldAlgorithm
	fieldCount
)

// row is what the list shows for one account. Secrets never live here.
type row struct {
	id     string
	label  string
	issuer string
	period uint32
	code   totp.Code
	err    error
}

type tickMsg time.Time

type unlockedMsg struct {
	h   *vault.Handle
	err error
}

type tuiModel struct {
	store      *vault.Store
	h          *vault.Handle
	now        func() time.Time
	clearAfter time.Duration
	log        *log.Logger

	state    tuiState
	password textinput.Model
	form     []textinput.Model
	focus    int
	rows     []row
	cursor   int
	status   string
	err      error
	quitting bool

	keys keyMap
	help help.Model
	bar  progress.Model
}

func (a *app) newTUIModel(store *vault.Store) tuiModel {
	pw := textinput.New()
	pw.Prompt = "Master password: "
	pw.EchoMode = textinput.EchoPassword
	pw.EchoCharacter = '*'
	pw.Focus()

	form := make([]textinput.Model, fieldCount)
	for i, placeholder := range [fieldCount]string{
		"Label",
		"Issuer (optional)",
		"Secret (base32 or otpauth URI)",
		fmt.Sprintf("Digits [%d]", totp.DefaultDigits),
		fmt.Sprintf("Period [%d]", totp.DefaultPeriod),
		"Algorithm [SHA1]",
	} {
		ti := textinput.New()
		ti.Placeholder = placeholder
		form[i] = ti
	}
	form[fieldSecret].EchoMode = textinput.EchoPassword
	form[fieldSecret].EchoCharacter = '*'

	return tuiModel{
		store:      store,
		now:        a.now,
		clearAfter: a.cfg.ClipboardClear,
		log:        a.log,
		state:      stateUnlock,
		password:   pw,
		form:       form,
		keys:       defaultKeyMap,
		help:       help.New(),
		bar:        progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(30)),
	}
}

func (m tuiModel) Init() tea.Cmd {
	return textinput.Blink
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// unlock derives the key off the event loop; scrypt takes a noticeable
// moment at the default cost.
func unlock(store *vault.Store, password []byte) tea.Cmd {
	return func() tea.Msg {
		defer memguard.WipeBytes(password)
		h, err := store.Unlock(password)
		return unlockedMsg{h: h, err: err}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		m.bar.Width = min(max(msg.Width-4, 10), 40)
		return m, nil
	case unlockedMsg:
		return m.unlocked(msg)
	case tickMsg:
		if m.h == nil {
			return m, nil
		}
		m.refresh()
		return m, tick()
	}

	switch m.state {
	case stateUnlock:
		return m.updateUnlock(msg)
	case stateList:
		return m.updateList(msg)
	case stateAdd:
		return m.updateAdd(msg)
	case stateConfirmDelete:
		return m.updateConfirm(msg)
	}
	// The handle must come back before quitting so that it gets locked.
	if k, ok := msg.(tea.KeyMsg); ok && (k.String() == "ctrl+c" || k.String() == "q") {
		m.quitting = true
		m.status = "Quitting after unlock finishes..."
	}
	return m, nil
}

func (m tuiModel) updateUnlock(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			if m.password.Value() == "" {
				return m, nil
			}
			pw := []byte(m.password.Value())
			m.password.Reset()
			m.state = stateUnlocking
			m.err = nil
			m.status = "Unlocking..."
			return m, unlock(m.store, pw)
		}
	}
	var cmd tea.Cmd
	m.password, cmd = m.password.Update(msg)
	return m, cmd
}

func (m tuiModel) unlocked(msg unlockedMsg) (tea.Model, tea.Cmd) {
	m.status = ""
	if m.quitting {
		m.h = msg.h
		return m, tea.Quit
	}
	if msg.err != nil {
		m.state = stateUnlock
		if errors.Is(msg.err, vault.ErrWrongPassword) {
			m.err = errors.New("wrong password, try again")
		} else {
			m.err = msg.err
		}
		return m, nil
	}
	m.h = msg.h
	m.state = stateList
	m.refresh()
	return m, tick()
}

// refresh reloads the accounts and computes their current codes.
func (m *tuiModel) refresh() {
	accounts, err := m.h.Accounts()
	if err != nil {
		m.err = err
		return
	}
	defer wipeAccounts(accounts)

	now := m.now()
	m.rows = make([]row, 0, len(accounts))
	for _, acc := range accounts {
		r := row{id: acc.ID, label: acc.Label, issuer: acc.Issuer, period: acc.Period}
		r.code, r.err = totp.Generate(acc.Secret, now, acc.Params())
		m.rows = append(m.rows, r)
	}
	if m.cursor >= len(m.rows) {
		m.cursor = max(len(m.rows)-1, 0)
	}
}

func (m tuiModel) selected() (row, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return row{}, false
	}
	return m.rows[m.cursor], true
}

// save persists a change made through the handle and reports the outcome.
func (m *tuiModel) save(status string) {
	if err := m.h.Save(); err != nil {
		m.log.Error("save vault", "err", err)
		m.err = err
		m.status = ""
		return
	}
	m.err = nil
	m.status = status
}

func (m tuiModel) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(k, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(k, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(k, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(k, m.keys.Down):
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case key.Matches(k, m.keys.MoveUp):
		m.move(-1)
	case key.Matches(k, m.keys.MoveDown):
		m.move(1)
	case key.Matches(k, m.keys.Copy):
		m.copySelected()
	case key.Matches(k, m.keys.Add):
		m.state = stateAdd
		m.err = nil
		m.status = ""
		m.focus = fieldLabel
		for i := range m.form {
			m.form[i].Reset()
			m.form[i].Blur()
		}
		return m, m.form[fieldLabel].Focus()
	case key.Matches(k, m.keys.Delete):
		if _, ok := m.selected(); ok {
			m.state = stateConfirmDelete
			m.status = ""
		}
	}
	return m, nil
}

func (m *tuiModel) copySelected() {
	r, ok := m.selected()
	if !ok {
		return
	}
	if r.err != nil {
		m.err = r.err
		return
	}
	if _, err := copyToClipboard(r.code.Value, m.clearAfter); err != nil {
		m.err = err
		return
	}
	m.err = nil
	if m.clearAfter > 0 {
		m.status = fmt.Sprintf("Code copied! (clears in %s)", m.clearAfter)
	} else {
		m.status = "Code copied!"
	}
}

// move shifts the selected account by delta positions in the stored order.
func (m *tuiModel) move(delta int) {
	to := m.cursor + delta
	if to < 0 || to >= len(m.rows) {
		return
	}
	ids := make([]string, len(m.rows))
	for i, r := range m.rows {
		ids[i] = r.id
	}
	ids[m.cursor], ids[to] = ids[to], ids[m.cursor]
	if err := m.h.Reorder(ids); err != nil {
		m.err = err
		return
	}
	m.cursor = to
	m.save("")
	m.refresh()
}

func (m tuiModel) updateConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch k.String() {
	case "y", "Y":
		r, _ := m.selected()
		m.state = stateList
		if err := m.h.DeleteAccount(r.id); err != nil {
			m.err = err
			return m, nil
		}
		m.save("Deleted " + describeRow(r))
		m.refresh()
	case "ctrl+c":
		return m, tea.Quit
	default:
		m.state = stateList
		m.status = "Aborted."
	}
	return m, nil
}

func (m tuiModel) updateAdd(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.state = stateList
			m.clearForm()
			return m, nil
		case "tab", "down":
			return m, m.focusField((m.focus + 1) % fieldCount)
		case "shift+tab", "up":
			return m, m.focusField((m.focus + fieldCount - 1) % fieldCount)
		case "enter":
			if m.focus < fieldCount-1 {
				return m, m.focusField(m.focus + 1)
			}
			return m.submitAdd()
		}
	}
	var cmd tea.Cmd
	m.form[m.focus], cmd = m.form[m.focus].Update(msg)
	return m, cmd
}

func (m *tuiModel) focusField(i int) tea.Cmd {
	m.form[m.focus].Blur()
	m.focus = i
	return m.form[i].Focus()
}

func (m *tuiModel) clearForm() {
	for i := range m.form {
		m.form[i].Reset()
		m.form[i].Blur()
	}
	m.focus = fieldLabel
}

func (m tuiModel) submitAdd() (tea.Model, tea.Cmd) {
	f, err := m.formFields()
	if err != nil {
		m.err = err
		return m, nil
	}
	defer memguard.WipeBytes(f.Secret)

	acc, err := m.h.AddAccount(f)
	if err != nil {
		m.err = err
		return m, nil
	}
	memguard.WipeBytes(acc.Secret)
	m.clearForm()
	m.state = stateList
	m.save("Added " + describe(acc))
	m.refresh()
	m.cursor = len(m.rows) - 1
	return m, nil
}

func (m tuiModel) formFields() (vault.AccountFields, error) {
	value := func(i int) string { return strings.TrimSpace(m.form[i].Value()) }
	raw := []byte(value(fieldSecret))
	defer memguard.WipeBytes(raw)

	if isURI(raw) {
		return uriFields(raw, value(fieldLabel), value(fieldIssuer))
	}
	digits, err := parseDigits(value(fieldDigits))
	if err != nil {
		return vault.AccountFields{}, err
	}
	period, err := parsePeriod(value(fieldPeriod))
	if err != nil {
		return vault.AccountFields{}, err
	}
	alg, err := totp.ParseAlgorithm(value(fieldAlgorithm))
	if err != nil {
		return vault.AccountFields{}, err
	}
	secret, err := totp.DecodeSecret(string(raw))
	if err != nil {
		return vault.AccountFields{}, err
	}
	return vault.AccountFields{
		Label:     value(fieldLabel),
		Issuer:    value(fieldIssuer),
		Secret:    secret,
		Digits:    digits,
		Period:    period,
		Algorithm: alg,
	}, nil
}

func describeRow(r row) string {
	return describe(vault.Account{Label: r.label, Issuer: r.issuer})
}

func (m tuiModel) View() string {
	var b strings.Builder
	switch m.state {
	case stateUnlock, stateUnlocking:
		b.WriteString(titleStyle.Render("Clockode") + "\n\n")
		b.WriteString(m.password.View() + "\n")
		b.WriteString(dimStyle.Render("\nenter to unlock, esc to quit"))
	case stateList, stateConfirmDelete:
		m.viewList(&b)
	case stateAdd:
		b.WriteString(titleStyle.Render("Add account") + "\n\n")
		for _, ti := range m.form {
			b.WriteString(fmt.Sprintf("%-32s %s\n", ti.Placeholder+":", ti.View()))
		}
		b.WriteString(dimStyle.Render("\ntab to move, enter on the last field to save, esc to cancel"))
	}
	if m.status != "" {
		b.WriteString("\n\n" + msgStyle.Render(m.status))
	}
	if m.err != nil {
		b.WriteString("\n\n" + errStyle.Render("Error: "+m.err.Error()))
	}
	return b.String() + "\n"
}

func (m tuiModel) viewList(b *strings.Builder) {
	b.WriteString(titleStyle.Render("Clockode") + "\n\n")
	if len(m.rows) == 0 {
		b.WriteString(dimStyle.Render("No accounts yet. Press a to add one.") + "\n")
	}
	for i, r := range m.rows {
		code := "error"
		if r.err == nil {
			code = formatCode(r.code.Value)
		}
		line := fmt.Sprintf("%-20s  %-24s  %s  %2ds", r.issuer, r.label, codeStyle.Render(code), r.code.Remaining)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	if r, ok := m.selected(); ok && r.period > 0 {
		b.WriteString("\n" + m.bar.ViewAs(float64(r.code.Remaining)/float64(r.period)) + "\n")
	}
	if m.state == stateConfirmDelete {
		r, _ := m.selected()
		b.WriteString("\n" + errStyle.Render(fmt.Sprintf("Delete %s? [y/N]", describeRow(r))))
		return
	}
	b.WriteString("\n" + m.help.View(m.keys))
}

func (a *app) tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Browse accounts and copy codes in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTUI(cmd)
		},
	}
}

// runTUI holds the vault lock for the life of the program and locks the
// handle when the user quits.
func (a *app) runTUI(cmd *cobra.Command) error {
	store, err := a.store()
	if err != nil {
		return err
	}
	exists, err := store.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no vault at %s, run 'clockode init' first", store.Path())
	}
	fl, err := lockVault(store.Path())
	if err != nil {
		return err
	}

	p := tea.NewProgram(a.newTUIModel(store),
		tea.WithAltScreen(),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	final, runErr := p.Run()

	var h *vault.Handle
	if m, ok := final.(tuiModel); ok {
		h = m.h
	}
	if h == nil {
		if uerr := fl.Unlock(); uerr != nil {
			a.log.Warn("release vault lock", "path", fl.Path(), "err", uerr)
		}
		return runErr
	}
	s := &session{h: h, lock: fl, log: a.log}
	if err := s.close(); err != nil {
		return err
	}
	return runErr
}
