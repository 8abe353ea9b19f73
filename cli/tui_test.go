package cli

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahmaliyi/clockode/config"
	"github.com/fahmaliyi/clockode/totp"
	"github.com/fahmaliyi/clockode/vault"
)

var tuiNow = time.Unix(59, 0).UTC()

func tuiStore(t *testing.T, labels ...string) *vault.Store {
	t.Helper()
	s, err := vault.NewStore(filepath.Join(t.TempDir(), "vault.clk"),
		vault.WithKDF(vault.KDFParams{Algorithm: vault.KDFScrypt, Cost: 1 << 10, BlockSize: 8, Parallelism: 1}),
		vault.WithLogger(log.New(io.Discard)),
	)
	require.NoError(t, err)
	h, err := s.Create([]byte("pw"))
	require.NoError(t, err)
	for _, label := range labels {
		secret, err := totp.DecodeSecret(githubSecret)
		require.NoError(t, err)
		_, err = h.AddAccount(vault.AccountFields{Label: label, Issuer: "GitHub", Secret: secret})
		require.NoError(t, err)
	}
	require.NoError(t, h.Lock())
	return s
}

func newTestTUI(t *testing.T, s *vault.Store) tuiModel {
	t.Helper()
	a := &app{
		now: func() time.Time { return tuiNow },
		log: log.New(io.Discard),
		cfg: config.Config{ClipboardClear: 0},
	}
	return a.newTUIModel(s)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m tuiModel, msgs ...tea.Msg) (tuiModel, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(tuiModel)
	}
	return m, cmd
}

// unlockTUI types password, runs the unlock command and feeds its result
// back into the model.
func unlockTUI(t *testing.T, m tuiModel, password string) tuiModel {
	t.Helper()
	m, _ = press(t, m, runes(password))
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, stateUnlocking, m.state)
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, unlockedMsg{}, msg)
	m, _ = press(t, m, msg)
	return m
}

func TestTUI_Unlock(t *testing.T) {
	s := tuiStore(t, "alice")
	m := newTestTUI(t, s)
	assert.Contains(t, m.View(), "Master password")

	m = unlockTUI(t, m, "wrong")
	assert.Equal(t, stateUnlock, m.state)
	assert.Nil(t, m.h)
	assert.Contains(t, m.View(), "wrong password")
	assert.Empty(t, m.password.Value())

	m = unlockTUI(t, m, "pw")
	require.Equal(t, stateList, m.state)
	require.NotNil(t, m.h)
	defer m.h.Discard()

	require.Len(t, m.rows, 1)
	assert.Equal(t, "alice", m.rows[0].label)
	assert.Equal(t, uint32(1), m.rows[0].code.Remaining)
	assert.Contains(t, m.View(), "alice")
	assert.Contains(t, m.View(), formatCode(m.rows[0].code.Value))
}

func TestTUI_EmptyPasswordIgnored(t *testing.T) {
	m := newTestTUI(t, tuiStore(t))
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, stateUnlock, m.state)
	assert.Nil(t, cmd)
}

func TestTUI_TickRefreshesCodes(t *testing.T) {
	m := newTestTUI(t, tuiStore(t, "alice"))
	m = unlockTUI(t, m, "pw")
	defer m.h.Discard()
	first := m.rows[0].code

	m.now = func() time.Time { return tuiNow.Add(time.Second) }
	m, cmd := press(t, m, tickMsg(tuiNow.Add(time.Second)))
	assert.NotNil(t, cmd)
	assert.NotEqual(t, first.Value, m.rows[0].code.Value)
	assert.Equal(t, uint32(30), m.rows[0].code.Remaining)
}

func TestTUI_Navigate(t *testing.T) {
	m := newTestTUI(t, tuiStore(t, "a", "b", "c"))
	m = unlockTUI(t, m, "pw")
	defer m.h.Discard()

	m, _ = press(t, m, runes("j"), runes("j"), runes("j"))
	assert.Equal(t, 2, m.cursor)
	m, _ = press(t, m, runes("k"))
	assert.Equal(t, 1, m.cursor)

	// Moving reorders and saves.
	m, _ = press(t, m, runes("K"))
	assert.Equal(t, 0, m.cursor)
	assert.Equal(t, []string{"b", "a", "c"}, labels(m.rows))
	assert.False(t, m.h.Dirty())

	m, _ = press(t, m, runes("J"), runes("J"))
	assert.Equal(t, []string{"a", "c", "b"}, labels(m.rows))
	assert.Equal(t, 2, m.cursor)

	m, cmd := press(t, m, runes("q"))
	assert.Equal(t, tea.Quit(), cmd())
}

func labels(rows []row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.label
	}
	return out
}

func TestTUI_Copy(t *testing.T) {
	clip := useFakeClipboard(t)
	m := newTestTUI(t, tuiStore(t, "alice"))
	m = unlockTUI(t, m, "pw")
	defer m.h.Discard()

	m, _ = press(t, m, runes("c"))
	assert.Equal(t, m.rows[0].code.Value, clip.get())
	assert.Contains(t, m.View(), "Code copied!")
}

func TestTUI_Delete(t *testing.T) {
	m := newTestTUI(t, tuiStore(t, "alice", "bob"))
	m = unlockTUI(t, m, "pw")
	defer m.h.Discard()

	m, _ = press(t, m, runes("d"))
	assert.Equal(t, stateConfirmDelete, m.state)
	assert.Contains(t, m.View(), "Delete GitHub (alice)?")

	m, _ = press(t, m, runes("n"))
	assert.Equal(t, stateList, m.state)
	assert.Len(t, m.rows, 2)

	m, _ = press(t, m, runes("j"), runes("d"), runes("y"))
	assert.Equal(t, stateList, m.state)
	assert.Equal(t, []string{"alice"}, labels(m.rows))
	assert.Equal(t, 0, m.cursor)
	assert.False(t, m.h.Dirty())
	assert.Contains(t, m.View(), "Deleted GitHub (bob)")
}

func typeField(t *testing.T, m tuiModel, value string) tuiModel {
	t.Helper()
	if value != "" {
		m, _ = press(t, m, runes(value))
	}
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	return m
}

func TestTUI_Add(t *testing.T) {
	m := newTestTUI(t, tuiStore(t))
	m = unlockTUI(t, m, "pw")
	defer m.h.Discard()
	assert.Contains(t, m.View(), "No accounts yet")

	m, _ = press(t, m, runes("a"))
	require.Equal(t, stateAdd, m.state)
	for _, v := range []string{"alice", "GitHub", githubSecret, "8", "", "SHA256"} {
		m = typeField(t, m, v)
	}
	require.NoError(t, m.err)
	assert.Equal(t, stateList, m.state)
	require.Len(t, m.rows, 1)
	assert.Len(t, m.rows[0].code.Value, 8)
	assert.False(t, m.h.Dirty())

	acc, err := m.h.Account(m.rows[0].id)
	require.NoError(t, err)
	assert.Equal(t, totp.SHA256, acc.Algorithm)
	assert.Equal(t, uint32(totp.DefaultPeriod), acc.Period)

	// A URI in the secret field wins over the other fields.
	m, _ = press(t, m, runes("a"))
	for _, v := range []string{"", "", "otpauth://totp/ACME:bob?secret=" + githubSecret, "", "", ""} {
		m = typeField(t, m, v)
	}
	require.NoError(t, m.err)
	assert.Equal(t, []string{"alice", "bob"}, labels(m.rows))
	assert.Equal(t, 1, m.cursor)
}

func TestTUI_AddInvalidStaysInForm(t *testing.T) {
	m := newTestTUI(t, tuiStore(t))
	m = unlockTUI(t, m, "pw")
	defer m.h.Discard()

	m, _ = press(t, m, runes("a"))
	for _, v := range []string{"alice", "", "not base32!", "", "", ""} {
		m = typeField(t, m, v)
	}
	assert.Equal(t, stateAdd, m.state)
	assert.Error(t, m.err)
	assert.Empty(t, m.rows)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, stateList, m.state)
	assert.Empty(t, m.form[fieldLabel].Value())
}

func TestTUI_QuitWhileUnlocking(t *testing.T) {
	m := newTestTUI(t, tuiStore(t, "alice"))
	m, _ = press(t, m, runes("pw"))
	m, unlock := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, stateUnlocking, m.state)

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd)
	assert.True(t, m.quitting)
	assert.Contains(t, m.View(), "Quitting after unlock finishes")

	m, cmd = press(t, m, unlock())
	require.NotNil(t, m.h)
	defer m.h.Discard()
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
