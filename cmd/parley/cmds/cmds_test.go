package cmds

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/history"
	"github.com/go-go-golems/parley/pkg/inference/engine"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/steps/ai/types"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEchoManager(t *testing.T) *session.Manager {
	t.Helper()
	mgr, err := session.New(engine.NewEchoEngine("echo: "), history.NewMemoryStore())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mgr.Close()
	})
	return mgr
}

func TestHandleLine_SendsMessage(t *testing.T) {
	mgr := newEchoManager(t)
	var out bytes.Buffer

	quit, err := handleLine(context.Background(), mgr, &out, "hello")
	require.NoError(t, err)
	assert.False(t, quit)

	conv := mgr.Conversation()
	require.Len(t, conv, 3)
	assert.Equal(t, turns.NewAssistantTurn("echo: hello"), conv[2])
}

func TestHandleLine_BlankLineIsIgnored(t *testing.T) {
	mgr := newEchoManager(t)
	quit, err := handleLine(context.Background(), mgr, &bytes.Buffer{}, "   ")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Len(t, mgr.Conversation(), 1)
}

func TestHandleLine_NewHistoryAndLoad(t *testing.T) {
	mgr := newEchoManager(t)
	ctx := context.Background()
	var out bytes.Buffer

	_, err := handleLine(ctx, mgr, &out, "first question")
	require.NoError(t, err)
	_, err = handleLine(ctx, mgr, &out, "/new")
	require.NoError(t, err)
	assert.Len(t, mgr.Conversation(), 1)
	require.Len(t, mgr.History(), 1)

	out.Reset()
	_, err = handleLine(ctx, mgr, &out, "/history")
	require.NoError(t, err)
	assert.Contains(t, out.String(), " 1. ")
	assert.Contains(t, out.String(), "first question")

	out.Reset()
	_, err = handleLine(ctx, mgr, &out, "/load 1")
	require.NoError(t, err)
	assert.Len(t, mgr.Conversation(), 3)
	assert.Contains(t, out.String(), "user> first question")
}

func TestHandleLine_Errors(t *testing.T) {
	mgr := newEchoManager(t)
	ctx := context.Background()

	_, err := handleLine(ctx, mgr, &bytes.Buffer{}, "/load 3")
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = handleLine(ctx, mgr, &bytes.Buffer{}, "/load missing-id")
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = handleLine(ctx, mgr, &bytes.Buffer{}, "/frobnicate")
	assert.Error(t, err)

	quit, err := handleLine(ctx, mgr, &bytes.Buffer{}, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestResolveConversationRef(t *testing.T) {
	list := []history.ArchivedConversation{{ID: "a"}, {ID: "b"}}

	id, err := resolveConversationRef(list, "2")
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	id, err = resolveConversationRef(list, "some-id")
	require.NoError(t, err)
	assert.Equal(t, "some-id", id)

	_, err = resolveConversationRef(list, "0")
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = resolveConversationRef(list, "")
	assert.Error(t, err)
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	printHistory(&out, nil)
	assert.Equal(t, "no archived conversations\n", out.String())

	out.Reset()
	long := strings.Repeat("word ", 30)
	printHistory(&out, []history.ArchivedConversation{{
		ID:        "c1",
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Messages: turns.Conversation{
			turns.Greeting(""),
			turns.NewUserTurn(long),
		},
	}})
	line := out.String()
	assert.Contains(t, line, "c1")
	assert.Contains(t, line, "...")
	assert.NotContains(t, line, "\n\n")
}

func TestStepSettingsFromViper(t *testing.T) {
	t.Cleanup(viper.Reset)

	file := filepath.Join(t.TempDir(), "ai.yaml")
	require.NoError(t, os.WriteFile(file, []byte("chat:\n  api_type: openai\n  engine: from-file\n"), 0o600))
	viper.Set("ai-settings-file", file)
	viper.Set("ai-max-response-tokens", 42)
	viper.Set("openai-api-key", "sk-test")

	s, err := StepSettingsFromViper()
	require.NoError(t, err)
	assert.Equal(t, types.ApiTypeOpenAI, *s.Chat.ApiType)
	assert.Equal(t, "from-file", *s.Chat.Engine)
	assert.Equal(t, 42, *s.Chat.MaxResponseTokens)
	assert.Equal(t, "sk-test", s.API.APIKey(types.ApiTypeOpenAI))
}

func TestNewEngine_FallsBackToEcho(t *testing.T) {
	t.Cleanup(viper.Reset)

	s, err := StepSettingsFromViper()
	require.NoError(t, err)
	e, err := NewEngine(s)
	require.NoError(t, err)

	reply, err := e.RunInference(context.Background(), turns.Conversation{turns.NewUserTurn("ping")})
	require.NoError(t, err)
	assert.Contains(t, reply.Content, "ping")
	// the caller's settings are left alone
	assert.Equal(t, types.ApiTypeGemini, *s.Chat.ApiType)
}

func TestStoreConfigFromViper(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("store-backend", "memory")
	cfg, err := StoreConfigFromViper()
	require.NoError(t, err)
	assert.Equal(t, history.BackendMemory, cfg.Backend)
	assert.Empty(t, cfg.Path)

	viper.Set("store-backend", "pebble")
	cfg, err = StoreConfigFromViper()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(cfg.Path, filepath.Join(".parley", "history.pebble")))

	viper.Set("store-backend", "sqlite")
	viper.Set("store-path", "/tmp/custom.db")
	cfg, err = StoreConfigFromViper()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.Path)
}

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("from file "), 0o600))

	text, err := readInputs(strings.NewReader("from stdin"), []string{a, "-"})
	require.NoError(t, err)
	assert.Equal(t, "from file from stdin", text)

	text, err = readInputs(strings.NewReader("only stdin"), nil)
	require.NoError(t, err)
	assert.Equal(t, "only stdin", text)

	_, err = readInputs(strings.NewReader(""), []string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func archivedFixture() []history.ArchivedConversation {
	return []history.ArchivedConversation{
		{
			ID:        "newer",
			CreatedAt: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
			Messages:  turns.Conversation{turns.Greeting(""), turns.NewUserTurn("second  question"), turns.NewAssistantTurn("answer")},
		},
		{
			ID:        "older",
			CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			Messages:  turns.Conversation{turns.Greeting(""), turns.NewUserTurn("first question")},
		},
	}
}

func TestHistoryRows(t *testing.T) {
	rows := historyRows(archivedFixture(), 0)
	require.Len(t, rows, 2)

	id, ok := rows[0].Get("id")
	require.True(t, ok)
	assert.Equal(t, "newer", id)
	n, _ := rows[0].Get("turns")
	assert.Equal(t, 3, n)
	p, _ := rows[0].Get("preview")
	assert.Equal(t, "second question", p)
	idx, _ := rows[1].Get("index")
	assert.Equal(t, 2, idx)

	rows = historyRows(archivedFixture(), 1)
	require.Len(t, rows, 1)
	id, _ = rows[0].Get("id")
	assert.Equal(t, "newer", id)

	assert.Empty(t, historyRows(nil, 5))
}

func TestWriteConversation(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeConversation(&out, archivedFixture(), "older"))
	assert.Contains(t, out.String(), "id: older")
	assert.Contains(t, out.String(), "first question")

	err := writeConversation(&bytes.Buffer{}, archivedFixture(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestTokensCount_ReadsStdin(t *testing.T) {
	c, err := NewTokensCountCommand()
	require.NoError(t, err)
	c.stdin = strings.NewReader("hello world")

	var out bytes.Buffer
	err = c.run(context.Background(), &TokensCountSettings{Codec: "cl100k_base"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Codec: cl100k_base\n")
	assert.Contains(t, out.String(), "Total tokens: ")
	assert.NotContains(t, out.String(), "Total tokens: 0\n")
}

func TestTokensCount_ArchivedConversation(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("store-backend", "sqlite")
	viper.Set("store-path", filepath.Join(t.TempDir(), "history.db"))
	viper.Set("user-id", "u1")

	cfg, err := StoreConfigFromViper()
	require.NoError(t, err)
	store, err := history.Open(cfg)
	require.NoError(t, err)
	saved, err := store.Append(context.Background(), "u1", archivedFixture()[0].Messages)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	c, err := NewTokensCountCommand()
	require.NoError(t, err)
	var out bytes.Buffer
	err = c.run(context.Background(), &TokensCountSettings{Codec: "cl100k_base", Conversation: saved.ID}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Turns: 3\n")

	err = c.run(context.Background(), &TokensCountSettings{Codec: "cl100k_base", Conversation: "missing"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestWriteEffectiveConfig_HidesAPIKeys(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("user-id", "u1")
	viper.Set("openai-api-key", "sk-secret")

	s, err := StepSettingsFromViper()
	require.NoError(t, err)
	store, err := StoreConfigFromViper()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, writeEffectiveConfig(&out, s, store))
	assert.Contains(t, out.String(), "user_id: u1")
	assert.NotContains(t, out.String(), "sk-secret")
}

func TestGlazedCommandsBuild(t *testing.T) {
	historyCmd := NewHistoryCommand()
	list, _, err := historyCmd.Find([]string{"list"})
	require.NoError(t, err)
	assert.Equal(t, "list", list.Name())
	assert.NotNil(t, list.Flags().Lookup("limit"))
	assert.NotNil(t, list.Flags().Lookup("output"))

	show, _, err := historyCmd.Find([]string{"show"})
	require.NoError(t, err)
	assert.Equal(t, "show", show.Name())

	count, _, err := NewTokensCommand().Find([]string{"count"})
	require.NoError(t, err)
	assert.NotNil(t, count.Flags().Lookup("codec"))
	assert.NotNil(t, count.Flags().Lookup("conversation"))

	_, _, err = NewConfigCommand().Find([]string{"show"})
	require.NoError(t, err)
}
