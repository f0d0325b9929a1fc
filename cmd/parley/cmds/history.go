package cmds

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/parley/pkg/history"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const previewLength = 60

func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect archived conversations",
	}
	cmd.AddCommand(mustBuild(NewHistoryListCommand()))
	cmd.AddCommand(mustBuild(NewHistoryShowCommand()))
	return cmd
}

type HistoryListSettings struct {
	Limit int `glazed.parameter:"limit"`
}

type HistoryListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*HistoryListCommand)(nil)

func NewHistoryListCommand() (*HistoryListCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed parameter layer")
	}

	return &HistoryListCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List archived conversations, newest first"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"limit",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Only list the newest n conversations, 0 lists all"),
					parameters.WithDefault(0),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *HistoryListCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &HistoryListSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "could not initialize settings")
	}

	list, err := listHistory(ctx)
	if err != nil {
		return err
	}
	for _, row := range historyRows(list, s.Limit) {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func historyRows(list []history.ArchivedConversation, limit int) []types.Row {
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	rows := make([]types.Row, 0, len(list))
	for i, a := range list {
		rows = append(rows, types.NewRow(
			types.MRP("index", i+1),
			types.MRP("id", a.ID),
			types.MRP("created_at", a.CreatedAt.Local().Format(time.RFC3339)),
			types.MRP("turns", len(a.Messages)),
			types.MRP("preview", preview(a)),
		))
	}
	return rows
}

type HistoryShowSettings struct {
	ID string `glazed.parameter:"id"`
}

type HistoryShowCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*HistoryShowCommand)(nil)

func NewHistoryShowCommand() (*HistoryShowCommand, error) {
	return &HistoryShowCommand{
		CommandDescription: cmds.NewCommandDescription(
			"show",
			cmds.WithShort("Print an archived conversation as YAML"),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"id",
					parameters.ParameterTypeString,
					parameters.WithHelp("Conversation id, as printed by history list"),
					parameters.WithRequired(true),
				),
			),
		),
	}, nil
}

func (c *HistoryShowCommand) RunIntoWriter(ctx context.Context, parsedLayers *layers.ParsedLayers, w io.Writer) error {
	s := &HistoryShowSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "could not initialize settings")
	}
	list, err := listHistory(ctx)
	if err != nil {
		return err
	}
	return writeConversation(w, list, s.ID)
}

func writeConversation(w io.Writer, list []history.ArchivedConversation, id string) error {
	a, ok := history.Find(list, id)
	if !ok {
		return errors.Wrapf(session.ErrNotFound, "conversation %s", id)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(a); err != nil {
		return err
	}
	return enc.Close()
}

func listHistory(ctx context.Context) ([]history.ArchivedConversation, error) {
	cfg, err := StoreConfigFromViper()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = store.Close()
	}()
	return store.List(ctx, viper.GetString("user-id"))
}

// printHistory is the compact listing used by the chat REPL.
func printHistory(out io.Writer, list []history.ArchivedConversation) {
	if len(list) == 0 {
		_, _ = fmt.Fprintln(out, "no archived conversations")
		return
	}
	for i, a := range list {
		_, _ = fmt.Fprintf(out, "%2d. %s  %s  %s\n",
			i+1, a.CreatedAt.Local().Format("2006-01-02 15:04"), a.ID, preview(a))
	}
}

// preview is the first user message of a conversation, shortened to one line.
func preview(a history.ArchivedConversation) string {
	text := ""
	for _, t := range a.Messages {
		if t.Role == turns.RoleUser {
			text = t.Content
			break
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > previewLength {
		text = string(r[:previewLength-3]) + "..."
	}
	return text
}
