package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/parley/pkg/history"
	"github.com/go-go-golems/parley/pkg/metrics"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tiktoken-go/tokenizer"
)

func NewTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Estimate prompt sizes",
	}
	cmd.AddCommand(mustBuild(NewTokensCountCommand()))
	return cmd
}

type TokensCountSettings struct {
	Codec        string   `glazed.parameter:"codec"`
	Conversation string   `glazed.parameter:"conversation"`
	Files        []string `glazed.parameter:"files"`
}

type TokensCountCommand struct {
	*cmds.CommandDescription
	stdin io.Reader
}

var _ cmds.WriterCommand = (*TokensCountCommand)(nil)

func NewTokensCountCommand() (*TokensCountCommand, error) {
	return &TokensCountCommand{
		CommandDescription: cmds.NewCommandDescription(
			"count",
			cmds.WithShort("Count tokens in files, stdin or an archived conversation"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"codec",
					parameters.ParameterTypeChoice,
					parameters.WithHelp("Tokenizer encoding"),
					parameters.WithChoices([]string{
						string(tokenizer.Cl100kBase),
						string(tokenizer.P50kBase),
						string(tokenizer.P50kEdit),
						string(tokenizer.R50kBase),
					}...),
					parameters.WithDefault(string(metrics.DefaultEncoding)),
				),
				parameters.NewParameterDefinition(
					"conversation",
					parameters.ParameterTypeString,
					parameters.WithHelp("Count the archived conversation with this id instead of the input"),
					parameters.WithDefault(""),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"files",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("Files to count, - or nothing reads stdin"),
				),
			),
		),
		stdin: os.Stdin,
	}, nil
}

func (c *TokensCountCommand) RunIntoWriter(ctx context.Context, parsedLayers *layers.ParsedLayers, w io.Writer) error {
	s := &TokensCountSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "could not initialize settings")
	}
	return c.run(ctx, s, w)
}

func (c *TokensCountCommand) run(ctx context.Context, s *TokensCountSettings, w io.Writer) error {
	encoding := tokenizer.Encoding(s.Codec)
	collector, err := metrics.NewCollector("parley", metrics.WithEncoding(encoding))
	if err != nil {
		return err
	}

	if s.Conversation != "" {
		list, err := listHistory(ctx)
		if err != nil {
			return err
		}
		a, ok := history.Find(list, s.Conversation)
		if !ok {
			return errors.Wrapf(session.ErrNotFound, "conversation %s", s.Conversation)
		}
		_, err = fmt.Fprintf(w, "Codec: %s\nTurns: %d\nTotal tokens: %d\n",
			encoding, len(a.Messages), collector.CountTokens(a.Messages))
		return err
	}

	text, err := readInputs(c.stdin, s.Files)
	if err != nil {
		return err
	}
	n := collector.CountTokens(turns.Conversation{turns.NewUserTurn(text)})
	_, err = fmt.Fprintf(w, "Codec: %s\nTotal tokens: %d\n", encoding, n)
	return err
}

// readInputs concatenates the named files, or reads stdin when no file or "-" is given.
func readInputs(stdin io.Reader, paths []string) (string, error) {
	if len(paths) == 0 {
		paths = []string{"-"}
	}
	var sb strings.Builder
	for _, p := range paths {
		var data []byte
		var err error
		if p == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(p)
		}
		if err != nil {
			return "", errors.Wrapf(err, "could not read %s", p)
		}
		sb.Write(data)
	}
	return sb.String(), nil
}
