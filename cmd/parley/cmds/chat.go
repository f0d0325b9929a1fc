package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/history"
	"github.com/go-go-golems/parley/pkg/metrics"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const sessionTopic = "session"

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session.

Type a message and press enter to send it. Commands:
  /new            archive the conversation and start a new one
  /history        list archived conversations, newest first
  /load <n|id>    continue an archived conversation
  /quit           leave`,
		RunE: runChat,
	}
	cmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	cmd.Flags().Bool("print-raw-events", false, "Print session events as JSON to stderr")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	stepSettings, err := StepSettingsFromViper()
	if err != nil {
		return err
	}
	eng, err := NewEngine(stepSettings)
	if err != nil {
		return err
	}

	store, err := OpenLiveStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	collector, err := metrics.NewCollector("parley")
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter(events.WithOutput(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()

	out := cmd.OutOrStdout()
	renderer := &chatRenderer{out: out}
	router.AddHandler("chat-renderer", sessionTopic, events.NewSessionDispatchHandler(renderer))
	if viper.GetBool("print-raw-events") {
		router.AddHandler("raw-events", sessionTopic, router.DumpRawEvents)
	}

	options := append(SessionOptionsFromViper(),
		session.WithSink(events.NewWatermillSink(router.Publisher, sessionTopic)),
		session.WithMetrics(collector),
	)
	if stepSettings.Chat.Timeout != nil {
		options = append(options, session.WithCompletionTimeout(*stepSettings.Chat.Timeout))
	}
	mgr, err := session.New(eng, store, options...)
	if err != nil {
		return err
	}
	defer func() {
		_ = mgr.Close()
	}()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	select {
	case <-router.Running():
	case <-ctx.Done():
		return eg.Wait()
	}

	if addr := viper.GetString("metrics-addr"); addr != "" {
		startMetricsServer(ctx, eg, addr, collector)
	}

	_, err = mgr.SubscribeHistory(ctx, nil, func(err error) {
		_, _ = fmt.Fprintf(out, "! history feed stopped: %v\n", err)
	})
	if err != nil {
		log.Warn().Err(err).Msg("history updates disabled")
	}

	eg.Go(func() error {
		defer stop()
		return runRepl(ctx, mgr, cmd.InOrStdin(), out, renderer)
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func startMetricsServer(ctx context.Context, eg *errgroup.Group, addr string, collector *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	eg.Go(func() error {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "metrics server")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func runRepl(ctx context.Context, mgr *session.Manager, in io.Reader, out io.Writer, r *chatRenderer) error {
	printConversation(out, mgr.Conversation())
	printSuggestions(out, mgr.Suggestions())

	// the scanner blocks on stdin, so it feeds the loop from its own goroutine
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		r.prompt()
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		quit, err := handleLine(ctx, mgr, out, line)
		if err != nil {
			_, _ = fmt.Fprintf(out, "! %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handleLine runs one REPL command or sends the line as a message.
func handleLine(ctx context.Context, mgr *session.Manager, out io.Writer, line string) (bool, error) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "/quit" || trimmed == "/exit":
		return true, nil

	case trimmed == "/new":
		if err := mgr.StartNewSession(ctx); err != nil {
			return false, err
		}
		printConversation(out, mgr.Conversation())
		printSuggestions(out, mgr.Suggestions())
		return false, nil

	case trimmed == "/history":
		printHistory(out, mgr.History())
		return false, nil

	case strings.HasPrefix(trimmed, "/load"):
		ref := strings.TrimSpace(strings.TrimPrefix(trimmed, "/load"))
		id, err := resolveConversationRef(mgr.History(), ref)
		if err != nil {
			return false, err
		}
		if err := mgr.LoadSession(id); err != nil {
			return false, err
		}
		printConversation(out, mgr.Conversation())
		return false, nil

	case strings.HasPrefix(trimmed, "/"):
		return false, errors.Errorf("unknown command %s", trimmed)
	}

	_, err := mgr.SendMessage(ctx, line)
	if errors.Is(err, session.ErrCompletionFailed) {
		// already reported by the renderer
		return false, nil
	}
	return false, err
}

// resolveConversationRef accepts a 1-based index into the listing or an id.
func resolveConversationRef(list []history.ArchivedConversation, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("usage: /load <index|id>")
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(list) {
			return "", errors.Wrapf(session.ErrNotFound, "no conversation #%d", n)
		}
		return list[n-1].ID, nil
	}
	return ref, nil
}

// chatRenderer prints assistant replies and the pending indicator as session
// events arrive from the router.
type chatRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

var _ events.SessionEventHandler = (*chatRenderer)(nil)

func (c *chatRenderer) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *chatRenderer) prompt() {
	c.printf("you> ")
}

func (c *chatRenderer) HandleTurnAppended(_ context.Context, e events.Event) error {
	if e.Turn != nil && e.Turn.Role == turns.RoleAssistant {
		c.printf("assistant> %s\n", e.Turn.Content)
	}
	return nil
}

func (c *chatRenderer) HandlePendingChanged(_ context.Context, e events.Event) error {
	if e.Pending {
		c.printf("assistant is typing...\n")
	}
	return nil
}

func (c *chatRenderer) HandleCompletionFailed(_ context.Context, e events.Event) error {
	c.printf("! could not get a reply: %s\n", e.Error)
	return nil
}

func (c *chatRenderer) HandleSessionChanged(_ context.Context, e events.Event) error {
	switch e.Type {
	case events.EventTypeArchived:
		c.printf("-- conversation archived (%s)\n", e.ConversationID)
	case events.EventTypeArchiveFailed:
		c.printf("! could not archive conversation: %s\n", e.Error)
	case events.EventTypeSessionReset:
		c.printf("-- new conversation\n")
	case events.EventTypeSessionLoaded:
		c.printf("-- loaded conversation %s\n", e.ConversationID)
	}
	return nil
}

func (c *chatRenderer) HandleHistoryUpdated(_ context.Context, e events.Event) error {
	log.Debug().Int("size", e.HistorySize).Msg("history updated")
	return nil
}

func printConversation(out io.Writer, conv turns.Conversation) {
	for _, t := range conv {
		_, _ = fmt.Fprintf(out, "%s> %s\n", t.Role, t.Content)
	}
}

func printSuggestions(out io.Writer, suggestions []session.Suggestion) {
	if len(suggestions) == 0 {
		return
	}
	parts := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		parts = append(parts, s.Icon+" "+s.Text)
	}
	_, _ = fmt.Fprintf(out, "try: %s\n", strings.Join(parts, " | "))
}
