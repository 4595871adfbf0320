// ABOUTME: chat command: an interactive terminal conversation run entirely in-process
// ABOUTME: Each line is one turn; /state, /history and /new inspect or reset the session

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-concierge/internal/conversation"
	"github.com/2389/coven-concierge/internal/gateway"
	"github.com/2389/coven-concierge/internal/store"
)

func newChatCmd() *cobra.Command {
	var (
		userID    string
		sessionID string
		memory    bool
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent engine from the terminal",
		Long: `Starts (or with --session resumes) a conversation and runs one turn per
line of input. Uses the configured store and engine directly; no server is
needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if memory {
				cfg.Database.Driver = store.DriverMemory
			}
			if !verbose {
				cfg.Logging.Level = "warn"
			}
			logger := setupLogger(cfg.Logging, os.Stderr)

			if userID == "" {
				userID = cfg.App.DefaultUserID
			}
			if userID == "" {
				return errors.New("--user is required when app.default_user_id is not set")
			}

			sessions, err := store.Open(ctx, gateway.StoreOptions(cfg))
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer sessions.Close()

			engine, err := gateway.NewEngine(cfg.Engine, logger)
			if err != nil {
				return err
			}

			opts := []conversation.Option{conversation.WithAppName(cfg.App.Name)}
			if cfg.App.InitialState != nil {
				opts = append(opts, conversation.WithInitialState(cfg.App.InitialState))
			}
			c := &chat{
				svc:         conversation.New(sessions, engine, logger, opts...),
				out:         cmd.OutOrStdout(),
				turnTimeout: cfg.Server.TurnTimeout,
			}

			if err := c.open(ctx, userID, sessionID); err != nil {
				return err
			}

			fmt.Fprintf(c.out, "%s as %s, session %s\n", cfg.App.Name, userID, c.ref.SessionID)
			fmt.Fprintln(c.out, "Type a message and press Enter. /help for commands. Ctrl+C to quit.")
			fmt.Fprintln(c.out)

			if err := c.run(ctx, cmd.InOrStdin()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "\nGoodbye!")
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID (defaults to app.default_user_id)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session")
	cmd.Flags().BoolVar(&memory, "memory", false, "Keep sessions in memory only")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Log at the configured level instead of warn")

	return cmd
}

// chat is one interactive conversation.
type chat struct {
	svc         *conversation.Service
	ref         store.SessionRef
	out         io.Writer
	turnTimeout time.Duration
}

// open resumes sessionID, or starts a new session when it is empty.
func (c *chat) open(ctx context.Context, userID, sessionID string) error {
	if sessionID == "" {
		sess, err := c.svc.StartSession(ctx, userID)
		if err != nil {
			return err
		}
		c.ref = sess.Ref()
		return nil
	}

	ref := c.svc.Ref(userID, sessionID)
	if _, err := c.svc.Session(ctx, ref); err != nil {
		return fmt.Errorf("resuming session %s: %w", sessionID, err)
	}
	c.ref = ref
	return nil
}

// run reads lines from in until EOF, /quit, or ctx is done.
func (c *chat) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		fmt.Fprint(c.out, "> ")

		var input string
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errCh:
					if err != nil {
						return fmt.Errorf("reading input: %w", err)
					}
				default:
				}
				return nil
			}
			input = strings.TrimSpace(line)
		}

		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		c.handle(ctx, input)
		fmt.Fprintln(c.out)
	}
}

// handle runs a command or one turn. Errors are printed, not returned, so
// the conversation can continue.
func (c *chat) handle(ctx context.Context, input string) {
	var err error
	switch input {
	case "/help":
		c.printHelp()
	case "/state":
		err = c.printState(ctx)
	case "/history":
		err = c.printHistory(ctx)
	case "/new":
		var sess *store.Session
		sess, err = c.svc.StartSession(ctx, c.ref.UserID)
		if err == nil {
			c.ref = sess.Ref()
			fmt.Fprintf(c.out, "Started session %s\n", c.ref.SessionID)
		}
	default:
		err = c.turn(ctx, input)
	}
	if err != nil {
		fmt.Fprintf(c.out, "%s %v\n", color.RedString("[error]"), err)
	}
}

func (c *chat) turn(ctx context.Context, text string) error {
	if c.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.turnTimeout)
		defer cancel()
	}

	outcome, err := c.svc.HandleTurn(ctx, c.ref, text)
	if err != nil {
		return err
	}

	if outcome.Empty() {
		fmt.Fprintln(c.out, color.YellowString(conversation.NoResponseMessage))
		return nil
	}
	name := outcome.AgentName
	if name == "" {
		name = "agent"
	}
	fmt.Fprintf(c.out, "%s: %s\n", color.New(color.FgCyan, color.Bold).Sprint(name), outcome.Text)
	return nil
}

func (c *chat) printState(ctx context.Context) error {
	sess, err := c.svc.Session(ctx, c.ref)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("formatting state: %w", err)
	}
	fmt.Fprintf(c.out, "%s\n%s", color.HiBlackString("session "+sess.ID), data)
	return nil
}

func (c *chat) printHistory(ctx context.Context) error {
	records, err := c.svc.History(ctx, c.ref)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No messages yet.")
		return nil
	}
	for _, rec := range records {
		who := string(rec.Role)
		if rec.AgentName != "" {
			who = rec.AgentName
		}
		fmt.Fprintf(c.out, "%s %s: %s\n",
			color.HiBlackString(rec.Timestamp.Local().Format("15:04:05")),
			who, rec.Text)
	}
	return nil
}

func (c *chat) printHelp() {
	fmt.Fprintln(c.out, "Commands:")
	fmt.Fprintln(c.out, "  /state     Show the session state")
	fmt.Fprintln(c.out, "  /history   Show the interaction history")
	fmt.Fprintln(c.out, "  /new       Start a new session")
	fmt.Fprintln(c.out, "  /help      Show this help")
	fmt.Fprintln(c.out, "  /quit      Exit")
}
