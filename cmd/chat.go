package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/orderguardian/internal/orchestrator"
	"github.com/orderguardian/internal/store"
)

// ChatCommand returns the interactive terminal session command
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with the orchestrator from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "conversation",
				Usage: "Resume the conversation with this id (default: a new one)",
			},
			&cli.StringFlag{
				Name:  "customer",
				Usage: "Customer id",
				Value: "CUST001",
			},
			&cli.StringFlag{
				Name:    "order",
				Aliases: []string{"o"},
				Usage:   "Order id the conversation is about",
			},
			&cli.StringFlag{
				Name:  "tier",
				Usage: "Customer tier passed as context (e.g. vip)",
			},
		},
		Action: runChat,
	}
}

const chatHelp = `Commands:
  /image PATH   attach an image to the next message
  /history      print the stored conversation
  /reset        forget this conversation and start a new one
  /quit         leave`

func runChat(c *cli.Context) error {
	cfg, logCloser, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	app, err := NewApp(c.Context, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	s := &chatSession{
		app:            app,
		out:            c.App.Writer,
		conversationID: c.String("conversation"),
		customerID:     c.String("customer"),
		orderID:        c.String("order"),
	}
	if s.conversationID == "" {
		s.conversationID = uuid.NewString()
	}
	if tier := c.String("tier"); tier != "" {
		s.context = map[string]any{"customer_tier": tier}
	}

	fmt.Fprintf(s.out, "Conversation %s. Type /help for commands.\n", s.conversationID)
	return s.run(c.Context, os.Stdin)
}

type chatSession struct {
	app            *App
	out            io.Writer
	conversationID string
	customerID     string
	orderID        string
	context        map[string]any
	image          []byte
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		res, err := s.app.Orchestrator.ProcessMessage(ctx, orchestrator.Turn{
			ConversationID: s.conversationID,
			CustomerID:     s.customerID,
			OrderID:        s.orderID,
			Message:        line,
			Context:        s.context,
			Image:          s.image,
		})
		s.image = nil
		s.context = nil
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(s.out, "%s> %s\n", res.Agent, res.Response)
		if res.TicketID != "" {
			fmt.Fprintf(s.out, "   [handoff ticket %s]\n", res.TicketID)
		}
	}
}

func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
	case "/image":
		data, err := os.ReadFile(strings.TrimSpace(arg))
		if err != nil {
			return false, err
		}
		s.image = data
		fmt.Fprintf(s.out, "attached %d bytes\n", len(data))
	case "/history":
		msgs, err := s.app.Manager.Messages(ctx, s.conversationID, 0)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintln(s.out, "(no messages yet)")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		for _, m := range msgs {
			who := string(m.Role)
			if m.AgentType != "" {
				who = string(m.AgentType)
			}
			fmt.Fprintf(s.out, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), who, m.Content)
		}
	case "/reset":
		if err := s.app.Manager.Clear(ctx, s.conversationID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		s.conversationID = uuid.NewString()
		fmt.Fprintf(s.out, "Conversation %s.\n", s.conversationID)
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}
