package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Pao040883/bogdol-go-dev-sub000/internal/chat"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/client"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/config"
	"github.com/Pao040883/bogdol-go-dev-sub000/internal/presence"
	"github.com/Pao040883/bogdol-go-dev-sub000/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Debug {
		level = logger.LevelDebug
	}
	logger.SetLevel(level)

	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "help", "--help", "-h":
		printUsage()
		return nil
	case "version", "--version", "-v":
		fmt.Println("chatctl v1.0.0")
		return nil
	}

	token := os.Getenv("BOGDOL_TOKEN")
	if token == "" {
		return fmt.Errorf("BOGDOL_TOKEN is not set")
	}
	userID, err := strconv.ParseInt(os.Getenv("BOGDOL_USER_ID"), 10, 64)
	if err != nil {
		return fmt.Errorf("BOGDOL_USER_ID is not set or invalid")
	}
	username := os.Getenv("BOGDOL_USERNAME")
	if username == "" {
		return fmt.Errorf("BOGDOL_USERNAME is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := client.Login(ctx, cfg, token, userID, username)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer session.Logout()

	switch args[0] {
	case "chat":
		if len(args) < 2 {
			return fmt.Errorf("usage: chatctl chat <conversation-id>")
		}
		conversationID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[1])
		}
		return chatCommand(ctx, session, conversationID)
	case "status":
		if len(args) < 2 {
			return fmt.Errorf("usage: chatctl status <online|away|busy> [message]")
		}
		message := strings.Join(args[2:], " ")
		return session.Presence().UpdateOwnStatus(args[1], message)
	case "who":
		return whoCommand(ctx, session)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// chatCommand opens one conversation and bridges it to the terminal: inbound
// messages print as they arrive, stdin lines are sent, "/quit" exits.
func chatCommand(ctx context.Context, session *client.Session, conversationID int64) error {
	controller, err := session.OpenConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to open conversation %d: %w", conversationID, err)
	}

	printed := make(map[int64]bool)
	printMessages := func(snap chat.Snapshot) {
		for _, msg := range snap.Messages {
			if printed[msg.ID] || msg.Pending {
				continue
			}
			printed[msg.ID] = true
			body := msg.Content
			if msg.IsDeleted {
				body = "(deleted)"
			}
			fmt.Printf("[%s] %s: %s\n", msg.SentAt.Format("15:04"), msg.SenderName, body)
		}
	}
	printMessages(controller.Snapshot())
	removeObserver := controller.OnChange(printMessages)
	defer removeObserver()

	removeNotify := session.OnNotification(func(n client.Notification) {
		fmt.Printf("* %s in conversation %d: %s\n", n.SenderName, n.ConversationID, n.Preview)
	})
	defer removeNotify()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := controller.Send(line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
}

// whoCommand prints the current presence roster once.
func whoCommand(ctx context.Context, session *client.Session) error {
	roster := make(chan presence.Snapshot, 1)
	remove := session.Presence().OnChange(func(snap presence.Snapshot) {
		select {
		case roster <- snap:
		default:
		}
	})
	defer remove()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case snap := <-roster:
		if len(snap.Users) == 0 {
			fmt.Println("Nobody is online.")
			return nil
		}
		for _, user := range snap.Users {
			line := fmt.Sprintf("%-20s %s", user.Username, user.Status)
			if user.StatusMessage != "" {
				line += "  (" + user.StatusMessage + ")"
			}
			fmt.Println(line)
		}
		return nil
	}
}

func printUsage() {
	fmt.Println(`chatctl - Bogdol intranet chat client

Usage:
  chatctl chat <conversation-id>      Open a conversation in the terminal
  chatctl status <status> [message]   Update own presence status
  chatctl who                         Show who is online
  chatctl version                     Print version

Environment:
  BOGDOL_TOKEN      Access token (required)
  BOGDOL_USER_ID    Numeric user id (required)
  BOGDOL_USERNAME   Username (required)
  BOGDOL_SERVER_URL Backend base URL (default http://localhost:8000)
  BOGDOL_HOME_DIR   State directory (default ~/.bogdol)
  BOGDOL_LOG_LEVEL  Log level (debug|info|warn|error)`)
}
