package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/client"

	"github.com/urfave/cli/v2"
)

// ChatCommand returns a line-oriented terminal client.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Usage: "Server base URL",
				Value: "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:     "token",
				Usage:    "Bearer token",
				EnvVars:  []string{"CHAT_TOKEN"},
				Required: true,
			},
			&cli.StringFlag{
				Name:  "peer",
				Usage: "Open the conversation with this user on start",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log connection details to stderr",
			},
		},
		Action: runChat,
	}
}

func runChat(c *cli.Context) error {
	base := strings.TrimRight(c.String("server"), "/")
	logOut := io.Discard
	if c.Bool("verbose") {
		logOut = os.Stderr
	}
	sess, err := client.NewSession(client.SessionOptions{
		HTTPURL: base,
		WSURL:   "ws" + strings.TrimPrefix(base, "http") + "/ws",
		Token:   c.String("token"),
		Logger:  slog.New(slog.NewTextHandler(logOut, nil)),
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	out := c.App.Writer
	t := &terminal{sess: sess, out: out}
	sess.Controller.States.Subscribe(func(s client.State) {
		fmt.Fprintf(out, "* %s\n", s)
	})
	sess.Typing.Events.Subscribe(func(e client.TypingEvent) {
		if e.IsTyping && e.UserID == t.currentPeer() {
			fmt.Fprintf(out, "* %s is typing...\n", e.UserID)
		}
	})
	sess.Reconciler.Changes.Subscribe(t.onChange)

	if err := sess.Start(c.Context); err != nil {
		return err
	}
	t.printConversations()
	if peer := c.String("peer"); peer != "" {
		if err := t.open(c, peer); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "commands: /open <user>, /more, /list, /retry <temp id>, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			peer := t.currentPeer()
			if peer == "" {
				fmt.Fprintln(out, "! open a conversation first")
				continue
			}
			if _, err := sess.Send(peer, line); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit":
			return nil
		case "/list":
			t.printConversations()
		case "/open":
			if err := t.open(c, strings.TrimSpace(arg)); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		case "/more":
			peer := t.currentPeer()
			if peer == "" {
				continue
			}
			_, n, err := sess.LoadMore(c.Context, peer, 0)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			fmt.Fprintf(out, "* loaded %d older messages\n", n)
			t.printMessages()
		case "/retry":
			if err := sess.Retry(strings.TrimSpace(arg)); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		default:
			fmt.Fprintf(out, "! unknown command %s\n", cmd)
		}
	}
	return scanner.Err()
}

type terminal struct {
	sess *client.Session
	out  io.Writer

	mu      sync.Mutex
	peer    string
	printed map[string]string
}

func (t *terminal) currentPeer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peer
}

func (t *terminal) open(c *cli.Context, peer string) error {
	if peer == "" {
		return fmt.Errorf("usage: /open <user>")
	}
	t.sess.CloseChat()
	t.mu.Lock()
	t.peer = peer
	t.printed = make(map[string]string)
	t.mu.Unlock()
	if err := t.sess.Open(c.Context, peer); err != nil {
		return err
	}
	t.printMessages()
	return nil
}

// onChange prints entries of the open conversation whose rendering changed.
func (t *terminal) onChange(ch client.Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer == "" || ch.ConversationID == "" {
		return
	}
	for _, e := range t.sess.Reconciler.Messages(t.peer) {
		line := t.render(e)
		if t.printed[e.Message.ID] == line {
			continue
		}
		t.printed[e.Message.ID] = line
		fmt.Fprintln(t.out, line)
	}
}

func (t *terminal) printMessages() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.sess.Reconciler.Messages(t.peer) {
		line := t.render(e)
		t.printed[e.Message.ID] = line
		fmt.Fprintln(t.out, line)
	}
}

func (t *terminal) printConversations() {
	for _, conv := range t.sess.Reconciler.Conversations() {
		mark := " "
		if t.sess.Reconciler.PresenceOf(conv.Peer.ID) {
			mark = "●"
		}
		fmt.Fprintf(t.out, "%s %-20s (%s) unread=%d  %s\n",
			mark, conv.Peer.Name, conv.Peer.ID, conv.UnreadCount, conv.LastMessage)
	}
}

func (t *terminal) render(e client.Entry) string {
	m := e.Message
	status := ""
	switch d := e.Delivery.(type) {
	case client.Pending:
		status = " …"
	case client.Failed:
		status = fmt.Sprintf(" ! %s (/retry %s)", d.Reason, d.TempID)
	case client.Confirmed:
		if m.From == t.sess.Self() {
			status = " ✓"
			if m.Seen {
				status = " ✓✓"
			}
		}
	}
	ts := time.UnixMilli(m.Timestamp).Format("15:04")
	return fmt.Sprintf("[%s] %s: %s%s", ts, m.From, m.Text, status)
}
