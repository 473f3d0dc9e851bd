// Command chatcli is a terminal client for chatsync built on the sync engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ageniuscoder/chatsync/internal/logging"
	"github.com/ageniuscoder/chatsync/internal/models"
	"github.com/ageniuscoder/chatsync/internal/syncengine"
	"github.com/peterh/liner"
)

const help = `commands:
  /list                         list conversations
  /open <id>                    open a conversation
  /new private <user_id>        start a private conversation
  /new group <name> <ids...>    start a group conversation
  /attach <path> [text]         send a file
  /edit <message_id> <text>     edit one of your messages
  /delete <message_id>          delete one of your messages
  /read                         mark the open conversation read
  /typing                       signal that you are typing
  /who                          show who is online and typing
  /quit
anything else is sent as a message`

type cli struct {
	api    *syncengine.Client
	engine *syncengine.Engine
	typer  *syncengine.Typer
	me     models.User

	mu      sync.Mutex
	printed map[int64]bool
}

func main() {
	base := flag.String("url", "http://localhost:8080", "server base URL")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	name := flag.String("register", "", "register a new account with this display name")
	open := flag.Int64("conversation", 0, "conversation to open on start")
	verbose := flag.Bool("v", false, "log realtime diagnostics")
	flag.Parse()

	level := "error"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(os.Stderr, level, "text")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	anon := syncengine.NewClient(*base, syncengine.Session{})
	var (
		res syncengine.AuthResult
		err error
	)
	if *name != "" {
		res, err = anon.Register(ctx, *name, *email, *password)
	} else {
		res, err = anon.Login(ctx, *email, *password)
	}
	if err != nil {
		log.Fatalf("sign in: %v", err)
	}
	logger.Info("signed in", "user", res.User.ID, "expires_at", res.Session.ExpiresAt)

	c := &cli{
		api:     syncengine.NewClient(*base, res.Session),
		me:      res.User,
		printed: make(map[int64]bool),
	}
	rt := syncengine.NewRealtime(syncengine.WebsocketURL(*base), res.Session.Token, logger)
	c.api.SocketID = rt.SocketID
	c.engine = syncengine.New(c.api, rt, syncengine.Options{
		UserID:   res.User.ID,
		Logger:   logger,
		OnChange: c.render,
	})
	c.typer = syncengine.NewTyper(func(isTyping bool) { c.engine.SetTyping(ctx, isTyping) })
	rt.OnFrame = c.engine.HandleFrame
	rt.OnConnect = func(ctx context.Context) {
		if err := c.engine.Resync(ctx); err != nil {
			logger.Warn("resync", "err", err)
		}
	}
	go rt.Run(ctx)

	fmt.Printf("signed in as %s (#%d)\n", c.me.Name, c.me.ID)
	if *open != 0 {
		c.open(ctx, *open)
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	history := filepath.Join(os.TempDir(), "chatcli_history")
	if f, err := os.Open(history); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(history, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt(c.prompt())
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println()
			}
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !strings.HasPrefix(input, "/") {
			c.send(ctx, input, nil)
			continue
		}
		if !c.command(ctx, input) {
			c.engine.Close()
			return
		}
	}
}

func (c *cli) prompt() string {
	if id := c.engine.Snapshot().Conversation.ID; id != 0 {
		return fmt.Sprintf("#%d> ", id)
	}
	return "> "
}

func (c *cli) command(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	args := fields[1:]
	rest := func(n int) string {
		parts := strings.SplitN(input, " ", n+1)
		if len(parts) <= n {
			return ""
		}
		return strings.TrimSpace(parts[n])
	}

	var err error
	switch fields[0] {
	case "/quit", "/exit":
		return false
	case "/help":
		fmt.Println(help)
	case "/list":
		err = c.list(ctx)
	case "/open":
		var id int64
		if id, err = argID(args, 0); err == nil {
			c.open(ctx, id)
		}
	case "/new":
		err = c.create(ctx, args)
	case "/attach":
		if len(args) == 0 {
			err = errors.New("usage: /attach <path> [text]")
			break
		}
		var f *os.File
		if f, err = os.Open(args[0]); err == nil {
			c.send(ctx, rest(2), []syncengine.Attachment{{Name: filepath.Base(args[0]), Data: f}})
			f.Close()
		}
	case "/edit":
		var id int64
		if id, err = argID(args, 0); err == nil {
			_, err = c.engine.UpdateMessage(ctx, id, rest(2))
		}
	case "/delete":
		var id int64
		if id, err = argID(args, 0); err == nil {
			err = c.engine.DeleteMessage(ctx, id)
		}
	case "/read":
		err = c.engine.MarkRead(ctx)
	case "/typing":
		c.typer.Keystroke()
	case "/who":
		c.who()
	default:
		err = fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
	}
	return true
}

func argID(args []string, i int) (int64, error) {
	if len(args) <= i {
		return 0, errors.New("missing id")
	}
	return strconv.ParseInt(args[i], 10, 64)
}

func (c *cli) list(ctx context.Context) error {
	convs, err := c.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		title := conv.Name
		if conv.Type == models.TypePrivate {
			for _, p := range conv.Participants {
				if p.UserID != c.me.ID && p.User != nil {
					title = p.User.Name
				}
			}
		}
		latest := ""
		if m := conv.LatestMessage; m != nil && m.Content != nil {
			latest = ": " + *m.Content
		}
		fmt.Printf("#%d %s [%s]%s\n", conv.ID, title, conv.Type, latest)
	}
	return nil
}

func (c *cli) create(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: /new private <user_id> | /new group <name> <ids...>")
	}
	typ, name, raw := args[0], "", args[1:]
	if typ == models.TypeGroup {
		name, raw = args[1], args[2:]
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	conv, err := c.api.CreateConversation(ctx, typ, name, ids)
	if err != nil {
		return err
	}
	c.open(ctx, conv.ID)
	return nil
}

func (c *cli) open(ctx context.Context, id int64) {
	c.mu.Lock()
	clear(c.printed)
	c.mu.Unlock()
	if _, err := c.engine.Open(ctx, id); err != nil {
		fmt.Fprintf(os.Stderr, "[error] open #%d: %v\n", id, err)
	}
}

func (c *cli) send(ctx context.Context, text string, attachments []syncengine.Attachment) {
	c.typer.Stop()
	if _, err := c.engine.SendMessage(ctx, text, attachments); err != nil {
		fmt.Fprintf(os.Stderr, "[error] send: %v\n", err)
	}
}

func (c *cli) who() {
	snap := c.engine.Snapshot()
	names := make(map[int64]string)
	online := make([]string, 0, len(snap.Online))
	for _, m := range snap.Online {
		names[m.ID] = m.Name
		online = append(online, m.Name)
	}
	fmt.Printf("online: %s\n", strings.Join(online, ", "))
	if len(snap.Typing) > 0 {
		typing := make([]string, 0, len(snap.Typing))
		for _, id := range snap.Typing {
			if n, ok := names[id]; ok {
				typing = append(typing, n)
			} else {
				typing = append(typing, "#"+strconv.FormatInt(id, 10))
			}
		}
		fmt.Printf("typing: %s\n", strings.Join(typing, ", "))
	}
}

// render prints confirmed messages not shown yet.
func (c *cli) render(s syncengine.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range s.Messages {
		if m.Pending || c.printed[m.ID] {
			continue
		}
		c.printed[m.ID] = true
		fmt.Print(formatMessage(m))
	}
}

func formatMessage(m syncengine.LocalMessage) string {
	var b strings.Builder
	who := "#" + strconv.FormatInt(m.UserID, 10)
	if m.User != nil {
		who = m.User.Name
	}
	fmt.Fprintf(&b, "\r[%s] %s (%d)", m.CreatedAt.Local().Format(time.Kitchen), who, m.ID)
	if m.Content != nil {
		b.WriteString(": " + *m.Content)
	}
	for _, a := range m.Attachments {
		b.WriteString(" <" + a + ">")
	}
	if m.ReadAt != nil {
		b.WriteString(" ✓")
	}
	b.WriteString("\n")
	return b.String()
}
