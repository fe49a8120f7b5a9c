package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kasuganosora/tovplay/app"
	"github.com/kasuganosora/tovplay/community"
	"github.com/kasuganosora/tovplay/config"
	"github.com/kasuganosora/tovplay/gateway"
	"github.com/kasuganosora/tovplay/profile"
	"github.com/kasuganosora/tovplay/relationship"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const usage = `usage: tovplay [flags] <command> [args]

commands:
  login <email> <password>     sign in and remember the session
  logout                       forget the session
  whoami                       print the signed-in username
  profile [username]           show a profile and the available actions
  add <username> [message]     send a friend request
  cancel <username>            cancel a sent friend request
  accept <username>            accept a received friend request
  decline <username>           decline a received friend request
  block <username> [reason]    block a user
  unblock <username>           unblock a user
  friends                      list friends
  requests                     list received friend requests
  times <username>             show overlapping availability
  notifications [--mark-read]  list notifications
  community [--join]           check Discord community membership
  watch                        stream notifications until interrupted

flags:
`

type cli struct {
	app    *app.App
	stdout io.Writer
	stderr io.Writer
}

type command func(ctx context.Context, c *cli, args []string) error

var commands = map[string]command{
	"login":         cmdLogin,
	"logout":        cmdLogout,
	"whoami":        cmdWhoami,
	"profile":       cmdProfile,
	"add":           cmdRelationship,
	"cancel":        cmdRelationship,
	"accept":        cmdRelationship,
	"decline":       cmdRelationship,
	"block":         cmdRelationship,
	"unblock":       cmdRelationship,
	"friends":       cmdFriends,
	"requests":      cmdRequests,
	"times":         cmdTimes,
	"notifications": cmdNotifications,
	"community":     cmdCommunity,
	"watch":         cmdWatch,
}

var errUsage = errors.New("usage")

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tovplay", "session.db")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("tovplay", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	cfgPath := fs.StringP("config", "c", "", "YAML config file")
	apiURL := fs.String("api", "", "API server root, overrides api.base_url")
	wsURL := fs.String("realtime", "", "websocket server root, overrides realtime.url")
	sessionDB := fs.String("session-db", "", "SQLite file holding the session")
	debug := fs.Bool("debug", false, "verbose logging")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	name, rest := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *apiURL != "" {
		cfg.API.BaseURL = *apiURL
	}
	if *wsURL != "" {
		cfg.Realtime.URL = *wsURL
	}
	if *sessionDB != "" {
		cfg.Session.SQLitePath = *sessionDB
	}
	if cfg.Session.RedisAddr == "" && cfg.Session.SQLitePath == "" {
		cfg.Session.SQLitePath = defaultSessionPath()
	}
	if name != "watch" {
		cfg.Realtime.URL = ""
		cfg.Notifications.SyncInterval = 0
	}
	logger, err := newLogger(*debug || cfg.Log.Debug)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	a, err := app.New(app.Options{Config: cfg, Logger: logger})
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer a.Close()

	c := &cli{app: a, stdout: stdout, stderr: stderr}
	err = cmd(ctx, c, append([]string{name}, rest...))
	c.flushToasts()
	switch {
	case errors.Is(err, errUsage):
		fs.Usage()
		return 2
	case errors.Is(err, app.ErrNotSignedIn):
		fmt.Fprintln(stderr, "not signed in, run: tovplay login <email> <password>")
		return 1
	case err != nil:
		fmt.Fprintf(stderr, "error: %s\n", gateway.Message(err))
		return 1
	}
	return 0
}

func (c *cli) flushToasts() {
	for _, t := range c.app.Toasts().Drain() {
		fmt.Fprintf(c.stderr, "[%s] %s\n", t.Level, t.Message)
	}
}

func cmdLogin(ctx context.Context, c *cli, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	p, err := c.app.Login(ctx, args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "signed in as %s\n", p.Username)
	return nil
}

func cmdLogout(ctx context.Context, c *cli, _ []string) error {
	if err := c.app.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "signed out")
	return nil
}

func cmdWhoami(ctx context.Context, c *cli, _ []string) error {
	name, err := c.app.Viewer(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, name)
	return nil
}

func cmdProfile(ctx context.Context, c *cli, args []string) error {
	username := ""
	if len(args) > 1 {
		username = args[1]
	}
	v, err := c.app.OpenProfile(ctx, username)
	if err != nil {
		return err
	}
	defer c.app.CloseProfile(v)
	renderProfile(c.stdout, v.Profile(), v.Own(), v.Relationship(), v.Actions())
	return nil
}

func cmdRelationship(ctx context.Context, c *cli, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	v, err := c.app.OpenProfile(ctx, args[1])
	if err != nil {
		return err
	}
	defer c.app.CloseProfile(v)
	extra := strings.Join(args[2:], " ")
	switch args[0] {
	case "add":
		err = v.AddFriend(ctx, extra)
	case "cancel":
		err = v.CancelRequest(ctx)
	case "accept":
		err = v.AcceptRequest(ctx)
	case "decline":
		err = v.DeclineRequest(ctx)
	case "block":
		err = v.Block(ctx, extra)
	case "unblock":
		err = v.Unblock(ctx)
	}
	if err != nil {
		return err
	}
	renderRelationship(c.stdout, v.Relationship(), v.Actions())
	return nil
}

func cmdFriends(ctx context.Context, c *cli, _ []string) error {
	friends, err := c.app.API().Friends(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, f := range friends {
		status := "offline"
		if f.Online(now) {
			status = "online"
		}
		fmt.Fprintf(c.stdout, "%-20s %-7s %s\n", f.Username, status, strings.Join(f.Games, ", "))
	}
	return nil
}

func cmdRequests(ctx context.Context, c *cli, _ []string) error {
	reqs, err := c.app.API().ReceivedRequests(ctx)
	if err != nil {
		return err
	}
	for _, r := range reqs {
		fmt.Fprintf(c.stdout, "%-20s %s\n", r.SenderUsername, r.Message)
	}
	return nil
}

func cmdTimes(ctx context.Context, c *cli, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	t, err := c.app.API().OverlappingTimes(ctx, args[1])
	if err != nil {
		return err
	}
	if len(t.Slots) == 0 {
		fmt.Fprintln(c.stdout, "no overlapping times")
		return nil
	}
	for _, s := range t.Slots {
		fmt.Fprintln(c.stdout, s)
	}
	return nil
}

func cmdNotifications(ctx context.Context, c *cli, args []string) error {
	fs := pflag.NewFlagSet("notifications", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	markRead := fs.Bool("mark-read", false, "mark every listed notification read")
	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}
	store := c.app.Notifications()
	if err := store.Sync(ctx); err != nil {
		return err
	}
	renderNotifications(c.stdout, store.List(), store.Unread())
	if *markRead && store.Unread() > 0 {
		return store.MarkRead(ctx, store.UnreadIDs()...)
	}
	return nil
}

func cmdCommunity(ctx context.Context, c *cli, args []string) error {
	fs := pflag.NewFlagSet("community", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	join := fs.Bool("join", false, "record membership before checking")
	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}
	if link := c.app.Config().Community.InviteLink; link != "" && *join {
		fmt.Fprintf(c.stdout, "invite: %s\n", link)
	}
	checker := c.app.Community()
	check := checker.Check
	if *join {
		check = checker.Join
	}
	res, err := check(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, res.Message)
	if res.Outcome != community.Joined {
		return fmt.Errorf("community: %s after %d attempts", res.Outcome, res.Attempts)
	}
	return nil
}

func cmdWatch(ctx context.Context, c *cli, _ []string) error {
	if _, err := c.app.Viewer(ctx); err != nil {
		return err
	}
	store := c.app.Notifications()
	var mu sync.Mutex
	seen := make(map[gateway.ID]bool)
	store.OnChange(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range store.List() {
			if !seen[n.ID] {
				seen[n.ID] = true
				fmt.Fprintf(c.stdout, "%s  %s\n", n.CreatedAt.Format(time.Kitchen), n.Message)
			}
		}
		c.flushToasts()
	})
	c.app.Start(ctx)
	<-ctx.Done()
	return nil
}

func renderProfile(w io.Writer, p profile.Profile, own bool, snap relationship.Snapshot, acts profile.Actions) {
	fmt.Fprintf(w, "%s\n", p.Username)
	if p.Bio != "" {
		fmt.Fprintf(w, "  %s\n", p.Bio)
	}
	fmt.Fprintf(w, "  avatar:        %s\n", p.Avatar())
	if len(p.Languages) > 0 {
		fmt.Fprintf(w, "  languages:     %s\n", strings.Join(p.Languages, ", "))
	}
	if p.Communication != "" {
		fmt.Fprintf(w, "  communication: %s\n", p.Communication.Label())
	}
	if p.Openness != "" {
		fmt.Fprintf(w, "  openness:      %s\n", p.Openness.Label())
	}
	fmt.Fprintf(w, "  friends: %d  games: %d\n", p.FriendCount, p.GameCount())
	if url := p.DiscordURL(); url != "" {
		fmt.Fprintf(w, "  discord:       %s\n", url)
	}
	if own {
		fmt.Fprintf(w, "  [%s]\n", acts.Primary.Label)
		return
	}
	renderRelationship(w, snap, acts)
}

func renderRelationship(w io.Writer, snap relationship.Snapshot, acts profile.Actions) {
	state := snap.State.String()
	if !snap.Confirmed {
		state += " (unconfirmed)"
	}
	fmt.Fprintf(w, "  relationship:  %s\n", state)
	buttons := []string{button(acts.Primary)}
	if acts.Secondary != nil {
		buttons = append(buttons, button(*acts.Secondary))
	}
	if acts.CanBlock {
		buttons = append(buttons, "[Block]")
	}
	fmt.Fprintf(w, "  %s\n", strings.Join(buttons, " "))
	if acts.Note != "" {
		fmt.Fprintf(w, "  %q\n", acts.Note)
	}
}

func button(b profile.Button) string {
	if !b.Enabled {
		return "(" + b.Label + ")"
	}
	return "[" + b.Label + "]"
}

func renderNotifications(w io.Writer, items []gateway.Notification, unread int) {
	fmt.Fprintf(w, "%d unread\n", unread)
	for _, n := range items {
		mark := " "
		if !n.IsRead {
			mark = "*"
		}
		line := fmt.Sprintf("%s %s  %s", mark, n.CreatedAt.Format(time.DateTime), n.Message)
		if n.CancellationReason != "" {
			line += " (" + n.CancellationReason + ")"
		}
		fmt.Fprintln(w, line)
	}
}
