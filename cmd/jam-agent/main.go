// Command jam-agent is a headless session follower. It loads a page, joins
// its browserjam session and mirrors remote presence, highlights and
// navigation onto the in-memory DOM, logging what a browser would render.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"browserjam/cmd/internal/agent"
	"browserjam/cmd/internal/app"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "jam-agent:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("jam-agent", pflag.ContinueOnError)
	server := fs.String("server", app.EnvString("JAM_SERVER_URL", "http://127.0.0.1:8080"), "browserjam server base URL")
	page := fs.String("page", "", "page URL to open (may carry jamSessionId)")
	kvPath := fs.String("state", defaultStatePath(), "file holding token, user and active session")
	email := fs.String("email", "", "log in with this account before joining")
	password := fs.String("password", app.EnvString("JAM_AGENT_PASSWORD", ""), "password for --email")
	create := fs.Bool("create", false, "create a new session for --page and print its share URL")
	list := fs.Bool("sessions", false, "list recent sessions for the stored login and exit")
	logout := fs.Bool("logout", false, "forget the stored login and exit")
	scrollMax := fs.Float64("scroll-height", 10000, "virtual scrollable height of the page")
	logLevel := fs.String("log-level", "info", "debug, info, warn or error")
	logFormat := fs.String("log-format", "pretty", "json or pretty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := app.NewLogger(*logLevel, *logFormat, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kv := agent.NewFileKV(*kvPath)
	api := agent.NewAPIClient(*server, nil)

	if *logout {
		return agent.Logout(kv)
	}

	if *email != "" {
		tok, user, err := api.Login(ctx, *email, *password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if err := agent.SaveLogin(kv, tok, user); err != nil {
			return err
		}
		log.Info("agent.login", "user_id", user.ID, "email", user.Email)
	}

	if *list {
		tok, _, err := kv.Get(agent.KeyToken)
		if err != nil {
			return err
		}
		sessions, err := api.RecentSessions(ctx, tok)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			share, err := agent.ShareURL(s.URL, s.SessionID)
			if err != nil {
				share = s.URL
			}
			fmt.Printf("%s\t%s\t%s\n", s.JoinedAt.Format("2006-01-02 15:04"), s.SessionID, share)
		}
		return nil
	}

	if *page == "" {
		return errors.New("--page is required")
	}
	target := *page
	if *create {
		id, err := api.CreateSession(ctx)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if target, err = agent.ShareURL(target, id); err != nil {
			return err
		}
		fmt.Println(target)
	}

	wsURL, err := agent.WSURL(*server)
	if err != nil {
		return err
	}

	p := agent.NewHTMLPage(nil, *scrollMax)
	if err := p.Navigate(ctx, target); err != nil {
		return err
	}

	for {
		a, err := agent.New(agent.Config{
			Page:     p,
			UI:       agent.LogUI{Log: log},
			KV:       kv,
			Dial:     agent.WSDialer(wsURL),
			Comments: api,
			Log:      log,
		})
		if err != nil {
			return err
		}

		err = a.Run(ctx)
		switch {
		case errors.Is(err, agent.ErrNavigated):
			log.Info("agent.rejoin", "url", p.URL())
			continue
		case errors.Is(err, agent.ErrIdle):
			log.Info("agent.exit", "reason", "no session for page")
			return nil
		case err != nil && ctx.Err() == nil:
			return err
		default:
			return nil
		}
	}
}

func defaultStatePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "browserjam", "agent.json")
	}
	return "browserjam-agent.json"
}
