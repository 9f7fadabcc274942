// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sidekik/sidekik-cli/internal/api"
	"github.com/sidekik/sidekik-cli/internal/auth"
	"github.com/sidekik/sidekik-cli/internal/chat"
	"github.com/sidekik/sidekik-cli/internal/config"
	"github.com/sidekik/sidekik-cli/internal/secrets"
	"github.com/sidekik/sidekik-cli/internal/storage"
	"github.com/sidekik/sidekik-cli/internal/util"
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// App wires the configuration, session, backend client, conversation
// controller, and offline cache together for the command handlers.
type App struct {
	cfg     *config.Config
	session *auth.Manager
	client  *api.Client
	ctrl    *chat.Controller

	// cache is nil when the local database could not be opened; the app
	// then runs online-only.
	cache *storage.Cache

	// shownImages records generation results already printed, so a job
	// resolving after its turn ended is shown exactly once.
	shownImages map[string]bool
}

// NewApp builds the application from configuration.
func NewApp(cfg *config.Config) (*App, error) {
	store, err := secrets.NewFileStore(cfg.Storage.SecretsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	session := auth.NewManager(store, cfg.API.BaseURL)
	client := api.NewClient(cfg.API.BaseURL, session).WithTimeout(cfg.Timeout())
	ctrl := chat.NewController(client, chat.Options{
		ThinkModel:      cfg.Chat.ThinkModel,
		PollInterval:    cfg.PollInterval(),
		MaxPollAttempts: cfg.Chat.MaxPollAttempts,
		MaxAttachments:  cfg.Chat.MaxAttachments,
	})

	cache, err := storage.Open(cfg.Storage.CachePath)
	if err != nil {
		log.Printf("chat cache unavailable: %v", err)
		cache = nil
	}

	return &App{
		cfg:         cfg,
		session:     session,
		client:      client,
		ctrl:        ctrl,
		cache:       cache,
		shownImages: make(map[string]bool),
	}, nil
}

// Close aborts outstanding generation pollers and releases the app's
// resources.
func (a *App) Close() {
	a.ctrl.Stop()
	if a.cache != nil {
		a.cache.Close()
	}
}

// requireSession fails fast with a login hint when no session is stored.
func (a *App) requireSession() error {
	if !a.session.Authenticated() {
		return errors.New("not logged in; run: sidekik login google|apple <token>")
	}
	return nil
}

// cacheChats mirrors the current chat list into the offline cache.
func (a *App) cacheChats(ctx context.Context) {
	if a.cache == nil {
		return
	}
	if err := a.cache.SaveChats(ctx, a.ctrl.Chats()); err != nil {
		log.Printf("failed to cache chat list: %v", err)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// Login exchanges a provider identity token for a session.
func (a *App) Login(ctx context.Context, provider, token string) error {
	var (
		resp *api.AuthResponse
		err  error
	)
	switch provider {
	case "google":
		resp, err = a.client.AuthenticateWithGoogle(ctx, token)
	case "apple":
		resp, err = a.client.AuthenticateWithApple(ctx, token)
	default:
		return fmt.Errorf("unknown provider %q (want google or apple)", provider)
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	name := resp.User.Name
	if name == "" {
		name = resp.User.Email
	}
	fmt.Printf("Logged in as %s\n", commandStyle.Render(name))
	return nil
}

// Logout revokes and clears the session.
func (a *App) Logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

// WhoAmI prints the authenticated account.
func (a *App) WhoAmI(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	user, err := a.client.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			return errors.New("session expired; log in again")
		}
		return err
	}
	fmt.Printf("%s <%s>\n", user.Name, user.Email)
	return nil
}

// ListChats prints the conversation list, falling back to the offline
// cache when the backend is unreachable.
func (a *App) ListChats(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}

	a.ctrl.Refresh(ctx)
	chats := a.ctrl.Chats()
	if len(chats) == 0 && a.cache != nil {
		cached, err := a.cache.Chats(ctx)
		if err == nil && len(cached) > 0 {
			fmt.Println(infoStyle.Render("(offline: showing cached chats)"))
			chats = cached
		}
	} else {
		a.cacheChats(ctx)
	}

	if len(chats) == 0 {
		fmt.Println("No conversations yet.")
		return nil
	}
	for _, c := range chats {
		created := time.Unix(c.CreatedAt, 0).Format("2006-01-02 15:04")
		fmt.Printf("%s  %s  %s\n",
			commandStyle.Render(c.ID),
			infoStyle.Render(created),
			titleStyle.Render(util.TruncateRunes(c.Title, 60)))
	}
	return nil
}

// Configure sets the assistant persona used for new conversations.
func (a *App) Configure(ctx context.Context, userName, aiName, description, role string) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	cfg, err := a.client.CreateConfiguration(ctx, api.ConfigurationInput{
		UserName:    userName,
		AIName:      aiName,
		Description: description,
		Role:        role,
	})
	if err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	a.ctrl.SetConfiguration(cfg)
	fmt.Printf("Persona saved (%s).\n", cfg.ID)
	return nil
}

// fail prints an error in the CLI's error style.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
}
