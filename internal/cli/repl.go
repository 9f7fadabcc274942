// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"

	"github.com/sidekik/sidekik-cli/internal/auth"
	"github.com/sidekik/sidekik-cli/internal/model"
)

// =============================================================================
// CHAT REPL
// =============================================================================

// Chat runs the interactive chat loop, optionally opening an existing
// conversation first.
func (a *App) Chat(ctx context.Context, chatID string) error {
	if err := a.requireSession(); err != nil {
		return err
	}

	a.ctrl.Refresh(ctx)
	a.cacheChats(ctx)

	input := NewInputReader(a.cfg.UI.HistoryFile)
	defer input.Close()

	fmt.Println(welcomeStyle.Render("sidekik") + infoStyle.Render("  /help for commands, Ctrl+D to exit"))

	if chatID != "" {
		if err := a.openChat(ctx, chatID); err != nil {
			return err
		}
	}

	// First Ctrl+C cancels the in-flight turn rather than the process.
	// cancelTurn is written by this loop and read by the signal
	// goroutine, so access goes through turnMu.
	var (
		turnMu     sync.Mutex
		cancelTurn context.CancelFunc
	)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			turnMu.Lock()
			cancel := cancelTurn
			turnMu.Unlock()
			if cancel != nil {
				cancel()
				fmt.Fprintln(os.Stderr, "\n"+statusStyle.Render("[Cancelled]"))
			}
		}
	}()

	for {
		line, err := input.ReadInput(promptStyle.Render("you> "))
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Println()
				continue
			}
			// Ctrl+D or closed input.
			fmt.Println()
			return nil
		}

		a.showNewImages()

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := a.handleCommand(ctx, line)
			if err != nil {
				fail(err)
			}
			if quit {
				return nil
			}
			continue
		}

		turnCtx, cancel := context.WithCancel(ctx)
		turnMu.Lock()
		cancelTurn = cancel
		turnMu.Unlock()
		err = a.sendTurn(turnCtx, line)
		turnMu.Lock()
		cancelTurn = nil
		turnMu.Unlock()
		cancel()

		if errors.Is(err, auth.ErrSessionExpired) {
			return errors.New("session expired; log in again")
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			fail(err)
		}
	}
}

// openChat loads a conversation and renders its history, falling back to
// the offline cache when the backend is unreachable.
func (a *App) openChat(ctx context.Context, chatID string) error {
	err := a.ctrl.SelectChat(ctx, chatID)
	if err == nil {
		if a.cache != nil {
			if cerr := a.cache.SaveDetails(ctx, a.ctrl.Details()); cerr != nil {
				log.Printf("failed to cache chat %s: %v", chatID, cerr)
			}
		}
		a.printHistory()
		return nil
	}
	if errors.Is(err, auth.ErrSessionExpired) {
		return err
	}
	if a.cache != nil {
		if cached, cerr := a.cache.Details(ctx, chatID); cerr == nil {
			fmt.Println(infoStyle.Render("(offline: showing cached conversation)"))
			a.renderDetails(cached)
			return nil
		}
	}
	return err
}

// printHistory renders the already-loaded conversation.
func (a *App) printHistory() {
	a.renderDetails(a.ctrl.Details())
}

func (a *App) renderDetails(details *model.ChatDetails) {
	if details.Title != "" {
		fmt.Println(titleStyle.Render("== " + details.Title + " =="))
	}
	for _, msg := range details.Messages {
		switch msg.Role {
		case model.RoleUser:
			fmt.Printf("%s %s\n", promptStyle.Render("you>"), msg.Content)
		case model.RoleAssistant:
			if msg.ImageURL != "" {
				a.shownImages[msg.ID] = true
				fmt.Printf("%s %s\n", infoStyle.Render("[image]"), msg.ImageURL)
				continue
			}
			displayResponse(msg.Content)
			fmt.Println()
		}
		// System messages are never rendered.
	}
}

// showNewImages prints generation results that resolved since the last
// render. Generation jobs outlive their turn, so a result can land while
// the prompt is waiting for input.
func (a *App) showNewImages() {
	for _, msg := range a.ctrl.Messages() {
		if msg.ImageURL == "" || a.shownImages[msg.ID] {
			continue
		}
		a.shownImages[msg.ID] = true
		fmt.Printf("%s %s\n", infoStyle.Render("[image]"), msg.ImageURL)
	}
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// sendTurn submits one message and renders the streamed reply.
func (a *App) sendTurn(ctx context.Context, text string) error {
	useMarkdown := a.cfg.UI.Markdown && IsStdoutTTY()

	// Stream raw text as it arrives; with markdown the reply is rendered
	// whole at the end instead.
	var printed int
	var lastStatus string
	a.ctrl.OnChange(func() {
		if status := a.ctrl.Status(); status != "" && status != lastStatus {
			lastStatus = status
			fmt.Fprintln(os.Stderr, statusStyle.Render("["+status+"]"))
		}
		if useMarkdown {
			return
		}
		msgs := a.ctrl.Messages()
		if len(msgs) == 0 {
			return
		}
		last := msgs[len(msgs)-1]
		if last.Role != model.RoleAssistant {
			return
		}
		if len(last.Content) > printed {
			fmt.Print(last.Content[printed:])
			printed = len(last.Content)
		}
	})
	defer a.ctrl.OnChange(nil)

	fmt.Println()
	err := a.ctrl.Submit(ctx, text)
	if err != nil {
		return err
	}

	if errText := a.ctrl.ErrorText(); errText != "" {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("[Assistant error]"), errText)
	} else if useMarkdown {
		msgs := a.ctrl.Messages()
		if len(msgs) > 0 && msgs[len(msgs)-1].Role == model.RoleAssistant {
			displayResponse(msgs[len(msgs)-1].Content)
		}
	}
	a.showNewImages()
	fmt.Println()

	a.cacheChats(ctx)
	if a.cache != nil && a.ctrl.ActiveChatID() != "" {
		if err := a.cache.SaveDetails(ctx, a.ctrl.Details()); err != nil {
			log.Printf("failed to cache conversation: %v", err)
		}
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleCommand processes one slash command; quit=true ends the REPL.
func (a *App) handleCommand(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/h":
		a.printHelp()
		return false, nil

	case "/new", "/n":
		a.ctrl.NewChat()
		fmt.Println(infoStyle.Render("Started a new conversation."))
		return false, nil

	case "/open", "/o":
		if len(args) != 1 {
			return false, errors.New("usage: /open <chat-id>")
		}
		return false, a.openChat(ctx, args[0])

	case "/chats", "/c":
		return false, a.ListChats(ctx)

	case "/attach", "/a":
		if len(args) != 1 {
			return false, errors.New("usage: /attach <path>")
		}
		return false, a.attachFile(ctx, args[0])

	case "/detach", "/d":
		if len(args) != 1 {
			return false, errors.New("usage: /detach <n>")
		}
		return false, a.detachFile(args[0])

	case "/attachments":
		a.printAttachments()
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func (a *App) printHelp() {
	for _, row := range [][2]string{
		{"/new", "start a fresh conversation"},
		{"/open <id>", "switch to an existing conversation"},
		{"/chats", "list conversations"},
		{"/attach <path>", "upload a file for the next message"},
		{"/detach <n>", "remove pending attachment n"},
		{"/attachments", "show pending attachments"},
		{"/quit", "exit"},
	} {
		fmt.Printf("  %s  %s\n", commandStyle.Render(fmt.Sprintf("%-16s", row[0])), row[1])
	}
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// attachFile starts uploading a local file for the next message.
func (a *App) attachFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// The upload goroutine owns the file handle from here.
	_, err = a.ctrl.AddAttachment(ctx, name, mimeType, "file://"+path, &closingReader{f: f}, info.Size())
	if err != nil {
		f.Close()
		return err
	}
	fmt.Printf("%s %s (%d bytes) uploading\n", infoStyle.Render("[attach]"), name, info.Size())
	return nil
}

// detachFile removes the n-th pending attachment (1-based), cancelling
// its upload when still in flight.
func (a *App) detachFile(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return errors.New("usage: /detach <n>")
	}
	atts := a.ctrl.Attachments()
	if n < 1 || n > len(atts) {
		return fmt.Errorf("no attachment %d", n)
	}
	a.ctrl.RemoveAttachment(atts[n-1].ID)
	fmt.Printf("%s removed %s\n", infoStyle.Render("[detach]"), atts[n-1].Name)
	return nil
}

func (a *App) printAttachments() {
	atts := a.ctrl.Attachments()
	if len(atts) == 0 {
		fmt.Println(infoStyle.Render("No pending attachments."))
		return
	}
	for i, att := range atts {
		state := fmt.Sprintf("%d%%", att.Progress)
		if att.Uploaded() {
			state = commandStyle.Render("uploaded")
		} else if att.Error != "" {
			state = errorStyle.Render(att.Error)
		}
		fmt.Printf("  %d. %s  %s\n", i+1, att.Name, state)
	}
}

// closingReader closes the underlying file when the upload finishes
// reading it.
type closingReader struct {
	f      *os.File
	closed bool
}

func (r *closingReader) Read(b []byte) (int, error) {
	n, err := r.f.Read(b)
	if err != nil && !r.closed {
		r.closed = true
		r.f.Close()
	}
	return n, err
}
