// ABOUTME: Interactive chat loop: input commands, streamed event rendering
// ABOUTME: Slash commands for session lifecycle, context, attachments, voice

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/forcedotcom/agentforce-service-go/internal/config"
	"github.com/forcedotcom/agentforce-service-go/pkg/client"
	"github.com/forcedotcom/agentforce-service-go/pkg/dispatch"
	"github.com/forcedotcom/agentforce-service-go/pkg/event"
	"github.com/forcedotcom/agentforce-service-go/pkg/voice"
)

type chatApp struct {
	eng     *client.Engine
	cfg     *config.Config
	profile *Profile
	logger  *slog.Logger

	green  *color.Color
	cyan   *color.Color
	yellow *color.Color
	red    *color.Color
	dim    *color.Color

	mu            sync.Mutex
	lastInquiryID string // most recent inquiry or choice set awaiting a reply
	relay         *voice.Relay
}

func newChat(eng *client.Engine, cfg *config.Config, profile *Profile, logger *slog.Logger) *chatApp {
	color.NoColor = color.NoColor || !profile.Color

	return &chatApp{
		eng:     eng,
		cfg:     cfg,
		profile: profile,
		logger:  logger,
		green:   color.New(color.FgGreen),
		cyan:    color.New(color.FgCyan),
		yellow:  color.New(color.FgYellow),
		red:     color.New(color.FgRed),
		dim:     color.New(color.Faint),
	}
}

func (a *chatApp) run(ctx context.Context) error {
	events, _ := a.eng.All(ctx)
	go a.render(events)

	id, err := a.eng.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	a.cyan.Printf("Session %s started.\n", id)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	return a.inputLoop(ctx)
}

func (a *chatApp) inputLoop(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("%s> ", a.profile.DisplayName)

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if strings.HasPrefix(input, "/") {
			if err := a.handleCommand(ctx, input); err != nil {
				a.red.Printf("[error] %v\n", err)
			}
			continue
		}

		if err := a.send(ctx, input); err != nil {
			a.red.Printf("[error] %v\n", err)
		}
	}
}

func (a *chatApp) handleCommand(ctx context.Context, input string) error {
	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/help":
		a.printHelp()
		return nil

	case "/end":
		if err := a.eng.EndSession(ctx); err != nil {
			return err
		}
		a.cyan.Println("Session ended. /resume to pick it back up.")
		return nil

	case "/start":
		id, err := a.eng.StartSession(ctx)
		if err != nil {
			return err
		}
		a.cyan.Printf("Session %s started.\n", id)
		return nil

	case "/resume":
		id := args
		if id == "" {
			info, ok := a.eng.CurrentSessionInfo()
			if !ok {
				return fmt.Errorf("no prior session; use /resume <session-id>")
			}
			id = info.ID
		}
		resumed, err := a.eng.ResumeSession(ctx, id)
		if err != nil {
			return err
		}
		a.cyan.Printf("Session %s resumed.\n", resumed)
		return nil

	case "/context":
		kv, err := parseContextArgs(args)
		if err != nil {
			return err
		}
		if err := a.eng.SetAdditionalContext(ctx, kv); err != nil {
			return err
		}
		a.cyan.Printf("Context updated (%d keys).\n", len(kv))
		return nil

	case "/attach":
		return a.attach(ctx, strings.Fields(args))

	case "/reply":
		a.mu.Lock()
		inquiryID := a.lastInquiryID
		a.mu.Unlock()
		if inquiryID == "" {
			return fmt.Errorf("nothing to reply to")
		}
		if args == "" {
			return fmt.Errorf("usage: /reply <text>")
		}
		_, err := a.eng.SendReply(ctx, inquiryID, args)
		return err

	case "/voice":
		return a.voiceCommand(ctx, args)

	case "/mute":
		return a.muteCommand(args)

	case "/info":
		info, ok := a.eng.CurrentSessionInfo()
		if !ok {
			fmt.Println("No session.")
			return nil
		}
		fmt.Printf("Session %s (%s), %d messages sent, last event #%d\n",
			info.ID, info.State, info.MessageCount, info.LastSeq)
		return nil

	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func (a *chatApp) send(ctx context.Context, text string) error {
	if a.profile.TypingIndicator {
		// Fire and forget; the conversation does not depend on it.
		if err := a.eng.SendTypingIndicator(ctx, true); err != nil {
			a.logger.Debug("typing indicator failed", "error", err)
		}
	}

	receipt, err := a.eng.SendMessage(ctx, text)
	if err != nil {
		return err
	}
	if receipt.Duplicate {
		a.yellow.Println("[duplicate send suppressed]")
	}
	return nil
}

func (a *chatApp) attach(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("usage: /attach <file> [file...]")
	}

	attachments := make([]dispatch.Attachment, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		attachments = append(attachments, dispatch.Attachment{
			Filename: filepath.Base(path),
			MimeType: mime.TypeByExtension(filepath.Ext(path)),
			Data:     data,
		})
	}

	result, err := a.eng.UploadAttachments(ctx, attachments, func(filename string, fraction float64) {
		a.dim.Printf("[upload] %s %3.0f%%\n", filename, fraction*100)
	})
	if err != nil {
		return err
	}

	for _, name := range result.Uploaded {
		a.green.Printf("[uploaded] %s\n", name)
	}
	for _, failure := range result.Failed {
		a.red.Printf("[failed] %s: %v\n", failure.Filename, failure.Err)
	}
	return nil
}

func (a *chatApp) voiceCommand(ctx context.Context, args string) error {
	if !a.cfg.Voice.Enabled {
		return fmt.Errorf("voice is not enabled in the config")
	}

	switch args {
	case "on":
		info, ok := a.eng.CurrentSessionInfo()
		if !ok {
			return fmt.Errorf("no session")
		}
		a.mu.Lock()
		if a.relay == nil {
			a.relay = a.eng.Voice(a.cfg.Voice.URL)
		}
		relay := a.relay
		a.mu.Unlock()

		if err := relay.Start(ctx, info.ID); err != nil {
			return err
		}
		a.cyan.Println("Voice on.")
		return nil

	case "off":
		a.mu.Lock()
		relay := a.relay
		a.mu.Unlock()
		if relay == nil {
			return nil
		}
		if err := relay.Stop(); err != nil {
			return err
		}
		a.cyan.Println("Voice off.")
		return nil

	default:
		return fmt.Errorf("usage: /voice on|off")
	}
}

func (a *chatApp) muteCommand(args string) error {
	a.mu.Lock()
	relay := a.relay
	a.mu.Unlock()
	if relay == nil {
		return fmt.Errorf("voice is not on")
	}

	switch args {
	case "on":
		return relay.Mute(true)
	case "off":
		return relay.Mute(false)
	default:
		return fmt.Errorf("usage: /mute on|off")
	}
}

// render consumes the combined event channel until it completes.
func (a *chatApp) render(events <-chan *event.Record) {
	for rec := range events {
		switch rec.Type {
		case event.TypeTextChunk:
			fmt.Print(rec.Text.Text)
			if rec.Text.Final {
				fmt.Println()
			}

		case event.TypeInquiry:
			a.setInquiry(rec.Inquiry.MessageID)
			a.yellow.Printf("\n[question] %s\n", rec.Inquiry.Prompt)
			a.dim.Println("Answer with /reply <text>")

		case event.TypeChoices:
			a.setInquiry(rec.Choices.MessageID)
			a.yellow.Printf("\n[choose] %s\n", rec.Choices.Prompt)
			for i, opt := range rec.Choices.Options {
				fmt.Printf("  %d. %s\n", i+1, opt)
			}
			a.dim.Println("Answer with /reply <text>")

		case event.TypeTranscription:
			a.dim.Printf("[voice] %s\n", rec.Transcription.Text)

		case event.TypeSessionStarted:
			a.dim.Printf("[session started: %s]\n", rec.Session.SessionID)

		case event.TypeSessionEnded:
			reason := rec.Session.Reason
			if reason == "" {
				reason = "server ended the session"
			}
			a.yellow.Printf("[session ended: %s]\n", reason)

		case event.TypeTyping:
			if a.profile.ShowStatus && rec.Typing.Active {
				a.dim.Println("[agent is typing...]")
			}

		case event.TypePresence:
			if a.profile.ShowStatus {
				state := "left"
				if rec.Presence.Online {
					state = "joined"
				}
				a.dim.Printf("[%s %s]\n", rec.Presence.Participant, state)
			}

		case event.TypeError:
			a.red.Printf("[server error] %s\n", rec.Error.Message)

		case event.TypeConnection:
			a.renderConnection(rec.Connection)

		case event.TypeStreamFailure:
			a.red.Printf("[connection lost for good: %s]\n", rec.Connection.Err)
			a.red.Println("Use /resume to reconnect.")

		case event.TypeOverflow:
			a.yellow.Printf("[%d %s events dropped: reading too slowly]\n",
				rec.Overflow.Dropped, rec.Overflow.Category)

		case event.TypeDecodeFailure:
			a.logger.Debug("malformed event dropped", "error", rec.Error.Message)

		case event.TypeAck:
			// Receipts are silent; the reply stream is confirmation enough.
		}
	}
}

func (a *chatApp) renderConnection(conn *event.ConnectionStatus) {
	if !a.profile.ShowStatus {
		return
	}
	switch conn.State {
	case event.ConnConnecting:
		if conn.Attempt > 0 {
			a.dim.Printf("[reconnecting, attempt %d]\n", conn.Attempt)
		}
	case event.ConnConnected:
		a.dim.Println("[connected]")
	case event.ConnDisconnected:
		a.dim.Println("[disconnected]")
	}
}

func (a *chatApp) setInquiry(messageID string) {
	a.mu.Lock()
	a.lastInquiryID = messageID
	a.mu.Unlock()
}

func (a *chatApp) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /end               End the session (resumable)")
	fmt.Println("  /start             Start a fresh session")
	fmt.Println("  /resume [id]       Resume the last or a named session")
	fmt.Println("  /reply <text>      Answer the most recent question")
	fmt.Println("  /context k=v ...   Attach context for the agent")
	fmt.Println("  /attach <file>...  Upload attachments")
	fmt.Println("  /voice on|off      Toggle the voice relay")
	fmt.Println("  /mute on|off       Mute voice capture")
	fmt.Println("  /info              Show session state")
	fmt.Println("  /help              Show this help")
	fmt.Println("  /quit              Exit")
}

// parseContextArgs parses "k=v k2=v2" argument lists.
func parseContextArgs(args string) (map[string]string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return nil, fmt.Errorf("usage: /context key=value [key=value...]")
	}

	kv := make(map[string]string, len(fields))
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("bad context pair %q, want key=value", field)
		}
		kv[key] = value
	}
	return kv, nil
}
