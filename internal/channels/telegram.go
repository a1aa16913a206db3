package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/basket/clawdeck/internal/bus"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramChannel mirrors gateway lifecycle events to Telegram and lets
// allowlisted users drive the gateway with chat commands.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	controller Controller
	eventBus   *bus.Bus
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI
}

// NewTelegramChannel creates a Telegram channel. Only user IDs in
// allowedIDs may issue commands; lifecycle notifications go to every
// allowed chat.
func NewTelegramChannel(token string, allowedIDs []int64, controller Controller, eventBus *bus.Bus, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	if t.eventBus != nil {
		go t.mirrorEvents(ctx)
	}

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// pollUpdates returned nil means ctx was cancelled.
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2x the long-poll timeout (stall
// detection). Returns nil on context cancellation, or an error to trigger
// reconnection.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// tgbotapi uses a 60s long-poll timeout. If we see nothing for 2.5
	// minutes the connection is likely dead (the library blocks rather
	// than closing the channel).
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			// Reset stall timer on every received update (including empty
			// long-poll returns).
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil {
				continue
			}
			if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
				t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
				continue
			}
			t.handleCommand(ctx, update.Message)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" || !strings.HasPrefix(text, "/") {
		return
	}

	cmd, arg := splitCommand(text)
	switch cmd {
	case "/status":
		st := t.controller.GatewayStatus()
		if st.Running {
			t.reply(msg.Chat.ID, fmt.Sprintf("Gateway running (pid %d, up %ds)", st.PID, st.UptimeSec))
		} else {
			t.reply(msg.Chat.ID, fmt.Sprintf("Gateway stopped (last exit code %d)", st.LastExitCode))
		}

	case "/start":
		if err := t.controller.StartGateway(ctx); err != nil {
			t.reply(msg.Chat.ID, fmt.Sprintf("Start failed: %v", err))
			return
		}
		t.reply(msg.Chat.ID, "Gateway start requested.")

	case "/stop":
		if err := t.controller.StopGateway(ctx); err != nil {
			t.reply(msg.Chat.ID, fmt.Sprintf("Stop failed: %v", err))
			return
		}
		t.reply(msg.Chat.ID, "Gateway stop requested.")

	case "/restart":
		if err := t.controller.RestartGateway(ctx); err != nil {
			t.reply(msg.Chat.ID, fmt.Sprintf("Restart failed: %v", err))
			return
		}
		t.reply(msg.Chat.ID, "Gateway restart requested.")

	case "/logs":
		n := 20
		if arg != "" {
			if parsed, err := strconv.Atoi(arg); err == nil && parsed > 0 {
				n = parsed
			}
		}
		if n > 50 {
			n = 50 // Telegram message size limit
		}
		lines := t.controller.RecentOutput(n)
		if len(lines) == 0 {
			t.reply(msg.Chat.ID, "No recent gateway output.")
			return
		}
		t.replyMarkdown(msg.Chat.ID, "```\n"+escapeCodeBlock(strings.Join(lines, "\n"))+"\n```")

	case "/help":
		t.reply(msg.Chat.ID, "Commands: /status /start /stop /restart /logs [n]")

	default:
		t.reply(msg.Chat.ID, fmt.Sprintf("Unknown command %s. Try /help.", cmd))
	}
}

// mirrorEvents forwards gateway lifecycle and alert events to every
// allowed chat.
func (t *TelegramChannel) mirrorEvents(ctx context.Context) {
	subs := []*bus.Subscription{
		t.eventBus.Subscribe("gateway."),
		t.eventBus.Subscribe(bus.TopicScheduleFired),
		t.eventBus.Subscribe(bus.TopicPanelAlert),
	}
	defer func() {
		for _, sub := range subs {
			t.eventBus.Unsubscribe(sub)
		}
	}()

	for _, sub := range subs {
		go func(sub *bus.Subscription) {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-sub.Ch():
					if text := formatEvent(ev); text != "" {
						t.broadcast(text)
					}
				}
			}
		}(sub)
	}
	<-ctx.Done()
}

// formatEvent renders a bus event as a one-line notification. Returns
// empty for topics that should not reach chat.
func formatEvent(ev bus.Event) string {
	switch payload := ev.Payload.(type) {
	case bus.GatewayStartedEvent:
		return fmt.Sprintf("Gateway started (pid %d)", payload.PID)
	case bus.GatewayStoppedEvent:
		if payload.Killed {
			return fmt.Sprintf("Gateway stopped (pid %d, force killed)", payload.PID)
		}
		return fmt.Sprintf("Gateway stopped (pid %d)", payload.PID)
	case bus.GatewayExitedEvent:
		return fmt.Sprintf("Gateway exited unexpectedly (pid %d, exit code %d)", payload.PID, payload.ExitCode)
	case bus.GatewaySpawnFailedEvent:
		return fmt.Sprintf("Gateway failed to start: %s", payload.Reason)
	case bus.ScheduleEvent:
		return fmt.Sprintf("Schedule %q fired (%s)", payload.Name, payload.Action)
	case bus.PanelAlert:
		return fmt.Sprintf("[%s] %s", payload.Severity, payload.Message)
	}
	return ""
}

func (t *TelegramChannel) broadcast(text string) {
	for chatID := range t.allowedIDs {
		t.reply(chatID, text)
	}
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}

// replyMarkdown sends a markdown-formatted message.
func (t *TelegramChannel) replyMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram markdown reply", "error", err)
	}
}

// splitCommand splits "/logs 40" into "/logs" and "40". Bot-mention
// suffixes ("/status@clawdeck_bot") are stripped.
func splitCommand(text string) (cmd, arg string) {
	parts := strings.SplitN(text, " ", 2)
	cmd = parts[0]
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	return cmd, arg
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
// Must escape: _ * [ ] ( ) ~ > # + - = | { } . !
func escapeMarkdownV2(s string) string {
	const specialChars = "_*[]()~>#+-=|{}.!"

	result := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(specialChars, c) >= 0 {
			result = append(result, '\\')
		}
		result = append(result, c)
	}
	return string(result)
}

// escapeCodeBlock escapes text destined for a ``` fence. MarkdownV2
// treats only backslash and backtick specially inside pre blocks, so
// everything else passes through verbatim.
func escapeCodeBlock(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "`", "\\`")
}
