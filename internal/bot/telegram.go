package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/basket/taskbot/internal/command"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram runs the bot against the Telegram long-poll API and feeds inbound
// commands through the dispatcher.
type Telegram struct {
	token      string
	dispatcher *command.Dispatcher
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI

	allowedMu sync.RWMutex
	allowed   map[int64]struct{} // chat ids; empty means open
}

func NewTelegram(token string, allowedChatIDs []int64, dispatcher *command.Dispatcher, logger *slog.Logger) *Telegram {
	t := &Telegram{
		token:      token,
		dispatcher: dispatcher,
		logger:     logger,
	}
	t.SetAllowedChats(allowedChatIDs)
	return t
}

func (t *Telegram) Name() string {
	return "telegram"
}

// SetAllowedChats replaces the allowed-chat set. Called on config reload.
func (t *Telegram) SetAllowedChats(chatIDs []int64) {
	allowed := make(map[int64]struct{}, len(chatIDs))
	for _, id := range chatIDs {
		allowed[id] = struct{}{}
	}
	t.allowedMu.Lock()
	t.allowed = allowed
	t.allowedMu.Unlock()
}

func (t *Telegram) chatAllowed(chatID int64) bool {
	t.allowedMu.RLock()
	defer t.allowedMu.RUnlock()
	if len(t.allowed) == 0 {
		return true
	}
	_, ok := t.allowed[chatID]
	return ok
}

// Start begins the long-poll loop. It blocks until ctx is canceled,
// reconnecting with exponential backoff on transport failures.
func (t *Telegram) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

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

		return nil
	}
}

// pollUpdates reads updates until ctx is done, the channel closes, or nothing
// arrives within the stall window (the library blocks rather than closing the
// channel on a dead connection).
func (t *Telegram) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
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

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				t.handleMessage(ctx, update.Message)
				continue
			}
			if update.CallbackQuery != nil {
				t.handleCallbackQuery(ctx, update.CallbackQuery)
				continue
			}

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *Telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if msg.From == nil || !strings.HasPrefix(text, "/") {
		return
	}
	if !t.chatAllowed(msg.Chat.ID) {
		t.logger.Warn("telegram chat denied", "chat_id", msg.Chat.ID)
		return
	}

	in := &command.Message{
		ChatID:   msg.Chat.ID,
		UserID:   msg.From.ID,
		Username: msg.From.UserName,
		Text:     text,
	}
	t.send(msg.Chat.ID, t.dispatcher.Dispatch(ctx, in))
}

// handleCallbackQuery serves the "Next" paging button: the payload is decoded
// back into a /tasks invocation and re-dispatched through the same listing
// contract, and the original message is edited in place with the new page.
func (t *Telegram) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	statusToken, offset, userID, err := parseListCallback(query.Data)
	if err != nil {
		return
	}
	if query.Message == nil || !t.chatAllowed(query.Message.Chat.ID) {
		return
	}

	if _, err := t.bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		t.logger.Warn("failed to ack callback", "error", err)
	}

	in := &command.Message{
		ChatID:   query.Message.Chat.ID,
		UserID:   userID,
		Username: query.From.UserName,
		Text:     fmt.Sprintf("/tasks %s %d", statusToken, offset),
	}
	reply := t.dispatcher.Dispatch(ctx, in)

	edit := tgbotapi.NewEditMessageText(query.Message.Chat.ID, query.Message.MessageID, reply.Text)
	if kb := inlineKeyboard(reply); kb != nil {
		edit.ReplyMarkup = kb
	}
	if _, err := t.bot.Send(edit); err != nil {
		t.logger.Warn("failed to edit listing message", "error", err)
	}
}

func (t *Telegram) send(chatID int64, reply command.Reply) {
	if reply.Document != nil {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
			Name:  reply.Document.Name,
			Bytes: reply.Document.Data,
		})
		if _, err := t.bot.Send(doc); err != nil {
			t.logger.Error("failed to send telegram document", "error", err)
		}
		return
	}
	if reply.Text == "" {
		return
	}
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if kb := inlineKeyboard(reply); kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}

func inlineKeyboard(reply command.Reply) *tgbotapi.InlineKeyboardMarkup {
	if len(reply.Keyboard) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(reply.Keyboard))
	for _, row := range reply.Keyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, buttons)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}
