package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/usncompetitions/notifier/internal/config"
	"github.com/usncompetitions/notifier/internal/models"
)

// Bot is the part of *tele.Bot the chat channel needs
type Bot interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Raw(method string, payload interface{}) ([]byte, error)
}

// ChatChannel delivers broadcast messages through the Telegram bot API.
// Sends are serialized and spaced by MinInterval from the previous send's
// completion.
type ChatChannel struct {
	bot      Bot
	cfg      config.TelegramConfig
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewChatChannel creates the bot client without contacting Telegram
func NewChatChannel(cfg config.TelegramConfig, logger *slog.Logger) (*ChatChannel, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewChatChannelWithBot(bot, cfg, logger), nil
}

// NewChatChannelWithBot wraps an existing bot client
func NewChatChannelWithBot(bot Bot, cfg config.TelegramConfig, logger *slog.Logger) *ChatChannel {
	return &ChatChannel{
		bot:      bot,
		cfg:      cfg,
		logger:   logger.With("channel", models.ChannelTelegram),
		interval: cfg.MinInterval,
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
}

// Name returns the channel identifier
func (c *ChatChannel) Name() string {
	return models.ChannelTelegram
}

// ValidateRecipient reports whether r has a Telegram chat id
func (c *ChatChannel) ValidateRecipient(r models.Recipient) bool {
	return r.TelegramID > 0
}

// ValidateConfiguration reports whether a well-formed bot token is set
func (c *ChatChannel) ValidateConfiguration() bool {
	if c.cfg.Token == "" {
		c.logger.Warn("telegram bot token is not configured")
		return false
	}
	if !strings.Contains(c.cfg.Token, ":") {
		c.logger.Warn("telegram bot token is malformed")
		return false
	}
	return true
}

// TestConnection checks the bot token against the Bot API
func (c *ChatChannel) TestConnection(ctx context.Context) bool {
	if _, err := c.bot.Raw("getMe", nil); err != nil {
		c.logger.Warn("telegram connection test failed", "error", err)
		return false
	}
	return true
}

// Send delivers body to the recipient's chat, waiting for the pacing interval first
func (c *ChatChannel) Send(ctx context.Context, r models.Recipient, subject, body string) *DeliveryResult {
	if !c.ValidateRecipient(r) {
		return failure(models.DeliveryBlocked, "recipient has no telegram account")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return failure(models.DeliveryFailed, fmt.Sprintf("rate limit wait: %v", err))
	}

	msg, err := c.bot.Send(&tele.Chat{ID: r.TelegramID}, body, &tele.SendOptions{
		ParseMode:             tele.ParseMode(c.cfg.ParseMode),
		DisableWebPagePreview: true,
	})
	c.markDone(time.Now())

	if err != nil {
		status := classifyChatError(err)
		c.logger.Warn("telegram send failed",
			"user_id", r.UserID,
			"telegram_id", r.TelegramID,
			"status", status,
			"error", err,
		)
		return failure(status, err.Error())
	}

	var messageID string
	if msg != nil {
		messageID = strconv.Itoa(msg.ID)
	}
	return sent(messageID)
}

// markDone restarts the pacing window at t
func (c *ChatChannel) markDone(t time.Time) {
	if c.interval <= 0 {
		return
	}
	lim := rate.NewLimiter(rate.Every(c.interval), 1)
	lim.AllowN(t, 1)
	c.limiter = lim
}

// classifyChatError maps Telegram API errors to delivery statuses.
// 403 means the bot was blocked or cannot write to the user.
func classifyChatError(err error) models.DeliveryStatus {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden {
			return models.DeliveryBlocked
		}
		return models.DeliveryFailed
	}

	// unknown API errors are formatted as "telegram: <description> (<code>)"
	msg := err.Error()
	if strings.Contains(msg, "(403)") || strings.Contains(msg, "Forbidden:") {
		return models.DeliveryBlocked
	}
	return models.DeliveryFailed
}
