package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/usncompetitions/notifier/internal/config"
	"github.com/usncompetitions/notifier/internal/models"
)

type sendCall struct {
	chatID int64
	text   string
	start  time.Time
	done   time.Time
}

type fakeBot struct {
	mu      sync.Mutex
	calls   []sendCall
	delay   time.Duration
	errs    map[int64]error
	nextID  int
	rawErr  error
	rawSeen []string
}

func (b *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	start := time.Now()
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	chat := to.(*tele.Chat)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, sendCall{chatID: chat.ID, text: what.(string), start: start, done: time.Now()})
	if err := b.errs[chat.ID]; err != nil {
		return nil, err
	}
	b.nextID++
	return &tele.Message{ID: b.nextID, Chat: chat}, nil
}

func (b *fakeBot) Raw(method string, payload interface{}) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rawSeen = append(b.rawSeen, method)
	return []byte(`{"ok":true}`), b.rawErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestChat(bot *fakeBot, interval time.Duration) *ChatChannel {
	return NewChatChannelWithBot(bot, config.TelegramConfig{
		Token:       "123456:ABC",
		MinInterval: interval,
		ParseMode:   "HTML",
	}, testLogger())
}

func TestChatChannel_Send(t *testing.T) {
	bot := &fakeBot{}
	ch := newTestChat(bot, 0)

	res := ch.Send(context.Background(), models.Recipient{UserID: 1, TelegramID: 1001}, "ignored", "Hello <b>Ann</b>")

	require.True(t, res.Success)
	assert.Equal(t, models.DeliverySent, res.Status)
	assert.Equal(t, "1", res.MessageID)
	assert.NotNil(t, res.SentAt)
	require.Len(t, bot.calls, 1)
	assert.Equal(t, int64(1001), bot.calls[0].chatID)
	assert.Equal(t, "Hello <b>Ann</b>", bot.calls[0].text)
}

func TestChatChannel_InvalidRecipientIsBlockedWithoutCall(t *testing.T) {
	bot := &fakeBot{}
	ch := newTestChat(bot, 0)

	for _, id := range []int64{0, -5} {
		res := ch.Send(context.Background(), models.Recipient{UserID: 1, TelegramID: id}, "", "hi")
		assert.False(t, res.Success)
		assert.Equal(t, models.DeliveryBlocked, res.Status)
	}
	assert.Empty(t, bot.calls)
}

func TestChatChannel_ErrorClassification(t *testing.T) {
	bot := &fakeBot{errs: map[int64]error{
		1: tele.ErrBlockedByUser,
		2: tele.ErrChatNotFound,
		3: errors.New("telegram: Forbidden: user is deactivated (403)"),
		4: errors.New("telegram: Internal Server Error (500)"),
		5: errors.New("dial tcp: i/o timeout"),
	}}
	ch := newTestChat(bot, 0)

	tests := []struct {
		id   int64
		want models.DeliveryStatus
	}{
		{1, models.DeliveryBlocked},
		{2, models.DeliveryFailed},
		{3, models.DeliveryBlocked},
		{4, models.DeliveryFailed},
		{5, models.DeliveryFailed},
	}
	for _, tt := range tests {
		res := ch.Send(context.Background(), models.Recipient{UserID: tt.id, TelegramID: tt.id}, "", "hi")
		assert.False(t, res.Success, "id %d", tt.id)
		assert.Equal(t, tt.want, res.Status, "id %d", tt.id)
		assert.NotEmpty(t, res.Error, "id %d", tt.id)
	}
}

func TestChatChannel_PacingFromCompletion(t *testing.T) {
	const interval = 40 * time.Millisecond
	bot := &fakeBot{delay: 15 * time.Millisecond}
	ch := newTestChat(bot, interval)

	for i := int64(1); i <= 3; i++ {
		res := ch.Send(context.Background(), models.Recipient{UserID: i, TelegramID: i}, "", "hi")
		require.True(t, res.Success)
	}

	require.Len(t, bot.calls, 3)
	for i := 1; i < len(bot.calls); i++ {
		gap := bot.calls[i].start.Sub(bot.calls[i-1].done)
		assert.GreaterOrEqual(t, gap, interval, "send %d started %v after previous completion", i, gap)
	}
}

func TestChatChannel_PacingHonoursContext(t *testing.T) {
	bot := &fakeBot{}
	ch := newTestChat(bot, time.Hour)

	res := ch.Send(context.Background(), models.Recipient{UserID: 1, TelegramID: 1}, "", "first")
	require.True(t, res.Success)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res = ch.Send(ctx, models.Recipient{UserID: 2, TelegramID: 2}, "", "second")
	assert.Equal(t, models.DeliveryFailed, res.Status)
	assert.Len(t, bot.calls, 1)
}

func TestChatChannel_Configuration(t *testing.T) {
	bot := &fakeBot{}

	assert.True(t, newTestChat(bot, 0).ValidateConfiguration())

	missing := NewChatChannelWithBot(bot, config.TelegramConfig{}, testLogger())
	assert.False(t, missing.ValidateConfiguration())

	malformed := NewChatChannelWithBot(bot, config.TelegramConfig{Token: "nocolon"}, testLogger())
	assert.False(t, malformed.ValidateConfiguration())

	assert.Equal(t, models.ChannelTelegram, missing.Name())
}

func TestChatChannel_TestConnection(t *testing.T) {
	bot := &fakeBot{}
	ch := newTestChat(bot, 0)

	assert.True(t, ch.TestConnection(context.Background()))
	assert.Equal(t, []string{"getMe"}, bot.rawSeen)

	bot.rawErr = errors.New("unauthorized")
	assert.False(t, ch.TestConnection(context.Background()))
}
