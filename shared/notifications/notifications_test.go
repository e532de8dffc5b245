package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	failures int
	sent     []*telego.SendMessageParams
	calls    int
}

func (f *fakeSender) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, params)
	return &telego.Message{}, nil
}

func newTestChannel(sender *fakeSender) *TelegramChannel {
	ch := newChannel(sender, TelegramConfig{GroupID: -100, RatePerSecond: 1000})
	ch.sleep = func(time.Duration) {}
	return ch
}

func TestFormatTradeCommand(t *testing.T) {
	assert.Equal(t, "/buy PEPE 0.25", FormatTradeCommand("buy", "PEPE", 0.25))
	assert.Equal(t, "/sell WIF 10", FormatTradeCommand("sell", "WIF", 10))
}

func TestSendCommand(t *testing.T) {
	sender := &fakeSender{}
	ch := newTestChannel(sender)

	require.NoError(t, ch.SendCommand(context.Background(), 42, "/buy PEPE 1"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].ChatID.ID)
	assert.Equal(t, "/buy PEPE 1", sender.sent[0].Text)
	assert.Empty(t, sender.sent[0].ParseMode)
}

func TestSendCommand_NoRecipient(t *testing.T) {
	ch := newTestChannel(&fakeSender{})
	err := ch.SendCommand(context.Background(), 0, "/buy PEPE 1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNotify_RetriesThenSucceeds(t *testing.T) {
	sender := &fakeSender{failures: 2}
	ch := newTestChannel(sender)

	require.NoError(t, ch.Notify(context.Background(), "*hi*"))
	assert.Equal(t, 3, sender.calls)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, telego.ModeMarkdownV2, sender.sent[0].ParseMode)
	assert.Equal(t, int64(-100), sender.sent[0].ChatID.ID)
}

func TestNotify_GivesUp(t *testing.T) {
	sender := &fakeSender{failures: 10}
	ch := newTestChannel(sender)

	err := ch.Notify(context.Background(), "hi")
	assert.Error(t, err)
	assert.Equal(t, maxSendRetries, sender.calls)
}

func TestEscapeMarkdownV2(t *testing.T) {
	assert.Equal(t, `$PEPE\-2 \(x\)\!`, EscapeMarkdownV2(`$PEPE-2 (x)!`))
	assert.Equal(t, `a\_b\.c`, EscapeMarkdownV2("a_b.c"))
}
