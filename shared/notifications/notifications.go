package notifications

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"
)

const (
	maxSendRetries = 3
	sendTimeout    = 30 * time.Second
)

// ErrNotConfigured is returned when a message targets a chat id that was never configured.
var ErrNotConfigured = errors.New("telegram chat not configured")

type messageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramChannel is the command channel: trade commands go to a recipient chat (the
// trading bot), notifications to the group chat, system logs to a dedicated chat.
type TelegramChannel struct {
	bot              *telego.Bot
	sender           messageSender
	limiter          *rate.Limiter
	groupID          int64
	systemLogsChatID int64
	sleep            func(time.Duration)
}

type TelegramConfig struct {
	BotToken         string
	GroupID          int64
	SystemLogsChatID int64
	RatePerSecond    float64
}

// NewTelegramChannel connects to the Bot API and verifies the token with getMe.
func NewTelegramChannel(ctx context.Context, cfg TelegramConfig) (*TelegramChannel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token: %w", ErrNotConfigured)
	}
	bot, err := telego.NewBot(cfg.BotToken, telego.WithDefaultLogger(false, true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot API: %w", err)
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify bot token with GetMe API call: %w", err)
	}
	log.Printf("Telegram bot initialized successfully for @%s", me.Username)

	ch := newChannel(bot, cfg)
	ch.bot = bot
	return ch, nil
}

func newChannel(sender messageSender, cfg TelegramConfig) *TelegramChannel {
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	return &TelegramChannel{
		sender:           sender,
		limiter:          rate.NewLimiter(rate.Limit(perSecond), 1),
		groupID:          cfg.GroupID,
		systemLogsChatID: cfg.SystemLogsChatID,
		sleep:            time.Sleep,
	}
}

// Bot exposes the underlying client for the admin command listener.
func (c *TelegramChannel) Bot() *telego.Bot {
	return c.bot
}

// SendCommand delivers a plain-text command such as "/buy PEPE 0.5" to the recipient chat.
func (c *TelegramChannel) SendCommand(ctx context.Context, recipient int64, command string) error {
	if recipient == 0 {
		return fmt.Errorf("command recipient: %w", ErrNotConfigured)
	}
	return c.send(ctx, tu.Message(tu.ID(recipient), command))
}

// Notify posts a MarkdownV2 message to the group chat.
func (c *TelegramChannel) Notify(ctx context.Context, markdown string) error {
	if c.groupID == 0 {
		return fmt.Errorf("notification group: %w", ErrNotConfigured)
	}
	return c.send(ctx, tu.Message(tu.ID(c.groupID), markdown).WithParseMode(telego.ModeMarkdownV2))
}

// Reply sends plain text to an arbitrary chat.
func (c *TelegramChannel) Reply(ctx context.Context, chatID int64, text string) error {
	return c.send(ctx, tu.Message(tu.ID(chatID), text))
}

// SystemLog forwards a log line without blocking the caller. Failures are only printed.
func (c *TelegramChannel) SystemLog(message string) {
	chatID := c.systemLogsChatID
	if chatID == 0 {
		chatID = c.groupID
	}
	if chatID == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := c.send(ctx, tu.Message(tu.ID(chatID), message)); err != nil {
			log.Printf("ERROR: Telegram system log failed to send: %v", err)
		}
	}()
}

func (c *TelegramChannel) send(ctx context.Context, msg *telego.SendMessageParams) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limiter wait: %w", err)
	}

	var lastErr error
	for i := 0; i < maxSendRetries; i++ {
		_, err := c.sender.SendMessage(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Printf("ERROR: Failed Telegram send (Attempt %d/%d) to chat %v: %v", i+1, maxSendRetries, msg.ChatID, err)

		if ctx.Err() != nil {
			break
		}
		if i < maxSendRetries-1 {
			c.sleep(time.Duration(math.Pow(2, float64(i))) * time.Second)
		}
	}
	return fmt.Errorf("telegram message failed after %d attempts: %w", maxSendRetries, lastErr)
}

// FormatTradeCommand renders the literal command understood by the trading bot.
func FormatTradeCommand(side, symbol string, amount float64) string {
	return fmt.Sprintf("/%s %s %s", side, symbol, strconv.FormatFloat(amount, 'f', -1, 64))
}

func EscapeMarkdownV2(s string) string {
	charsToEscape := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	temp := s
	for _, char := range charsToEscape {
		temp = strings.ReplaceAll(temp, char, "\\"+char)
	}
	return temp
}
