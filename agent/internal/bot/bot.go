package bot

import (
	"context"

	"migration-agent/agent/internal/blacklist"
	"migration-agent/agent/internal/pipeline"
	"migration-agent/shared/logger"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"
)

// Replier sends plain-text replies.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// StatusSource exposes the latest pipeline report.
type StatusSource interface {
	LastReport() (*pipeline.Report, bool)
}

// Bot answers admin commands posted in the operator group.
type Bot struct {
	log       *logger.Logger
	registry  *blacklist.Registry
	status    StatusSource
	replier   Replier
	adminChat int64
}

// New builds the command handler. When adminChat is non-zero only that chat is served,
// otherwise any group or supergroup.
func New(appLogger *logger.Logger, registry *blacklist.Registry, status StatusSource, replier Replier, adminChat int64) *Bot {
	return &Bot{log: appLogger, registry: registry, status: status, replier: replier, adminChat: adminChat}
}

// StartListening consumes long-polling updates until ctx ends or the channel closes.
func (b *Bot) StartListening(ctx context.Context, updates <-chan telego.Update) {
	b.log.Info("Listening for Telegram commands and messages...")
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				b.log.Warn("Telegram update channel closed. Stopping listener.")
				return
			}
			msg := update.Message
			if msg == nil || !b.accepts(msg.Chat) {
				continue
			}
			if _, _, isCommand := ParseCommand(msg.Text); !isCommand {
				continue
			}
			fromUser := ""
			if msg.From != nil {
				fromUser = msg.From.Username
			}
			b.log.Debug("Received command message",
				zap.Int64("chatID", msg.Chat.ID), zap.String("fromUser", fromUser), zap.String("text", msg.Text))

			reply := b.HandleCommand(ctx, msg.Text)
			if err := b.replier.Reply(ctx, msg.Chat.ID, reply); err != nil {
				b.log.Error("Failed to send reply message", zap.Error(err), zap.Int64("chatID", msg.Chat.ID))
			}

		case <-ctx.Done():
			b.log.Info("Context cancelled. Stopping Telegram listener.")
			return
		}
	}
}

func (b *Bot) accepts(chat telego.Chat) bool {
	if b.adminChat != 0 {
		return chat.ID == b.adminChat
	}
	return chat.Type == "group" || chat.Type == "supergroup"
}
