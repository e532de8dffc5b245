package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"migration-agent/agent/internal/blacklist"
	"migration-agent/agent/internal/models"

	"go.uber.org/zap"
)

const helpText = `Available commands:
/blacklist - Show blacklisted coins, developers and handles.
/ban {coin|developer|handle} {value} - Add an entry to the blacklist.
/status - Show the last pipeline run.
/help - Show this help message.`

// ParseCommand splits "/cmd@botname args" into its lower-cased command and arguments.
func ParseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, args, _ := strings.Cut(text[1:], " ")
	if at := strings.Index(head, "@"); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(args), true
}

// HandleCommand executes one command and returns the reply text.
func (b *Bot) HandleCommand(ctx context.Context, text string) string {
	command, args, ok := ParseCommand(text)
	if !ok {
		return helpText
	}
	b.log.Info("Processing command", zap.String("command", command), zap.String("args", args))

	switch command {
	case "blacklist":
		return b.handleBlacklistCommand()
	case "ban":
		return b.handleBanCommand(ctx, args)
	case "status":
		return b.handleStatusCommand()
	case "start", "help":
		return helpText
	default:
		b.log.Warn("Unknown command received", zap.String("command", command))
		return fmt.Sprintf("Unknown command: /%s\n\n%s", command, helpText)
	}
}

func (b *Bot) handleBlacklistCommand() string {
	snap := b.registry.Snapshot()
	kinds := []models.BlacklistKind{models.BlacklistCoin, models.BlacklistDeveloper, models.BlacklistHandle}

	var sb strings.Builder
	sb.WriteString("Blacklist:\n")
	for _, kind := range kinds {
		values := snap[kind]
		if len(values) == 0 {
			fmt.Fprintf(&sb, "%s: (none)\n", kind)
			continue
		}
		fmt.Fprintf(&sb, "%s (%d): %s\n", kind, len(values), strings.Join(values, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) handleBanCommand(ctx context.Context, args string) string {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "Usage: /ban {coin|developer|handle} {value}"
	}
	kind, ok := blacklist.ParseKind(parts[0])
	if !ok {
		return fmt.Sprintf("Unknown blacklist kind %q. Use coin, developer or handle.", parts[0])
	}

	added, err := b.registry.Add(ctx, models.BlacklistEntry{Kind: kind, Value: parts[1], Reason: "telegram admin"})
	if err != nil {
		b.log.Error("Ban command failed", zap.String("kind", string(kind)), zap.String("value", parts[1]), zap.Error(err))
		return "An error occurred while updating the blacklist."
	}
	value := blacklist.Normalize(kind, parts[1])
	if added == 0 {
		return fmt.Sprintf("%s %s is already blacklisted.", kind, value)
	}
	b.log.Info("Blacklist entry added via Telegram", zap.String("kind", string(kind)), zap.String("value", value))
	return fmt.Sprintf("%s %s has been blacklisted.", kind, value)
}

func (b *Bot) handleStatusCommand() string {
	if b.status == nil {
		return "Pipeline status unavailable."
	}
	rep, running := b.status.LastReport()
	state := "idle"
	if running {
		state = "running"
	}
	if rep == nil {
		return fmt.Sprintf("Pipeline %s. No run has finished yet.", state)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pipeline %s. Last run %s (%s).\n", state,
		rep.FinishedAt.UTC().Format("2006-01-02 15:04:05 MST"), rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&sb, "Coins: fetched %d, saved %d, blacklisted %d, filtered %d\n",
		rep.Ingestion.Fetched, rep.Ingestion.Saved, rep.Ingestion.Blacklisted, rep.Ingestion.Filtered)
	fmt.Fprintf(&sb, "Verification: good %d, bad %d, failed %d\n",
		rep.Verification.Good, rep.Verification.Bad, rep.Verification.Failed)
	fmt.Fprintf(&sb, "Posts saved: %d\n", rep.Social.Saved)
	fmt.Fprintf(&sb, "Trades: buy %d, sell %d, dispatched %d", rep.Trading.Buys, rep.Trading.Sells, rep.Trading.Dispatched)

	if len(rep.StageErrors) > 0 {
		stages := make([]string, 0, len(rep.StageErrors))
		for stage := range rep.StageErrors {
			stages = append(stages, stage)
		}
		sort.Strings(stages)
		for _, stage := range stages {
			fmt.Fprintf(&sb, "\n%s error: %s", stage, rep.StageErrors[stage])
		}
	}
	return sb.String()
}
