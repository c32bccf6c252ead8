// Package telegram provides a client for sending theft-risk alerts via Telegram Bot API.
package telegram

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/pharmguard/internal/models"
)

// sender is the part of the bot API the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return newClient(bot, chatIDInt, maxRetries, retryDelayBase), nil
}

func newClient(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendAlert sends the alert for an assessment that requires one.
func (c *Client) SendAlert(pharmacy string, a *models.Assessment) error {
	return c.sendMarkdownV2(formatAlert(pharmacy, a))
}

// SendDailySummary sends a short status line for the day, alerting or not.
func (c *Client) SendDailySummary(pharmacy string, a *models.Assessment) error {
	return c.sendMarkdownV2(formatSummary(pharmacy, a))
}

// SendError sends a run failure notification.
func (c *Client) SendError(runErr error) error {
	text := fmt.Sprintf("⚠️ *Analysis error*\n`%s`", escapeMarkdownV2(runErr.Error()))
	return c.sendMarkdownV2(text)
}

func levelEmoji(level models.RiskLevel) string {
	switch level {
	case models.RiskCritical:
		return "🚨"
	case models.RiskHigh:
		return "🔴"
	case models.RiskMedium:
		return "🟠"
	default:
		return "🟢"
	}
}

// formatAlert formats an assessment into a Telegram MarkdownV2 message.
func formatAlert(pharmacy string, a *models.Assessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *Theft risk alert: %s*\n", levelEmoji(a.RiskLevel), escapeMarkdownV2(pharmacy))
	fmt.Fprintf(&b, "📅 %s", escapeMarkdownV2(a.Date.Format(models.DateLayout)))
	if a.BranchID != "" {
		fmt.Fprintf(&b, " · %s", escapeMarkdownV2(a.BranchID))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Risk: *%s* \\(%d/%d\\)\n\n",
		escapeMarkdownV2(strings.ToUpper(string(a.RiskLevel))), a.TotalRiskScore, models.MaxRiskScore)

	if len(a.AlertMessages) > 0 {
		b.WriteString("*Issues*\n")
		for i, msg := range a.AlertMessages {
			fmt.Fprintf(&b, "%d\\. %s\n", i+1, escapeMarkdownV2(msg))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "*Action:* %s\n", escapeMarkdownV2(a.RecommendedAction))

	if lines := breakdownLines(a); len(lines) > 0 {
		b.WriteString("\n*Breakdown*\n")
		for _, l := range lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// breakdownLines lists analysable detectors with a nonzero contribution.
func breakdownLines(a *models.Assessment) []string {
	names := a.Detectors
	if len(names) == 0 {
		for name := range a.Results {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	var lines []string
	for _, name := range names {
		res, ok := a.Results[name]
		if !ok || !res.CanAnalyze || res.RiskScore == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("• %s: %d pts", escapeMarkdownV2(name), res.RiskScore))
	}
	return lines
}

func formatSummary(pharmacy string, a *models.Assessment) string {
	return fmt.Sprintf("%s *%s* %s: %s \\(%d/%d\\), %d issue\\(s\\)",
		levelEmoji(a.RiskLevel),
		escapeMarkdownV2(pharmacy),
		escapeMarkdownV2(a.Date.Format(models.DateLayout)),
		escapeMarkdownV2(string(a.RiskLevel)),
		a.TotalRiskScore, models.MaxRiskScore,
		len(a.AlertMessages),
	)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
