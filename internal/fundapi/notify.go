package fundapi

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"fundlink/internal/app"
	"fundlink/internal/telegram"
)

func EscapeMarkdownV2(text string) string {
	specialChars := []string{"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	for _, char := range specialChars {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

func SendTelegramMessage(msg string, chat string) error {
	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		err := errors.New("TELEGRAM_TOKEN is not set")
		return err
	}
	chatId := os.Getenv("DEFAULT_CHAT_ID")
	switch chat {
	case "finance":
		chatId = os.Getenv("FINANCE_CHAT_ID")
		if chatId == "" {
			err := errors.New("FINANCE CHAT_ID is not set")
			return err
		}
	case "campaigns":
		chatId = os.Getenv("CAMPAIGNS_CHAT_ID")
		if chatId == "" {
			err := errors.New("CAMPAIGNS CHAT_ID is not set")
			return err
		}
	default:
		if chatId == "" {
			err := errors.New("DEFAULT CHAT_ID is not set")
			return err
		}
	}
	chatIdInt, err := strconv.Atoi(chatId)
	if err != nil {
		return err
	}
	id := int64(chatIdInt)
	bot, err := telegram.NewBot(token)
	if err != nil {
		return err
	}
	return bot.SendMarkdown(id, msg)
}

// financeMessage renders the MarkdownV2 notification for one terminal
// transaction. Every interpolated field goes through EscapeMarkdownV2 except
// the link target itself: uuids carry '-' and types carry '_', both of which
// Telegram rejects unescaped.
func financeMessage(rec *TransactionRecord, cpUrl string) string {
	return fmt.Sprintf(
		`Transaction %s [%s](%s/transactions/%s)
Type: %s
Amount: %s %s
Campaign: %s
Ledger hash: %s
Time: %s`,
		strings.ToUpper(string(rec.Status)),
		EscapeMarkdownV2(rec.Id),
		cpUrl,
		rec.Id,
		EscapeMarkdownV2(string(rec.Type)),
		EscapeMarkdownV2(rec.Amount.Value),
		EscapeMarkdownV2(rec.Amount.Currency),
		EscapeMarkdownV2(rec.CampaignId),
		EscapeMarkdownV2(rec.TxHash),
		EscapeMarkdownV2(app.CurrentMessageTime()),
	)
}

// notifyTransaction posts terminal transactions to the finance chat. Quietly
// does nothing when Telegram is not configured, so tests and local runs stay
// silent.
func notifyTransaction(rec *TransactionRecord) error {
	if os.Getenv("TELEGRAM_TOKEN") == "" {
		return nil
	}
	return SendTelegramMessage(financeMessage(rec, os.Getenv("CP_URL")), "finance")
}
