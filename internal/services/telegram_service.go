package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/motiondata/internal/models"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramService sends admin notifications through the Telegram Bot API.
type TelegramService struct {
	botToken    string
	adminChatID string
	apiBase     string
	client      *http.Client
	log         *zap.Logger
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string, log *zap.Logger) *TelegramService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     defaultTelegramAPI,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

// Enabled reports whether both the bot token and the admin chat are set.
func (s *TelegramService) Enabled() bool {
	return s.botToken != "" && s.adminChatID != ""
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends an HTML-formatted message to chatID.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.log.Debug("telegram bot token not configured")
		return nil
	}

	body, err := json.Marshal(telegramMessage{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(s.apiBase, "/"), s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// FormatAmount renders an amount with thousand separators and two decimals.
func FormatAmount(amount float64, currency string) string {
	if currency == "" {
		currency = "GHS"
	}
	fixed := decimal.NewFromFloat(amount).StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var result strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(digit)
	}
	return currency + " " + result.String() + "." + frac
}

func orderMessage(o models.Order) string {
	field := func(v string) string {
		if v == "" {
			return "N/A"
		}
		return html.EscapeString(v)
	}

	return fmt.Sprintf(`<b>🛒 New order</b>
<b>Order:</b> %s
<b>Customer:</b> %s (%s)
<b>Phone:</b> %s
<b>Bundle:</b> %s %s
<b>Amount:</b> %s
<b>Status:</b> %s`,
		field(o.ID),
		field(o.Customer),
		field(o.Email),
		field(o.Phone),
		field(o.Network),
		field(o.Package),
		FormatAmount(o.Amount, ""),
		field(o.Status),
	)
}

// NotifyNewOrder announces an order in the admin chat.
func (s *TelegramService) NotifyNewOrder(order models.Order) error {
	if !s.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()
	return s.SendMessage(ctx, s.adminChatID, orderMessage(order))
}
