package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type Telegram struct {
	client   *retryablehttp.Client
	botToken string
	chatID   string
}

func NewTelegram(botToken string, chatID string) *Telegram {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	return &Telegram{
		client:   client,
		botToken: botToken,
		chatID:   chatID,
	}
}

func (t *Telegram) NotifySale(ctx context.Context, sale SaleSummary) error {
	text := fmt.Sprintf("New sale %s: %d item(s), total %s", sale.TicketNumber, sale.LineCount, formatCents(sale.TotalCents))
	if sale.CustomerName != "" {
		text += " for " + sale.CustomerName
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage returned %d", resp.StatusCode)
	}
	return nil
}
