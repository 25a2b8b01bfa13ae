// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	// APIBase overrides DefaultAPIBase.
	APIBase string
	Timeout time.Duration
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Bot sends image notifications to subscriber audiences.
type Bot struct {
	botToken    string
	apiBase     string
	httpClient  *http.Client
	subscribers *Subscribers
}

// NewBot creates a bot delivering to subs.
func NewBot(config Config, subs *Subscribers) *Bot {
	apiBase := config.APIBase
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Bot{
		botToken:    config.BotToken,
		apiBase:     apiBase,
		httpClient:  &http.Client{Timeout: timeout},
		subscribers: subs,
	}
}

// Subscribers returns the audience set the bot delivers to.
func (b *Bot) Subscribers() *Subscribers {
	return b.subscribers
}

// HasDebugAudience reports whether anyone receives debug notifications.
func (b *Bot) HasDebugAudience() bool {
	return b.subscribers.Count(AudienceDebug) > 0
}

// SendPrimary delivers text and image to every subscriber.
func (b *Bot) SendPrimary(ctx context.Context, image []byte, text string) {
	b.broadcast(ctx, AudienceSubscribers, image, text)
}

// SendDebug delivers text and image to the debug audience.
func (b *Bot) SendDebug(ctx context.Context, image []byte, text string) {
	b.broadcast(ctx, AudienceDebug, image, text)
}

// broadcast never fails: a recipient that cannot be reached is logged and
// skipped.
func (b *Bot) broadcast(ctx context.Context, audience string, image []byte, text string) {
	for _, chatID := range b.subscribers.List(audience) {
		if ctx.Err() != nil {
			return
		}
		if text != "" {
			if err := b.SendMessage(ctx, chatID, text); err != nil {
				log.Printf("[Telegram] warning: failed to send message to %d: %v", chatID, err)
			}
		}
		if len(image) > 0 {
			if err := b.SendPhoto(ctx, chatID, image); err != nil {
				log.Printf("[Telegram] warning: failed to send photo to %d: %v", chatID, err)
			}
		}
	}
}

// SendMessage sends a text message to one chat.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendMessage"), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// SendPhoto uploads a JPEG to one chat using multipart form data.
func (b *Bot) SendPhoto(ctx context.Context, chatID int64, photoData []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}

	part, err := writer.CreateFormFile("photo", "photo.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.botToken, method)
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if !telegramResp.OK {
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}

	return nil
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}
