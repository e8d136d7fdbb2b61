package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/logging"
)

// DefaultSendURLTemplate takes the project id.
const DefaultSendURLTemplate = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type message struct {
	Token        string       `json:"token"`
	Notification notification `json:"notification"`
}

type sendRequest struct {
	Message message `json:"message"`
}

// Sender delivers one notification to one device.
type Sender struct {
	tokens  TokenSource
	sendURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewSender creates a sender posting to sendURL with tokens from ts.
func NewSender(ts TokenSource, sendURL string, client *http.Client, logger zerolog.Logger) *Sender {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Sender{
		tokens:  ts,
		sendURL: sendURL,
		http:    client,
		logger:  logging.WithOperation(logger, "fcm_send"),
	}
}

// Send posts the message. Token failures are returned as-is so fatal
// configuration errors stay visible; HTTP failures become a DeliveryError.
func (s *Sender) Send(ctx context.Context, deviceToken, title, body string) error {
	bearer, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("obtaining access token: %w", err)
	}

	payload, err := json.Marshal(sendRequest{Message: message{
		Token:        deviceToken,
		Notification: notification{Title: title, Body: body},
	}})
	if err != nil {
		return apperrors.NewDeliveryError(deviceToken, 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sendURL, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewDeliveryError(deviceToken, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.http.Do(req)
	logging.LogAPICall(s.logger, http.MethodPost, s.sendURL, time.Since(start), err)
	if err != nil {
		return apperrors.NewDeliveryError(deviceToken, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return apperrors.NewDeliveryError(deviceToken, resp.StatusCode, fmt.Errorf("push rejected: %s", logging.Redact(strings.TrimSpace(string(detail)))))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
