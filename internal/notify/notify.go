package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/price-updater/internal/config"
)

type Notifier interface {
	Notify(ctx context.Context, recipient, message string) error
}

const defaultVonageURL = "https://rest.nexmo.com/sms/json"

// SMSNotifier sends text messages through the Vonage SMS REST API.
type SMSNotifier struct {
	apiKey    string
	apiSecret string
	sender    string
	endpoint  string
	http      *http.Client
	logger    *slog.Logger
}

type vonageResponse struct {
	MessageCount string `json:"message-count"`
	Messages     []struct {
		To        string `json:"to"`
		Status    string `json:"status"`
		ErrorText string `json:"error-text"`
	} `json:"messages"`
}

func NewSMSNotifier(cfg config.NotifyConfig, logger *slog.Logger) *SMSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	sender := cfg.Sender
	if sender == "" {
		sender = "PriceUpdater"
	}
	return &SMSNotifier{
		apiKey:    cfg.VonageAPIKey,
		apiSecret: cfg.VonageAPISecret,
		sender:    sender,
		endpoint:  defaultVonageURL,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    logger.With("component", "notify"),
	}
}

func (n *SMSNotifier) Notify(ctx context.Context, recipient, message string) error {
	form := url.Values{
		"api_key":    {n.apiKey},
		"api_secret": {n.apiSecret},
		"from":       {n.sender},
		"to":         {recipient},
		"text":       {message},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read sms response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out vonageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("failed to decode sms response: %w", err)
	}
	for _, m := range out.Messages {
		if m.Status != "0" {
			return fmt.Errorf("sms to %s rejected with status %s: %s", recipient, m.Status, m.ErrorText)
		}
	}

	n.logger.Info("sms sent", "recipient", recipient)
	return nil
}

// LogNotifier only writes the alert to the log. Used when no SMS credentials
// are configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, recipient, message string) error {
	n.logger.Warn("alert", "recipient", recipient, "message", message)
	return nil
}

// FromConfig picks the SMS notifier when credentials are present.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) Notifier {
	if cfg.VonageAPIKey != "" && cfg.VonageAPISecret != "" {
		return NewSMSNotifier(cfg, logger)
	}
	return NewLogNotifier(logger)
}
