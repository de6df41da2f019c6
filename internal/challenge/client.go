package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maltedev/price-updater/internal/config"
	"github.com/maltedev/price-updater/internal/ratelimit"
)

type SolverClientConfig struct {
	APIKey         string
	BaseURL        string
	TaskType       string
	Action         string
	PollInterval   time.Duration
	Timeout        time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

func SolverClientConfigFromConfig(cfg config.SolverConfig) SolverClientConfig {
	return SolverClientConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		TaskType:       cfg.TaskType,
		Action:         cfg.Action,
		PollInterval:   cfg.PollInterval,
		Timeout:        cfg.Timeout,
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     3,
		RetryDelay:     cfg.RetryDelay,
	}
}

// SolverClient talks to a createTask/getTaskResult solving service
// (2Captcha and CapSolver share this shape).
type SolverClient struct {
	cfg     SolverClientConfig
	http    *http.Client
	delayer ratelimit.Delayer
	logger  *slog.Logger
}

type taskResponse struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	TaskID           json.RawMessage `json:"taskId"`
	Status           string          `json:"status"`
	Solution         map[string]any  `json:"solution"`
}

func NewSolverClient(cfg SolverClientConfig, delayer ratelimit.Delayer, logger *slog.Logger) *SolverClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.2captcha.com"
	}
	if cfg.TaskType == "" {
		cfg.TaskType = "RecaptchaV2TaskProxyless"
	}
	if cfg.Action == "" {
		cfg.Action = "verify"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if delayer == nil {
		delayer = ratelimit.Sleeper{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &SolverClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		delayer: delayer,
		logger:  logger.With("component", "solver"),
	}
}

func (s *SolverClient) Solve(ctx context.Context, c *Context) (string, error) {
	if err := s.validate(c); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	created, err := s.request(ctx, "/createTask", map[string]any{
		"clientKey": s.cfg.APIKey,
		"task": map[string]any{
			"type":        s.cfg.TaskType,
			"websiteURL":  c.PageURL,
			"websiteKey":  c.SiteKey,
			"isInvisible": true,
			"pageAction":  s.cfg.Action,
		},
	})
	if err != nil {
		return "", err
	}
	if created.ErrorID != 0 {
		return "", apiError(created)
	}

	s.logger.Debug("solver task created", "task_id", string(created.TaskID), "page_url", c.PageURL)

	return s.poll(ctx, created.TaskID)
}

func (s *SolverClient) validate(c *Context) error {
	switch {
	case s.cfg.APIKey == "":
		return &SolverError{Kind: KindValidation, Err: errors.New("api key is not configured")}
	case c == nil:
		return &SolverError{Kind: KindValidation, Err: errors.New("challenge context is nil")}
	case c.SiteKey == "":
		return &SolverError{Kind: KindValidation, Err: errors.New("site key is empty")}
	case c.PageURL == "":
		return &SolverError{Kind: KindValidation, Err: errors.New("page url is empty")}
	}
	return nil
}

func (s *SolverClient) poll(ctx context.Context, taskID json.RawMessage) (string, error) {
	for {
		if err := s.delayer.Wait(ctx, s.cfg.PollInterval); err != nil {
			return "", &SolverError{Kind: KindTimeout, Err: fmt.Errorf("solve timeout: %w", err)}
		}

		res, err := s.request(ctx, "/getTaskResult", map[string]any{
			"clientKey": s.cfg.APIKey,
			"taskId":    taskID,
		})
		if err != nil {
			return "", err
		}
		if res.ErrorID != 0 {
			return "", apiError(res)
		}
		if res.Status != "ready" {
			continue
		}

		for _, key := range []string{"gRecaptchaResponse", "token"} {
			if token, ok := res.Solution[key].(string); ok && token != "" {
				return token, nil
			}
		}
		return "", &SolverError{Kind: KindAPI, Code: "ERROR_EMPTY_SOLUTION", Err: errors.New("no token in solution")}
	}
}

func apiError(res *taskResponse) error {
	return &SolverError{Kind: KindAPI, Code: res.ErrorCode, Err: errors.New(res.ErrorDescription)}
}

func (s *SolverClient) request(ctx context.Context, path string, payload any) (*taskResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &SolverError{Kind: KindValidation, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := s.delayer.Wait(ctx, s.cfg.RetryDelay); err != nil {
				return nil, &SolverError{Kind: KindTimeout, Err: err}
			}
		}

		res, err := s.do(ctx, path, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, &SolverError{Kind: KindTimeout, Err: ctx.Err()}
		}
		s.logger.Debug("solver request failed", "path", path, "attempt", attempt+1, "error", err)
	}

	return nil, &SolverError{Kind: KindNetwork, Err: fmt.Errorf("request failed after %d attempts: %w", s.cfg.MaxRetries, lastErr)}
}

func (s *SolverClient) do(ctx context.Context, path string, body []byte) (*taskResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	res := &taskResponse{}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return res, nil
}
