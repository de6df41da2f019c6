package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/price-updater/internal/config"
)

type Options struct {
	Headless    bool
	Timeout     time.Duration
	UserDataDir string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:    true,
		Timeout:     30 * time.Second,
		UserDataDir: "./browser-data",
	}
}

func OptionsFromConfig(cfg config.BrowserConfig) *Options {
	return &Options{
		Headless:    cfg.Headless,
		Timeout:     cfg.Timeout,
		UserDataDir: cfg.UserDataDir,
	}
}

func (o *Options) Validate() error {
	if o.UserDataDir == "" {
		return fmt.Errorf("user data dir is required")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Session is a persistent browser context. Cookies, storage and fingerprint
// survive between lookups and between process runs through UserDataDir, so
// two live sessions must never share a directory.
type Session struct {
	pw        *playwright.Playwright
	context   playwright.BrowserContext
	opts      *Options
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

func OpenSession(opts *Options, profile *StealthProfile, logger *slog.Logger) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if profile == nil {
		profile = DefaultStealthProfile()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid browser options: %w", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(opts.Headless),
		Args:              profile.LaunchArgs,
		UserAgent:         playwright.String(profile.UserAgent),
		Locale:            playwright.String(profile.Locale),
		TimezoneId:        playwright.String(profile.TimezoneID),
		DeviceScaleFactor: playwright.Float(profile.DeviceScaleFactor),
		JavaScriptEnabled: playwright.Bool(true),
		Viewport: &playwright.Size{
			Width:  profile.ViewportWidth,
			Height: profile.ViewportHeight,
		},
		ExtraHttpHeaders: profile.Headers,
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(opts.UserDataDir, launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch persistent context: %w", err)
	}

	bctx.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	logger = logger.With("component", "browser")
	logger.Info("browser session opened", "user_data_dir", opts.UserDataDir, "headless", opts.Headless)

	return &Session{
		pw:      pw,
		context: bctx,
		opts:    opts,
		logger:  logger,
	}, nil
}

func (s *Session) NewPage() (Page, error) {
	page, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(s.opts.Timeout.Milliseconds()))

	return &pwPage{page: page}, nil
}

// Close releases the context and the driver. It is safe to call repeatedly;
// only the first call does any work.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.context != nil {
			if err := s.context.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close context: %w", err))
			}
		}

		if s.pw != nil {
			if err := s.pw.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
			}
		}

		s.closeErr = errors.Join(errs...)
		if s.closeErr != nil {
			s.logger.Error("browser session close failed", "error", s.closeErr)
			return
		}
		s.logger.Info("browser session closed")
	})

	return s.closeErr
}
