package browser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maltedev/price-updater/internal/config"
)

// StealthProfile is the fingerprint presented to the target site. It is pure
// configuration and is applied when the session and each page are created.
type StealthProfile struct {
	UserAgent         string
	Locale            string
	TimezoneID        string
	ViewportWidth     int
	ViewportHeight    int
	DeviceScaleFactor float64
	Headers           map[string]string
	LaunchArgs        []string
	Languages         []string
	PluginCount       int
}

func DefaultStealthProfile() *StealthProfile {
	return &StealthProfile{
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		Locale:            "pt-BR",
		TimezoneID:        "America/Sao_Paulo",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		DeviceScaleFactor: 1,
		Headers:           defaultHeaders("pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"),
		LaunchArgs:        []string{"--disable-blink-features=AutomationControlled"},
		Languages:         []string{"pt-BR", "pt", "en-US", "en"},
		PluginCount:       5,
	}
}

func StealthProfileFromConfig(cfg config.StealthConfig) *StealthProfile {
	p := DefaultStealthProfile()
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if cfg.Locale != "" {
		p.Locale = cfg.Locale
	}
	if cfg.TimezoneID != "" {
		p.TimezoneID = cfg.TimezoneID
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		p.ViewportWidth = cfg.ViewportWidth
		p.ViewportHeight = cfg.ViewportHeight
	}
	if cfg.DeviceScaleFactor > 0 {
		p.DeviceScaleFactor = cfg.DeviceScaleFactor
	}
	if cfg.AcceptLanguage != "" {
		p.Headers = defaultHeaders(cfg.AcceptLanguage)
	}
	if len(cfg.Languages) > 0 {
		p.Languages = append([]string(nil), cfg.Languages...)
	}
	return p
}

func defaultHeaders(acceptLanguage string) map[string]string {
	return map[string]string{
		"sec-ch-ua":          `"Not A(Brand";v="99", "Google Chrome";v="121", "Chromium";v="121"`,
		"sec-ch-ua-platform": `"Windows"`,
		"sec-ch-ua-mobile":   "?0",
		"Accept-Language":    acceptLanguage,
		"sec-fetch-site":     "none",
		"sec-fetch-mode":     "navigate",
		"sec-fetch-user":     "?1",
		"sec-fetch-dest":     "document",
	}
}

// InitScript renders the navigator overrides that run before any page script.
func (p *StealthProfile) InitScript() string {
	var b strings.Builder

	b.WriteString("Object.defineProperty(navigator, 'webdriver', { get: () => undefined });")

	plugins := make([]int, p.PluginCount)
	for i := range plugins {
		plugins[i] = i + 1
	}
	pluginsJSON, _ := json.Marshal(plugins)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'plugins', { get: () => %s });", pluginsJSON)

	if len(p.Languages) > 0 {
		langsJSON, _ := json.Marshal(p.Languages)
		fmt.Fprintf(&b, "Object.defineProperty(navigator, 'languages', { get: () => %s });", langsJSON)
	}

	return b.String()
}
