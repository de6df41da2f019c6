package challenge

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/maltedev/price-updater/internal/browser"
	"github.com/maltedev/price-updater/internal/config"
)

// Context identifies one solvable challenge instance on a page.
type Context struct {
	SiteKey      string
	ChallengeURL string
	PageURL      string
	FrameIndex   int
}

type DetectorConfig struct {
	HostPattern       string
	ModeMarkers       []string
	MarkerSelectors   []string
	SiteKeyAttributes []string
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		HostPattern:       `(?i)^https?://(www\.)?(google\.com|recaptcha\.net)/recaptcha/`,
		ModeMarkers:       []string{"/anchor", "size=invisible"},
		MarkerSelectors:   []string{"#nocaptcha", ".g-recaptcha", "[data-sitekey]"},
		SiteKeyAttributes: []string{"data-sitekey"},
	}
}

func DetectorConfigFromConfig(cfg config.ChallengeConfig) DetectorConfig {
	d := DefaultDetectorConfig()
	if cfg.HostPattern != "" {
		d.HostPattern = cfg.HostPattern
	}
	if len(cfg.ModeMarkers) > 0 {
		d.ModeMarkers = cfg.ModeMarkers
	}
	if len(cfg.MarkerSelectors) > 0 {
		d.MarkerSelectors = cfg.MarkerSelectors
	}
	if len(cfg.SiteKeyAttributes) > 0 {
		d.SiteKeyAttributes = cfg.SiteKeyAttributes
	}
	return d
}

type Detector struct {
	host *regexp.Regexp
	cfg  DetectorConfig
}

func NewDetector(cfg DetectorConfig) (*Detector, error) {
	host, err := regexp.Compile(cfg.HostPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid challenge host pattern: %w", err)
	}
	return &Detector{host: host, cfg: cfg}, nil
}

// IsPresent reports whether any frame is served by the challenge host or
// carries one of the marker elements. A query error is returned only when no
// marker query could be answered at all.
func (d *Detector) IsPresent(view browser.DocumentView) (bool, error) {
	var (
		firstErr error
		answered bool
	)

	for _, frame := range view.Frames() {
		if d.host.MatchString(frame.URL()) {
			return true, nil
		}

		for _, sel := range d.cfg.MarkerSelectors {
			el, err := frame.QueryElement(sel)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			answered = true
			if el != nil {
				return true, nil
			}
		}
	}

	if answered {
		return false, nil
	}
	return false, firstErr
}

// Locate finds a challenge frame that is ready to be solved: served by the
// challenge host, in a known challenge mode, and exposing a site key.
func (d *Detector) Locate(view browser.DocumentView) (*Context, bool) {
	frames := view.Frames()
	if len(frames) == 0 {
		return nil, false
	}
	pageURL := frames[0].URL()

	for i, frame := range frames {
		frameURL := frame.URL()
		if !d.host.MatchString(frameURL) || !d.hasModeMarker(frameURL) {
			continue
		}

		if key, ok := d.siteKey(frame); ok {
			return &Context{
				SiteKey:      key,
				ChallengeURL: frameURL,
				PageURL:      pageURL,
				FrameIndex:   i,
			}, true
		}
	}

	return nil, false
}

func (d *Detector) hasModeMarker(u string) bool {
	for _, m := range d.cfg.ModeMarkers {
		if strings.Contains(u, m) {
			return true
		}
	}
	return false
}

func (d *Detector) siteKey(frame browser.Frame) (string, bool) {
	for _, attr := range d.cfg.SiteKeyAttributes {
		el, err := frame.QueryElement("[" + attr + "]")
		if err != nil || el == nil {
			continue
		}
		value, ok, err := el.Attribute(attr)
		if err != nil || !ok || strings.TrimSpace(value) == "" {
			continue
		}
		return strings.TrimSpace(value), true
	}
	return "", false
}
