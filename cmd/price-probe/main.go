// Command price-probe runs challenge detection and price extraction over
// saved HTML so markers and selectors can be tuned offline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/maltedev/price-updater/internal/browser"
	"github.com/maltedev/price-updater/internal/browser/htmlview"
	"github.com/maltedev/price-updater/internal/challenge"
	"github.com/maltedev/price-updater/internal/config"
	"github.com/maltedev/price-updater/internal/extract"
)

// frameFlags collects repeated -frame url=path arguments.
type frameFlags []frameSource

type frameSource struct {
	url  string
	path string
}

func (f *frameFlags) String() string {
	parts := make([]string, len(*f))
	for i, s := range *f {
		parts[i] = s.url + "=" + s.path
	}
	return strings.Join(parts, ",")
}

func (f *frameFlags) Set(value string) error {
	i := strings.LastIndex(value, "=")
	if i < 0 {
		return errors.New("expected url=path")
	}
	url, path := value[:i], value[i+1:]
	if url == "" || path == "" {
		return errors.New("expected url=path")
	}
	*f = append(*f, frameSource{url: url, path: path})
	return nil
}

type report struct {
	ChallengePresent bool               `json:"challenge_present"`
	Challenge        *challenge.Context `json:"challenge,omitempty"`
	Price            string             `json:"price,omitempty"`
	PriceMinor       int64              `json:"price_minor,omitempty"`
	PriceFound       bool               `json:"price_found"`
}

func main() {
	var (
		file   = flag.String("file", "", "saved HTML of the product page")
		url    = flag.String("url", "https://example.invalid/item.html", "URL the page was saved from")
		frames frameFlags
	)
	flag.Var(&frames, "frame", "embedded frame as url=path, repeatable")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: price-probe -file page.html [-url URL] [-frame url=file.html ...]")
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	view, err := loadView(*url, *file, frames)
	if err != nil {
		logger.Error("failed to load documents", "error", err)
		os.Exit(1)
	}

	detector, err := challenge.NewDetector(challenge.DetectorConfigFromConfig(cfg.Challenge))
	if err != nil {
		logger.Error("invalid detector config", "error", err)
		os.Exit(1)
	}
	extractor := extract.NewExtractor(extract.StrategiesFromSelectors(cfg.Extract.Selectors), 0, nil, logger)

	r, err := probe(context.Background(), view, detector, extractor)
	if err != nil {
		logger.Error("probe failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		logger.Error("failed to write report", "error", err)
		os.Exit(1)
	}
}

func loadView(url, path string, frames frameFlags) (*htmlview.View, error) {
	top, err := loadDocument(url, path)
	if err != nil {
		return nil, err
	}

	docs := make([]*htmlview.Document, 0, len(frames))
	for _, f := range frames {
		doc, err := loadDocument(f.url, f.path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return htmlview.NewView(top, docs...), nil
}

func loadDocument(url, path string) (*htmlview.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return htmlview.Parse(url, f)
}

func probe(ctx context.Context, view browser.DocumentView, detector *challenge.Detector, extractor *extract.Extractor) (report, error) {
	var r report

	present, err := detector.IsPresent(view)
	if err != nil {
		return r, err
	}
	r.ChallengePresent = present
	if c, ok := detector.Locate(view); ok {
		r.Challenge = c
	}

	if price, ok := extractor.Extract(ctx, view, 1); ok {
		r.PriceFound = true
		r.Price = price.String()
		r.PriceMinor = extract.ToMinorUnits(price)
	}
	return r, nil
}
