package browser

import (
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) AddInitScript(script string) error {
	return p.page.AddInitScript(playwright.Script{Content: playwright.String(script)})
}

func (p *pwPage) Navigate(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	return mapTimeout(err)
}

func (p *pwPage) WaitDOMReady(timeout time.Duration) error {
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return mapTimeout(err)
}

func (p *pwPage) Evaluate(expression string, arg any) (any, error) {
	if arg == nil {
		return p.page.Evaluate(expression)
	}
	return p.page.Evaluate(expression, arg)
}

func (p *pwPage) MoveMouse(x, y float64) error {
	return p.page.Mouse().Move(x, y)
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

func (p *pwPage) Frames() []Frame {
	main := p.page.MainFrame()
	frames := []Frame{&pwFrame{frame: main}}
	for _, f := range p.page.Frames() {
		if f == main {
			continue
		}
		frames = append(frames, &pwFrame{frame: f})
	}
	return frames
}

type pwFrame struct {
	frame playwright.Frame
}

func (f *pwFrame) URL() string {
	return f.frame.URL()
}

func (f *pwFrame) QueryElement(selector string) (Element, error) {
	handle, err := f.frame.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if handle == nil {
		return nil, nil
	}
	return &pwElement{handle: handle}, nil
}

type pwElement struct {
	handle playwright.ElementHandle
}

func (e *pwElement) Text() (string, error) {
	return e.handle.TextContent()
}

func (e *pwElement) Attribute(name string) (string, bool, error) {
	value, err := e.handle.GetAttribute(name)
	if err != nil {
		return "", false, err
	}
	return value, value != "", nil
}

func mapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	}
	return err
}
