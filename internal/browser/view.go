package browser

import (
	"errors"
	"time"
)

var ErrNavigationTimeout = errors.New("navigation timed out")

// Element is a matched node in a frame.
type Element interface {
	Text() (string, error)
	// Attribute reports the value and whether the attribute is set.
	Attribute(name string) (string, bool, error)
}

// Frame is a single document: the top page or an embedded frame.
type Frame interface {
	URL() string
	// QueryElement returns nil, nil when nothing matches.
	QueryElement(selector string) (Element, error)
}

// DocumentView exposes the frames of a loaded page, top document first.
type DocumentView interface {
	Frames() []Frame
}

// Page is one browser tab owned by a single acquisition.
type Page interface {
	DocumentView
	AddInitScript(script string) error
	Navigate(url string, timeout time.Duration) error
	WaitDOMReady(timeout time.Duration) error
	Evaluate(expression string, arg any) (any, error)
	MoveMouse(x, y float64) error
	URL() string
	Close() error
}

// TopFrame returns the first frame of the view, or nil when there is none.
func TopFrame(view DocumentView) Frame {
	frames := view.Frames()
	if len(frames) == 0 {
		return nil
	}
	return frames[0]
}
