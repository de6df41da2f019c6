// Package htmlview provides a static DocumentView over saved HTML, used to
// probe detection markers and price selectors without a live browser.
package htmlview

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/price-updater/internal/browser"
)

type Document struct {
	url string
	doc *goquery.Document
}

func Parse(url string, r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document %s: %w", url, err)
	}
	return &Document{url: url, doc: doc}, nil
}

func ParseString(url, html string) (*Document, error) {
	return Parse(url, strings.NewReader(html))
}

// MustParse is for tests and fixtures.
func MustParse(url, html string) *Document {
	d, err := ParseString(url, html)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Document) URL() string {
	return d.url
}

func (d *Document) QueryElement(selector string) (browser.Element, error) {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	return element{sel: sel}, nil
}

type element struct {
	sel *goquery.Selection
}

func (e element) Text() (string, error) {
	return e.sel.Text(), nil
}

func (e element) Attribute(name string) (string, bool, error) {
	value, ok := e.sel.Attr(name)
	return value, ok, nil
}

// View is a fixed set of documents: the top page followed by its frames.
type View struct {
	frames []browser.Frame
}

func NewView(top *Document, frames ...*Document) *View {
	v := &View{frames: []browser.Frame{top}}
	for _, f := range frames {
		v.frames = append(v.frames, f)
	}
	return v
}

func (v *View) Frames() []browser.Frame {
	return v.frames
}
