// Package opml reads and writes OPML 2.0 subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"quill/internal/store"
)

// Document is the root of an OPML document.
type Document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head carries document metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body holds the outline tree.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a single outline element, either a group or a feed.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is a flattened subscription from an imported document.
type Entry struct {
	Title string
	URL   string
	Group string
}

// Parse decodes an OPML document and flattens its outlines into entries.
// Nested outlines without an xmlUrl are treated as groups; only the
// outermost group name is kept.
func Parse(r io.Reader) ([]Entry, error) {
	var doc Document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []Entry
	var walk func(outlines []Outline, group string)
	walk = func(outlines []Outline, group string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{
					Title: title,
					URL:   o.XMLURL,
					Group: group,
				})
				continue
			}
			if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				if group != "" {
					name = group
				}
				walk(o.Outlines, name)
			}
		}
	}
	walk(doc.Body.Outlines, "")
	return entries, nil
}

// Export renders the enabled feeds as an OPML 2.0 document. Feeds are
// grouped into nested outlines by group name; ungrouped feeds sit at the
// top level.
func Export(title string, feeds []*store.Feed, groups []*store.Group) ([]byte, error) {
	names := make(map[int64]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.Name
	}

	grouped := make(map[int64]*Outline)
	var roots []Outline
	var order []int64

	for _, f := range feeds {
		if !f.Enabled {
			continue
		}
		feedOutline := Outline{
			Text:   f.DisplayTitle(),
			Title:  f.DisplayTitle(),
			Type:   "rss",
			XMLURL: f.Source,
		}
		if f.GroupID == nil {
			roots = append(roots, feedOutline)
			continue
		}
		id := *f.GroupID
		if o, ok := grouped[id]; ok {
			o.Outlines = append(o.Outlines, feedOutline)
			continue
		}
		grouped[id] = &Outline{
			Text:     names[id],
			Title:    names[id],
			Outlines: []Outline{feedOutline},
		}
		order = append(order, id)
	}
	for _, id := range order {
		roots = append(roots, *grouped[id])
	}

	doc := Document{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
		Body: Body{Outlines: roots},
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
