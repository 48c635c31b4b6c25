package opml_test

import (
	"strings"
	"testing"

	"quill/internal/opml"
	"quill/internal/store"
)

const sampleOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Go Time" type="rss" xmlUrl="https://example.com/gotime.xml"/>
    <outline text="News">
      <outline text="Daily Brief" title="Daily Brief" type="rss" xmlUrl="https://example.com/brief.xml"/>
      <outline text="Weekly">
        <outline text="Week in Review" type="rss" xmlUrl="https://example.com/review.xml"/>
      </outline>
    </outline>
    <outline text="Empty Folder"/>
  </body>
</opml>`

func TestParseFlattensOutlines(t *testing.T) {
	entries, err := opml.Parse(strings.NewReader(sampleOPML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].URL != "https://example.com/gotime.xml" || entries[0].Group != "" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Title != "Daily Brief" || entries[1].Group != "News" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	if entries[2].Group != "News" {
		t.Fatalf("nested outline should keep the outermost group, got %q", entries[2].Group)
	}
}

func TestParseRejectsMalformedDocument(t *testing.T) {
	if _, err := opml.Parse(strings.NewReader("<opml><body>")); err == nil {
		t.Fatal("expected an error for a truncated document")
	}
}

func TestExportGroupsEnabledFeeds(t *testing.T) {
	groupID := int64(1)
	feeds := []*store.Feed{
		{ID: 1, Title: "Go Time", Source: "https://example.com/gotime.xml", Enabled: true},
		{ID: 2, Title: "Daily Brief", Source: "https://example.com/brief.xml", Enabled: true, GroupID: &groupID},
		{ID: 3, Title: "Disabled", Source: "https://example.com/disabled.xml", Enabled: false},
		{ID: 4, TitleOverride: "Renamed", Source: "https://example.com/renamed.xml", Enabled: true},
	}
	groups := []*store.Group{{ID: 1, Name: "News", Ordering: 1}}

	out, err := opml.Export("quill subscriptions", feeds, groups)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	doc := string(out)
	if !strings.Contains(doc, `xmlUrl="https://example.com/gotime.xml"`) {
		t.Fatalf("missing ungrouped feed in output:\n%s", doc)
	}
	if strings.Contains(doc, "disabled.xml") {
		t.Fatalf("disabled feed should be excluded:\n%s", doc)
	}
	if !strings.Contains(doc, `text="Renamed"`) {
		t.Fatalf("title override should be used:\n%s", doc)
	}
	if !strings.Contains(doc, `text="News"`) {
		t.Fatalf("missing group outline:\n%s", doc)
	}

	// Exported documents must round-trip through Parse.
	entries, err := opml.Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after round trip, got %d", len(entries))
	}
	found := false
	for _, e := range entries {
		if e.URL == "https://example.com/brief.xml" && e.Group == "News" {
			found = true
		}
	}
	if !found {
		t.Fatalf("grouped feed lost its group: %+v", entries)
	}
}
