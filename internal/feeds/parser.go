package feeds

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
)

// Item is a single normalized feed entry
type Item struct {
	Title      string     `json:"title"`
	Link       string     `json:"link"`
	GUID       string     `json:"guid"`
	Summary    string     `json:"summary"`
	Content    string     `json:"content"`
	Author     string     `json:"author,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	Published  *time.Time `json:"published,omitempty"`
}

// Document is the decoded feed returned to callers as JSON
type Document struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description"`
	Language    string     `json:"language,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`
	FeedType    string     `json:"feed_type"`
	Items       []Item     `json:"items"`
}

// Decoder turns raw response bytes into a Document
type Decoder interface {
	Decode(data []byte) (*Document, error)
}

// GofeedDecoder decodes RSS, Atom and JSON feeds with gofeed
type GofeedDecoder struct{}

// NewDecoder returns the default feed decoder
func NewDecoder() *GofeedDecoder {
	return &GofeedDecoder{}
}

// Decode parses RSS/Atom feed data and returns a normalized document
func (GofeedDecoder) Decode(data []byte) (*Document, error) {
	fp := gofeed.NewParser()
	feed, err := fp.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	doc := &Document{
		Title:       feed.Title,
		Link:        feed.Link,
		Description: feed.Description,
		Language:    feed.Language,
		Updated:     feed.UpdatedParsed,
		FeedType:    feed.FeedType,
		Items:       make([]Item, 0, len(feed.Items)),
	}

	for _, item := range feed.Items {
		doc.Items = append(doc.Items, normalizeItem(item))
	}

	return doc, nil
}

func normalizeItem(item *gofeed.Item) Item {
	// Use GUID if available, otherwise use link
	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}

	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}

	summary := item.Description
	if summary == "" {
		summary = item.Content
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}

	author := ""
	if item.Author != nil {
		author = item.Author.Name
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}

	return Item{
		Title:      item.Title,
		Link:       item.Link,
		GUID:       guid,
		Summary:    summary,
		Content:    content,
		Author:     author,
		Categories: item.Categories,
		Published:  published,
	}
}
