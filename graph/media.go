// Package graph defines the media feed types shared by the gateway and the
// feed loader, and a client for the upstream social-media graph API.
//
// Core types: Media, Page, Paging, Query.
package graph

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Page size bounds accepted by the upstream media edge.
const (
	DefaultLimit = 12
	MinLimit     = 1
	MaxLimit     = 50
)

// DefaultFields is the field list requested for every media item.
var DefaultFields = []string{
	"id",
	"caption",
	"media_type",
	"media_url",
	"permalink",
	"thumbnail_url",
	"timestamp",
	"username",
}

// Media types reported by the upstream.
const (
	MediaTypeImage    = "IMAGE"
	MediaTypeVideo    = "VIDEO"
	MediaTypeCarousel = "CAROUSEL_ALBUM"
)

// Media is a single feed item. Fields outside DefaultFields, such as
// like_count or children when configured, are kept in Extra and written
// back unchanged.
type Media struct {
	ID           string `json:"id"`
	Caption      string `json:"caption,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
	MediaURL     string `json:"media_url,omitempty"`
	Permalink    string `json:"permalink,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
	Username     string `json:"username,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type mediaFields Media

var knownFields = func() map[string]bool {
	m := make(map[string]bool, len(DefaultFields))
	for _, f := range DefaultFields {
		m[f] = true
	}
	return m
}()

// UnmarshalJSON implements json.Unmarshaler.
func (m *Media) UnmarshalJSON(data []byte) error {
	var known mediaFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range all {
		if knownFields[k] {
			delete(all, k)
		}
	}
	known.Extra = nil
	if len(all) > 0 {
		known.Extra = all
	}
	*m = Media(known)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m Media) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(mediaFields(m))
	if err != nil || len(m.Extra) == 0 {
		return data, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if !knownFields[k] {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// Cursors holds the opaque continuation tokens of a page.
type Cursors struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// Paging is the pagination envelope attached to a page.
type Paging struct {
	Cursors  *Cursors `json:"cursors,omitempty"`
	Next     string   `json:"next,omitempty"`
	Previous string   `json:"previous,omitempty"`
}

// Page is one upstream answer. Once returned by a Client it is shared
// between callers and must not be modified.
type Page struct {
	Data   []Media `json:"data"`
	Paging *Paging `json:"paging,omitempty"`
}

// After returns the continuation cursor, or "" when the feed is exhausted.
func (p *Page) After() string {
	if p == nil || p.Paging == nil || p.Paging.Cursors == nil {
		return ""
	}
	return p.Paging.Cursors.After
}

// Len returns the number of items on the page.
func (p *Page) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// Query selects one page of the feed. An empty After requests the first page.
type Query struct {
	Limit int
	After string
}

// Normalize returns q with the limit clamped. The cursor is opaque and kept
// byte for byte; only the empty string means the first page.
func (q Query) Normalize() Query {
	return Query{Limit: ClampLimit(q.Limit), After: q.After}
}

// ClampLimit bounds n to [MinLimit, MaxLimit]. Zero means DefaultLimit.
func ClampLimit(n int) int {
	switch {
	case n == 0:
		return DefaultLimit
	case n < MinLimit:
		return MinLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

// ParseLimit parses a limit query parameter. Missing or malformed values
// yield DefaultLimit; anything else is clamped.
func ParseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultLimit
	}
	n, err := strconv.Atoi(raw)
	if errors.Is(err, strconv.ErrRange) {
		if strings.HasPrefix(raw, "-") {
			return MinLimit
		}
		return MaxLimit
	}
	if err != nil {
		return DefaultLimit
	}
	if n == 0 {
		return MinLimit
	}
	return ClampLimit(n)
}
