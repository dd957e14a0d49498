// Package catalog models the TCGdex card catalog as the snapshot job sees
// it: lightweight listing stubs and the detail record of a single card.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the English TCGdex v2 API.
const DefaultBaseURL = "https://api.tcgdex.net/v2/en"

var (
	// ErrMalformedDetail indicates a detail body that is not a JSON object.
	ErrMalformedDetail = errors.New("malformed card detail")

	// ErrMalformedListing indicates a listing body that is not a JSON array.
	ErrMalformedListing = errors.New("malformed listing page")
)

// Stub is one entry of a listing page.
type Stub struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ParseListing extracts the stubs of a listing page. A null body is an empty
// page. Entries are decoded
// one by one: an entry whose id is neither a string nor a number yields a
// Stub with an empty ID, which callers count as missing.
func ParseListing(body []byte) ([]Stub, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedListing)
	}
	root := gjson.ParseBytes(body)
	if root.Type == gjson.Null {
		return nil, nil
	}
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: expected array, got %s", ErrMalformedListing, root.Type)
	}

	var stubs []Stub
	root.ForEach(func(_, entry gjson.Result) bool {
		stubs = append(stubs, Stub{
			ID:   stubID(entry.Get("id")),
			Name: entry.Get("name").String(),
		})
		return true
	})
	return stubs, nil
}

func stubID(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.String()
	case gjson.Number:
		return r.Raw
	default:
		return ""
	}
}

// Detail is the subset of a card detail record the snapshot needs.
// Every field may be empty when absent upstream.
type Detail struct {
	ID      string
	Name    string
	LocalID string

	// Official and Total are the set's card counts, as raw text
	Official string
	Total    string

	// Avg1 is pricing.cardmarket.avg1 exactly as it appeared in the body
	Avg1    string
	Updated string

	hasPrice bool
}

// HasPrice reports whether pricing.cardmarket.avg1 was present and non-null.
func (d Detail) HasPrice() bool {
	return d.hasPrice
}

// WithPrice returns a copy of d carrying avg1. Used by tests and fixtures.
func (d Detail) WithPrice(avg1 string) Detail {
	d.Avg1 = avg1
	d.hasPrice = true
	return d
}

// ParseDetail extracts a Detail from a card detail JSON body.
func ParseDetail(body []byte) (Detail, error) {
	if !gjson.ValidBytes(body) {
		return Detail{}, fmt.Errorf("%w: invalid json", ErrMalformedDetail)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Detail{}, fmt.Errorf("%w: expected object, got %s", ErrMalformedDetail, root.Type)
	}

	results := gjson.GetManyBytes(body,
		"id",
		"name",
		"localId",
		"set.cardCount.official",
		"set.cardCount.total",
		"pricing.cardmarket.avg1",
		"pricing.cardmarket.updated",
	)

	avg1 := results[5]
	return Detail{
		ID:       text(results[0]),
		Name:     text(results[1]),
		LocalID:  text(results[2]),
		Official: text(results[3]),
		Total:    text(results[4]),
		Avg1:     text(avg1),
		Updated:  text(results[6]),
		hasPrice: avg1.Exists() && avg1.Type != gjson.Null,
	}, nil
}

// text renders a scalar result. Numbers keep their literal form so that
// prices pass through unrounded.
func text(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return ""
	case gjson.Number, gjson.JSON:
		return r.Raw
	default:
		return r.String()
	}
}

// ListURL builds the listing URL for a 1-based page.
func ListURL(base string, page, pageSize int) string {
	return fmt.Sprintf("%s/cards?pagination:page=%d&pagination:itemsPerPage=%d",
		strings.TrimRight(base, "/"), page, pageSize)
}

// DetailURL builds the detail URL for a card id.
func DetailURL(base, id string) string {
	return strings.TrimRight(base, "/") + "/cards/" + url.PathEscape(id)
}
