package yad2

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"yad2-watcher/models"
)

const (
	nextDataSelector = "script#__NEXT_DATA__"
	queriesPath      = "props.pageProps.dehydratedState.queries"
)

// Extractor turns a results page into normalized listing records.
type Extractor struct {
	itemBaseURL string
}

// NewExtractor creates an Extractor building detail links from itemBaseURL.
func NewExtractor(itemBaseURL string) *Extractor {
	if itemBaseURL == "" {
		itemBaseURL = models.ItemBaseURL
	}
	return &Extractor{itemBaseURL: itemBaseURL}
}

// ExtractPage is Extract over a fetched page.
func (e *Extractor) ExtractPage(p *Page) ([]models.ListingRecord, error) {
	return e.Extract(p.HTML)
}

// Extract parses the embedded Next.js payload of html. The result keeps page
// order; an advertisement listed in several collections appears once.
func (e *Extractor) Extract(html string) ([]models.ListingRecord, error) {
	payload, err := nextData(html)
	if err != nil {
		return nil, err
	}

	queries := gjson.Get(payload, queriesPath)
	if !queries.IsArray() || len(queries.Array()) == 0 {
		return nil, fmt.Errorf("%w: %s missing or empty", models.ErrSchemaFailure, queriesPath)
	}

	var items []gjson.Result
	collections := 0
	for _, q := range queries.Array() {
		data := q.Get("state.data")
		collections += collectItems(data.Get("data"), &items)
		for _, page := range data.Get("pages").Array() {
			collections += collectItems(page.Get("data"), &items)
		}
	}
	if collections == 0 {
		return nil, fmt.Errorf("%w: no query holds a listing array", models.ErrSchemaFailure)
	}

	seen := make(map[string]struct{}, len(items))
	records := make([]models.ListingRecord, 0, len(items))
	for _, item := range items {
		rec, ok := e.normalize(item)
		if !ok {
			continue
		}
		if _, dup := seen[rec.Token]; dup {
			continue
		}
		seen[rec.Token] = struct{}{}
		records = append(records, rec)
	}
	return records, nil
}

func nextData(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("%w: parse document: %v", models.ErrParseFailure, err)
	}

	script := doc.Find(nextDataSelector).First()
	if script.Length() == 0 {
		return "", fmt.Errorf("%w: %s not found on page", models.ErrParseFailure, nextDataSelector)
	}

	payload := strings.TrimSpace(script.Text())
	if !gjson.Valid(payload) {
		return "", fmt.Errorf("%w: %s is not valid JSON", models.ErrParseFailure, nextDataSelector)
	}
	return payload, nil
}

// collectItems appends the listing array held by node. node is either the
// array itself or an object of per-seller arrays (private, agency, ...).
// It returns how many arrays were found.
func collectItems(node gjson.Result, items *[]gjson.Result) int {
	if node.IsArray() {
		*items = append(*items, node.Array()...)
		return 1
	}
	if !node.IsObject() {
		return 0
	}

	found := 0
	node.ForEach(func(_, v gjson.Result) bool {
		if v.IsArray() {
			*items = append(*items, v.Array()...)
			found++
		}
		return true
	})
	return found
}

func (e *Extractor) normalize(item gjson.Result) (models.ListingRecord, bool) {
	if !item.IsObject() {
		return models.ListingRecord{}, false
	}
	token := scalarText(item.Get("token"))
	if token == "" {
		return models.ListingRecord{}, false
	}

	details := item.Get("additionalDetails")
	return models.ListingRecord{
		Token:        token,
		Price:        number(item.Get("price")),
		SquareMeters: number(details.Get("squareMeter")),
		Rooms:        number(details.Get("roomsCount")),
		Address:      address(item.Get("address")),
		PropertyType: text(details.Get("property.text")),
		AdType:       text(item.Get("adType")),
		Link:         e.itemBaseURL + token,
	}, true
}

// address joins "street house", neighborhood and city, skipping blanks.
func address(addr gjson.Result) string {
	street := text(addr.Get("street.text"))
	if house := scalarText(addr.Get("house.number")); house != "" && house != "0" {
		street = strings.TrimSpace(street + " " + house)
	}

	parts := make([]string, 0, 3)
	for _, p := range []string{street, text(addr.Get("neighborhood.text")), text(addr.Get("city.text"))} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// number returns nil unless r is a JSON number.
func number(r gjson.Result) *float64 {
	if r.Type != gjson.Number {
		return nil
	}
	v := r.Float()
	return &v
}

// text returns r only when it is a JSON string, with runs of whitespace
// collapsed to one space.
func text(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return strings.Join(strings.Fields(r.Str), " ")
}

// scalarText accepts strings and numbers; tokens and house numbers come as either.
func scalarText(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str)
	case gjson.Number:
		return r.Raw
	default:
		return ""
	}
}
