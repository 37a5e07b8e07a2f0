package dailymed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/medsearch/pkg/xmlpath"
)

// ListDateLayout is the format of published_date in list payloads.
const ListDateLayout = "Jan 2, 2006"

// SPLListMetadata describes the page a list payload holds. Optional values
// are nil when the feed sends nothing, an empty string, or the string "null".
type SPLListMetadata struct {
	TotalElements   int
	ElementsPerPage int
	TotalPages      int
	CurrentPage     int
	CurrentURL      string
	PreviousPage    *int
	PreviousPageURL *string
	NextPage        *int
	NextPageURL     *string
	DBPublishedDate *time.Time
}

// SPLListItem is one entry of the SPL list.
type SPLListItem struct {
	SetID         string
	Version       int
	Title         string
	PublishedDate time.Time
}

// ItemFailure records a list entry that was dropped.
type ItemFailure struct {
	Index int
	SetID string
	Err   error
}

func (f ItemFailure) Error() string {
	if f.SetID == "" {
		return fmt.Sprintf("spl #%d: %v", f.Index, f.Err)
	}
	return fmt.Sprintf("spl #%d (%s): %v", f.Index, f.SetID, f.Err)
}

// SPLListPage is a parsed list payload.
type SPLListPage struct {
	Metadata SPLListMetadata
	Items    []SPLListItem
	Failures []ItemFailure
}

// HasMorePages reports whether pages follow this one.
func (p *SPLListPage) HasMorePages() bool {
	return p.Metadata.CurrentPage < p.Metadata.TotalPages
}

const (
	metaTotalElements   = "total_elements"
	metaElementsPerPage = "elements_per_page"
	metaTotalPages      = "total_pages"
	metaCurrentPage     = "current_page"
	metaCurrentURL      = "current_url"
	metaPreviousPage    = "previous_page"
	metaPreviousPageURL = "previous_page_url"
	metaNextPage        = "next_page"
	metaNextPageURL     = "next_page_url"
	metaDBPublishedDate = "db_published_date"

	itemSetID         = "setid"
	itemVersion       = "spl_version"
	itemTitle         = "title"
	itemPublishedDate = "published_date"
)

var metadataFields = metaFields(
	metaTotalElements, metaElementsPerPage, metaTotalPages, metaCurrentPage, metaCurrentURL,
	metaPreviousPage, metaPreviousPageURL, metaNextPage, metaNextPageURL, metaDBPublishedDate,
)

var itemFields = []xmlpath.Field{
	{Name: itemSetID, Location: xmlpath.Location{Path: itemSetID}},
	{Name: itemVersion, Location: xmlpath.Location{Path: itemVersion}},
	{Name: itemTitle, Location: xmlpath.Location{Path: itemTitle}},
	{Name: itemPublishedDate, Location: xmlpath.Location{Path: itemPublishedDate}},
}

var splElements = xmlpath.MustCompile(".//spl", nil)

func metaFields(names ...string) []xmlpath.Field {
	fields := make([]xmlpath.Field, len(names))
	for i, name := range names {
		fields[i] = xmlpath.Field{Name: name, Location: xmlpath.Location{Path: "metadata/" + name}}
	}
	return fields
}

// ParseSPLList parses an spls.xml payload. Only a malformed document or
// unusable paging metadata fails the page; bad entries are collected in
// Failures.
func ParseSPLList(raw []byte) (*SPLListPage, error) {
	doc, err := xmlpath.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse spl list: %w", err)
	}

	// Metadata fields are all optional here; the required ones are
	// checked by buildMetadata.
	values, _ := xmlpath.Extract(doc.Root, metadataFields)
	meta, err := buildMetadata(values)
	if err != nil {
		return nil, err
	}

	page := &SPLListPage{Metadata: meta}
	for i, el := range splElements.FindAll(doc.Root) {
		values, failures := xmlpath.Extract(el, itemFields)
		if len(failures) > 0 {
			page.Failures = append(page.Failures, ItemFailure{
				Index: i,
				SetID: values[itemSetID],
				Err:   errors.New(xmlpath.JoinErrors(failures)),
			})
			continue
		}
		page.addItem(i, values)
	}
	return page, nil
}

// jsonScalar accepts a JSON string, number or null.
type jsonScalar struct {
	value   string
	present bool
}

func (s *jsonScalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s.value); err != nil {
			return err
		}
	} else {
		s.value = string(b)
	}
	s.value = strings.TrimSpace(s.value)
	s.present = s.value != ""
	return nil
}

type jsonListResponse struct {
	Metadata map[string]jsonScalar   `json:"metadata"`
	Data     []map[string]jsonScalar `json:"data"`
}

// ParseSPLListJSON parses an spls.json payload with the same rules as
// ParseSPLList.
func ParseSPLListJSON(raw []byte) (*SPLListPage, error) {
	var resp jsonListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse spl list: %w", err)
	}

	meta, err := buildMetadata(scalarValues(resp.Metadata))
	if err != nil {
		return nil, err
	}

	page := &SPLListPage{Metadata: meta}
	for i, entry := range resp.Data {
		values := scalarValues(entry)
		var missing []string
		for _, f := range itemFields {
			if _, ok := values[f.Name]; !ok {
				missing = append(missing, f.Name+": missing")
			}
		}
		if len(missing) > 0 {
			page.Failures = append(page.Failures, ItemFailure{
				Index: i,
				SetID: values[itemSetID],
				Err:   errors.New(strings.Join(missing, "\n")),
			})
			continue
		}
		page.addItem(i, values)
	}
	return page, nil
}

func scalarValues(m map[string]jsonScalar) xmlpath.Values {
	values := make(xmlpath.Values, len(m))
	for k, v := range m {
		if v.present {
			values[k] = v.value
		}
	}
	return values
}

func (p *SPLListPage) addItem(index int, values xmlpath.Values) {
	item, err := buildItem(values)
	if err != nil {
		p.Failures = append(p.Failures, ItemFailure{Index: index, SetID: values[itemSetID], Err: err})
		return
	}
	p.Items = append(p.Items, item)
}

func buildItem(values xmlpath.Values) (SPLListItem, error) {
	version, err := strconv.Atoi(values[itemVersion])
	if err != nil {
		return SPLListItem{}, fmt.Errorf("invalid spl_version %q", values[itemVersion])
	}
	published, err := time.Parse(ListDateLayout, values[itemPublishedDate])
	if err != nil {
		return SPLListItem{}, fmt.Errorf("invalid published_date %q", values[itemPublishedDate])
	}
	return SPLListItem{
		SetID:         strings.TrimSpace(values[itemSetID]),
		Version:       version,
		Title:         strings.TrimSpace(values[itemTitle]),
		PublishedDate: published,
	}, nil
}

func buildMetadata(values xmlpath.Values) (SPLListMetadata, error) {
	for k, v := range values {
		if strings.EqualFold(v, "null") {
			delete(values, k)
		}
	}

	var meta SPLListMetadata
	var err error
	if meta.CurrentPage, err = requiredInt(values, metaCurrentPage); err != nil {
		return meta, err
	}
	if meta.TotalPages, err = requiredInt(values, metaTotalPages); err != nil {
		return meta, err
	}

	if n := optionalInt(values, metaTotalElements); n != nil {
		meta.TotalElements = *n
	}
	if n := optionalInt(values, metaElementsPerPage); n != nil {
		meta.ElementsPerPage = *n
	}
	meta.CurrentURL = values[metaCurrentURL]
	meta.PreviousPage = optionalInt(values, metaPreviousPage)
	meta.PreviousPageURL = values.Ptr(metaPreviousPageURL)
	meta.NextPage = optionalInt(values, metaNextPage)
	meta.NextPageURL = values.Ptr(metaNextPageURL)
	meta.DBPublishedDate = optionalTime(values, metaDBPublishedDate)
	return meta, nil
}

func requiredInt(values xmlpath.Values, name string) (int, error) {
	raw, ok := values[name]
	if !ok {
		return 0, fmt.Errorf("spl list metadata: %s is missing", name)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("spl list metadata: invalid %s %q", name, raw)
	}
	return n, nil
}

// optionalInt returns nil for absent or non-integer values.
func optionalInt(values xmlpath.Values, name string) *int {
	raw, ok := values[name]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

var metadataTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	ListDateLayout,
}

func optionalTime(values xmlpath.Values, name string) *time.Time {
	raw, ok := values[name]
	if !ok {
		return nil
	}
	for _, layout := range metadataTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
