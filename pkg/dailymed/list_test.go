package dailymed

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return raw
}

func TestParseSPLList(t *testing.T) {
	page, err := ParseSPLList(readFixture(t, "spl_list.xml"))
	require.NoError(t, err)

	meta := page.Metadata
	assert.Equal(t, 5, meta.TotalElements)
	assert.Equal(t, 3, meta.ElementsPerPage)
	assert.Equal(t, 2, meta.TotalPages)
	assert.Equal(t, 1, meta.CurrentPage)
	assert.Contains(t, meta.CurrentURL, "page=1")
	assert.Nil(t, meta.PreviousPage, "literal null is absent")
	assert.Nil(t, meta.PreviousPageURL)
	require.NotNil(t, meta.NextPage)
	assert.Equal(t, 2, *meta.NextPage)
	require.NotNil(t, meta.NextPageURL)
	assert.True(t, page.HasMorePages())

	require.Len(t, page.Items, 2)
	first := page.Items[0]
	assert.Equal(t, "0a1b2c3d-0000-4000-8000-000000000001", first.SetID)
	assert.Equal(t, "IBUPROFEN tablet, film coated", first.Title)
	assert.Equal(t, 7, first.Version)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), first.PublishedDate)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), page.Items[1].PublishedDate)

	require.Len(t, page.Failures, 1, "a bad version drops only that entry")
	assert.Equal(t, 1, page.Failures[0].Index)
	assert.Equal(t, "0a1b2c3d-0000-4000-8000-000000000002", page.Failures[0].SetID)
	assert.Contains(t, page.Failures[0].Error(), "spl_version")
}

func TestParseSPLList_LastPage(t *testing.T) {
	raw := []byte(`<spls><metadata><total_pages>3</total_pages><current_page>3</current_page></metadata></spls>`)
	page, err := ParseSPLList(raw)
	require.NoError(t, err)
	assert.False(t, page.HasMorePages())
	assert.Empty(t, page.Items)
}

func TestParseSPLList_MissingFieldAndBadDate(t *testing.T) {
	raw := []byte(`<spls>
		<metadata><total_pages>1</total_pages><current_page>1</current_page></metadata>
		<spl><setid>a</setid><spl_version>1</spl_version><published_date>Jan 1, 2024</published_date></spl>
		<spl><setid>b</setid><spl_version>1</spl_version><title>B</title><published_date>2024-01-01</published_date></spl>
		<spl><setid>c</setid><spl_version>1</spl_version><title>C</title><published_date>Jan 1, 2024</published_date></spl>
	</spls>`)

	page, err := ParseSPLList(raw)
	require.NoError(t, err)

	require.Len(t, page.Items, 1)
	assert.Equal(t, "c", page.Items[0].SetID)

	require.Len(t, page.Failures, 2)
	assert.Contains(t, page.Failures[0].Error(), "title: path title not found in document")
	assert.Contains(t, page.Failures[1].Error(), "invalid published_date")
}

func TestParseSPLList_PageErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"malformed", `<spls><metadata>`, "failed to parse spl list"},
		{"missing current page", `<spls><metadata><total_pages>2</total_pages></metadata></spls>`, "current_page is missing"},
		{"null total pages", `<spls><metadata><current_page>1</current_page><total_pages>null</total_pages></metadata></spls>`, "total_pages is missing"},
		{"non-integer total pages", `<spls><metadata><current_page>1</current_page><total_pages>many</total_pages></metadata></spls>`, "invalid total_pages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSPLList([]byte(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseSPLListJSON(t *testing.T) {
	page, err := ParseSPLListJSON(readFixture(t, "spl_list.json"))
	require.NoError(t, err)

	meta := page.Metadata
	assert.Equal(t, 2, meta.CurrentPage)
	assert.Equal(t, 2, meta.TotalPages)
	assert.Nil(t, meta.NextPage)
	assert.Nil(t, meta.NextPageURL)
	require.NotNil(t, meta.PreviousPage)
	assert.Equal(t, 1, *meta.PreviousPage)
	require.NotNil(t, meta.DBPublishedDate)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 16, 20, 0, time.UTC), *meta.DBPublishedDate)
	assert.False(t, page.HasMorePages())

	require.Len(t, page.Items, 1)
	assert.Equal(t, "CETIRIZINE HYDROCHLORIDE tablet", page.Items[0].Title)
	assert.Equal(t, 4, page.Items[0].Version)

	require.Len(t, page.Failures, 1, "an empty title drops the entry")
	assert.Contains(t, page.Failures[0].Error(), "title: missing")
}

func TestParseSPLListJSON_Malformed(t *testing.T) {
	_, err := ParseSPLListJSON([]byte(`{"metadata": `))
	require.Error(t, err)

	_, err = ParseSPLListJSON([]byte(`{"metadata": {"current_page": 1}, "data": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total_pages")
}
