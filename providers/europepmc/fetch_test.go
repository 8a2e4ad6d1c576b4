package europepmc

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"biodata-hand/config"
)

func newTestFetcher() *Fetcher {
	cfg := &config.Config{
		EPMCBaseURL:    "https://epmc.test/rest",
		EPMCMaxRetries: 2,
	}
	return &Fetcher{
		Config:     cfg,
		Logger:     zap.NewNop(),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		client:     &http.Client{},
		retryDelay: time.Millisecond,
	}
}

func TestSearchPageDecodesResponse(t *testing.T) {
	f := newTestFetcher()
	httpmock.ActivateNonDefault(f.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://epmc\.test/rest/search`,
		httpmock.NewStringResponder(200, `{
			"hitCount": 2,
			"nextCursorMark": "AoIIP4AAACc0",
			"resultList": {"result": [
				{"pmid": "11111", "title": "First", "hasTMAccessionNumbers": "N"},
				{"pmid": "22222", "title": "Second", "hasTMAccessionNumbers": "Y"}
			]}
		}`))

	page, err := f.SearchPage(context.Background(), "test query", "*", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, page.HitCount)
	assert.Equal(t, "AoIIP4AAACc0", page.NextCursorMark)
	require.Len(t, page.ResultList.Result, 2)
	assert.Equal(t, "11111", page.ResultList.Result[0].PMID)
	assert.Equal(t, "Y", page.ResultList.Result[1].HasTMAccessionNumbers)
}

func TestSearchPageRetriesOnServerError(t *testing.T) {
	f := newTestFetcher()
	httpmock.ActivateNonDefault(f.client)
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("GET", `=~^https://epmc\.test/rest/search`,
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(500, "upstream down"), nil
			}
			return httpmock.NewStringResponse(200, `{"hitCount": 0, "nextCursorMark": "", "resultList": {"result": []}}`), nil
		})

	page, err := f.SearchPage(context.Background(), "q", "*", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Empty(t, page.ResultList.Result)
}

func TestSearchPageGivesUpAfterMaxRetries(t *testing.T) {
	f := newTestFetcher()
	httpmock.ActivateNonDefault(f.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://epmc\.test/rest/search`,
		httpmock.NewStringResponder(503, "unavailable"))

	_, err := f.SearchPage(context.Background(), "q", "*", 10)
	require.Error(t, err)
	// Erster Versuch + zwei Retries
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestSearchPageFatalOnClientError(t *testing.T) {
	f := newTestFetcher()
	httpmock.ActivateNonDefault(f.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://epmc\.test/rest/search`,
		httpmock.NewStringResponder(401, "unauthorized"))

	_, err := f.SearchPage(context.Background(), "q", "*", 10)
	require.Error(t, err)

	var fatal *FatalAPIError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, 401, fatal.StatusCode)
	// Client-Fehler werden nicht wiederholt
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestDataLinksFiltersDatasetTargets(t *testing.T) {
	f := newTestFetcher()
	httpmock.ActivateNonDefault(f.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://epmc\.test/rest/MED/12345/datalinks`,
		httpmock.NewStringResponder(200, `{
			"hitCount": 3,
			"dataLinkList": {"Category": [{
				"Name": "Nucleotide Sequences",
				"Section": [{"Linklist": {"Link": [
					{"ObtainedBy": "tm_accession", "Target": {"Type": {"Name": "dataset"}, "Identifier": {"ID": "ERR123456", "IDScheme": "European Nucleotide Archive"}}},
					{"ObtainedBy": "tm_accession", "Target": {"Type": {"Name": "webpage"}, "Identifier": {"ID": "x", "IDScheme": "DOI"}}},
					{"ObtainedBy": "submission", "Target": {"Type": {"Name": "dataset"}, "Identifier": {"ID": "y", "IDScheme": "UniProt"}}}
				]}}]
			}]}
		}`))

	links, err := f.DataLinks(context.Background(), "12345")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "ERR123456", links[0].Target.Identifier.ID)
}

func TestParseDate(t *testing.T) {
	d := ParseDate("2024-06-15")
	require.NotNil(t, d)
	assert.Equal(t, 2024, d.Year())
	assert.Equal(t, time.June, d.Month())

	assert.NotNil(t, ParseDate("2024-06"))
	assert.NotNil(t, ParseDate("2024"))
	assert.Nil(t, ParseDate("kein datum"))
}
