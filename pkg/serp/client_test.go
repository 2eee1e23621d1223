package serp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, `"ACME WIDGETS LTD" "LS1 4AP"`, q.Get("q"))
		assert.Equal(t, "gb", q.Get("gl"))
		assert.Equal(t, "en", q.Get("hl"))
		assert.Equal(t, "secret", q.Get("api_key"))

		_, _ = w.Write([]byte(`{"organic_results":[
			{"title":"Acme Widgets | Home","link":"https://www.acmewidgets.co.uk/","snippet":"Acme Widgets Ltd, Leeds LS1 4AP"},
			{"title":"ACME WIDGETS LTD - Companies House","link":"https://find-and-update.company-information.service.gov.uk/company/12345678","snippet":"Registered office"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("secret", WithBaseURL(srv.URL))
	results, err := c.Search(context.Background(), `"ACME WIDGETS LTD" "LS1 4AP"`)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://www.acmewidgets.co.uk/", results[0].Link)
	assert.Contains(t, results[0].Snippet, "LS1 4AP")
}

func TestSearchEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"search_metadata":{"status":"Success"}}`))
	}))
	defer srv.Close()

	c := NewClient("secret", WithBaseURL(srv.URL))
	results, err := c.Search(context.Background(), "no such company anywhere")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchQuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"account has run out of searches"}`))
	}))
	defer srv.Close()

	c := NewClient("secret", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
