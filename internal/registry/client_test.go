package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryHandler(t *testing.T, pages map[string]string, hits *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		page := r.URL.Query().Get("pagination[page]")
		body, ok := pages[page]
		if !ok {
			http.Error(w, "no such page", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func TestClientFetchAllPaginates(t *testing.T) {
	var hits atomic.Int64
	pages := map[string]string{
		"1": `{"data":[
			{"id":1,"name":"PrintBot","walletAddress":"0xAAA","description":"3D printing",
			 "metrics":{"isOnline":true},
			 "offerings":[{"name":"small print","priceUsd":5}]},
			{"id":2,"name":"","description":"nameless, must be skipped"}
		],"meta":{"pagination":{"total":3,"pageCount":2}}}`,
		"2": `{"data":[
			{"id":3,"name":"Translator","walletAddress":"0xBBB","description":"Docs",
			 "jobs":[{"name":"french","price":10,"priceV2":{"type":"hourly"},"description":"per page"}]}
		],"meta":{"pagination":{"total":3,"pageCount":2}}}`,
	}
	srv := httptest.NewServer(registryHandler(t, pages, &hits))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, slog.Default())
	agents, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)

	assert.Equal(t, "PrintBot", agents[0].Name)
	assert.True(t, agents[0].Online)
	require.Len(t, agents[0].JobOfferings, 1)
	require.NotNil(t, agents[0].JobOfferings[0].Price)
	assert.Equal(t, 5.0, *agents[0].JobOfferings[0].Price)
	assert.Equal(t, "fixed", agents[0].JobOfferings[0].PriceType)

	assert.Equal(t, "Translator", agents[1].Name)
	require.Len(t, agents[1].JobOfferings, 1)
	assert.Equal(t, "hourly", agents[1].JobOfferings[0].PriceType)

	assert.Equal(t, int64(2), hits.Load())
}

func TestClientFailedPageFailsFetch(t *testing.T) {
	var hits atomic.Int64
	pages := map[string]string{
		"1": `{"data":[{"id":1,"name":"PrintBot"}],"meta":{"pagination":{"total":10,"pageCount":3}}}`,
		"2": `{"data":[{"id":2,"name":"Other"}],"meta":{"pagination":{"total":10,"pageCount":3}}}`,
		// page 3 missing: the server answers 404
	}
	srv := httptest.NewServer(registryHandler(t, pages, &hits))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, slog.Default())
	_, err := c.FetchAll(context.Background())
	require.Error(t, err)
}

func TestClientDecodesOfferingFallbacks(t *testing.T) {
	raw := `{"id":7,"name":"Maker","offerings":[{"name":"cut","price":3}],
		"jobs":[{"name":"cut","price":99},{"name":"weld","price":12}]}`
	var ua upstreamAgent
	require.NoError(t, json.Unmarshal([]byte(raw), &ua))
	agent, ok := ua.toDomain()
	require.True(t, ok)
	// The jobs entry duplicating an offering name is dropped.
	require.Len(t, agent.JobOfferings, 2)
	assert.Equal(t, "cut", agent.JobOfferings[0].Name)
	assert.Equal(t, 3.0, *agent.JobOfferings[0].Price)
	assert.Equal(t, "weld", agent.JobOfferings[1].Name)
}
