package hn_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagrover/tagrover/pkg/hn"
)

func TestClient_GetItem_DecodesStory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/item/42.json", r.URL.Path)
		_ = json.NewEncoder(w).Encode(hn.Item{ID: 42, Type: "story", Title: "hello", By: "alice"})
	}))
	defer srv.Close()

	client := hn.NewClient(hn.Config{BaseURL: srv.URL})
	item, err := client.GetItem(t.Context(), 42)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "hello", item.Title)
	assert.True(t, item.IsStory())
}

func TestClient_GetItem_NullUpstreamYieldsNilItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("null"))
	}))
	defer srv.Close()

	client := hn.NewClient(hn.Config{BaseURL: srv.URL})
	item, err := client.GetItem(t.Context(), 1)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestClient_GetItem_RetriesOnTooManyRequests(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(hn.Item{ID: 1, Type: "story"})
	}))
	defer srv.Close()

	client := hn.NewClient(hn.Config{BaseURL: srv.URL, BaseBackoff: time.Millisecond, MaxRetries: 5})
	item, err := client.GetItem(t.Context(), 1)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestClient_GetItem_GivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := hn.NewClient(hn.Config{BaseURL: srv.URL, BaseBackoff: time.Millisecond, MaxRetries: 2})
	_, err := client.GetItem(t.Context(), 1)
	assert.Error(t, err)
}

func TestClient_TopStoryIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/topstories.json", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]int64{3, 2, 1})
	}))
	defer srv.Close()

	client := hn.NewClient(hn.Config{BaseURL: srv.URL})
	ids, err := client.TopStoryIDs(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, ids)
}

func TestClient_GetItemsBatch_PreservesOrderAndReportsPerIDErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/item/2.json" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/item/"), ".json")
		id, _ := strconv.ParseInt(raw, 10, 64)
		_ = json.NewEncoder(w).Encode(hn.Item{ID: id, Type: "story"})
	}))
	defer srv.Close()

	client := hn.NewClient(hn.Config{BaseURL: srv.URL, MaxRetries: 0})
	items, errs := client.GetItemsBatch(t.Context(), []int64{1, 2, 3})

	require.Len(t, items, 3)
	assert.NotNil(t, items[0])
	assert.NotNil(t, items[2])
	assert.Contains(t, errs, int64(2))
}
