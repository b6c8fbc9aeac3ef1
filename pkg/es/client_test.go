package es

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"prompt-forge-go/internal/model"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   string
}

func fakeES(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *[]recorded {
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs = append(reqs, recorded{method: r.Method, path: r.URL.Path, body: string(body)})
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	prev := ESClient
	ESClient = client
	t.Cleanup(func() { ESClient = prev })
	return &reqs
}

func TestIndexPromptUsesRecordID(t *testing.T) {
	reqs := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	doc := model.PromptDocument{RecordID: 5, UserID: 2, Title: "客服机器人", FinalPrompt: "你是客服", Version: 3}
	require.NoError(t, IndexPrompt(context.Background(), "prompt_library", doc))

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/prompt_library/_doc/5", got.path)

	var sent model.PromptDocument
	require.NoError(t, json.Unmarshal([]byte(got.body), &sent))
	assert.Equal(t, 3, sent.Version)
	assert.Equal(t, "你是客服", sent.FinalPrompt)
}

func TestDeletePromptIgnoresMissingDocument(t *testing.T) {
	fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"result":"not_found"}`))
	})
	assert.NoError(t, DeletePrompt(context.Background(), "prompt_library", 42))
}

func TestDeletePromptReportsServerError(t *testing.T) {
	fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	})
	assert.Error(t, DeletePrompt(context.Background(), "prompt_library", 42))
}

func TestSearchPromptsFiltersByUserAndBuildsSnippets(t *testing.T) {
	updated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reqs := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"hits": map[string]interface{}{
				"hits": []interface{}{
					map[string]interface{}{
						"_score":    2.5,
						"_source":   model.PromptDocument{RecordID: 1, Title: "A", FinalPrompt: "long text", Version: 2, UpdatedAt: updated},
						"highlight": map[string][]string{"final_prompt": {"<em>long</em> text"}},
					},
					map[string]interface{}{
						"_score":  1.0,
						"_source": model.PromptDocument{RecordID: 2, Title: "B", FinalPrompt: "plain"},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	hits, err := SearchPrompts(context.Background(), "prompt_library", 7, "long", nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, uint(1), hits[0].RecordID)
	assert.Equal(t, "<em>long</em> text", hits[0].Snippet)
	assert.Equal(t, 2.5, hits[0].Score)
	assert.Equal(t, "plain", hits[1].Snippet)

	require.Len(t, *reqs, 1)
	assert.Equal(t, "/prompt_library/_search", (*reqs)[0].path)
	assert.Contains(t, (*reqs)[0].body, `"user_id":7`)
	assert.NotContains(t, (*reqs)[0].body, `"knn"`)
}

func TestSnippetTruncatesLongPrompt(t *testing.T) {
	long := make([]rune, snippetRunes+10)
	for i := range long {
		long[i] = '字'
	}
	s := snippet(nil, model.PromptDocument{FinalPrompt: string(long)})
	assert.Equal(t, snippetRunes+1, len([]rune(s)))
}

type stubEmbedder struct {
	vec []float32
	err error
}

func (s stubEmbedder) CreateEmbedding(context.Context, string) ([]float32, error) {
	return s.vec, s.err
}

func TestIndexWritesVectorAndSearchesHybrid(t *testing.T) {
	reqs := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"result":"created"}`))
			return
		}
		_, _ = w.Write([]byte(`{"hits":{"hits":[]}}`))
	})
	idx := Index{Name: "prompt_library", Embedder: stubEmbedder{vec: []float32{0.5, 0.25}}}

	require.NoError(t, idx.Upsert(context.Background(), model.PromptDocument{RecordID: 1, Title: "t", FinalPrompt: "p"}))
	_, err := idx.Search(context.Background(), 3, "翻译", 5)
	require.NoError(t, err)

	require.Len(t, *reqs, 2)
	var sent model.PromptDocument
	require.NoError(t, json.Unmarshal([]byte((*reqs)[0].body), &sent))
	assert.Equal(t, []float32{0.5, 0.25}, sent.Vector)

	var query map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte((*reqs)[1].body), &query))
	knn, ok := query["knn"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "vector", knn["field"])
	assert.Equal(t, float64(5), knn["k"])
}

func TestIndexFallsBackWhenEmbeddingFails(t *testing.T) {
	reqs := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"result":"created"}`))
			return
		}
		_, _ = w.Write([]byte(`{"hits":{"hits":[]}}`))
	})
	idx := Index{Name: "prompt_library", Embedder: stubEmbedder{err: errors.New("quota exceeded")}}

	require.NoError(t, idx.Upsert(context.Background(), model.PromptDocument{RecordID: 1}))
	_, err := idx.Search(context.Background(), 3, "翻译", 5)
	require.NoError(t, err)

	require.Len(t, *reqs, 2)
	assert.NotContains(t, (*reqs)[0].body, `"vector"`)
	assert.NotContains(t, (*reqs)[1].body, `"knn"`)
}

func TestPromptMappingVectorField(t *testing.T) {
	props := promptMapping(0)["mappings"].(map[string]interface{})["properties"].(map[string]interface{})
	assert.NotContains(t, props, "vector")

	props = promptMapping(1024)["mappings"].(map[string]interface{})["properties"].(map[string]interface{})
	require.Contains(t, props, "vector")
	assert.Equal(t, 1024, props["vector"].(map[string]interface{})["dims"])
}
