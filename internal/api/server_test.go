package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/terediX/internal/storage"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

func newBoltStore(t *testing.T, n int) storage.Storage {
	t.Helper()
	ctx := context.Background()
	st, err := storage.OpenBolt(filepath.Join(t.TempDir(), "api.bolt"))
	require.NoError(t, err)
	require.NoError(t, st.Prepare(ctx))
	t.Cleanup(func() { _ = st.Close() })

	var batch []resource.Resource
	for i := 0; i < n; i++ {
		ext := ".txt"
		if i%5 == 0 {
			ext = ".go"
		}
		batch = append(batch, resource.New(resource.KindFilePath, fmt.Sprintf("f%02d", i), fmt.Sprintf("/data/f%02d", i), "fs", time.Now()).
			WithMetaData(map[string]string{"extension": ext}))
	}
	batch = append(batch, resource.New(resource.KindGitHubRepository, "acme/api", "acme/api", "gh", time.Now()))
	require.NoError(t, st.UpsertBatch(ctx, batch))
	return st
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) resource.ListResponse {
	t.Helper()
	var out resource.ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestListResources_Pagination(t *testing.T) {
	h := NewServer(newBoltStore(t, 25), nil, zerolog.Nop()).Handler()

	rr := get(t, h, "/api/v1/resources?kind=FilePath&page=1&per_page=10")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	page1 := decodeList(t, rr)
	assert.Len(t, page1.Resources, 10)
	assert.True(t, page1.HasMore)
	assert.Equal(t, 1, page1.Page)
	assert.Equal(t, 10, page1.PerPage)

	page3 := decodeList(t, get(t, h, "/api/v1/resources?kind=FilePath&page=3&per_page=10"))
	assert.Len(t, page3.Resources, 5)
	assert.False(t, page3.HasMore)
}

func TestListResources_Defaults(t *testing.T) {
	h := NewServer(newBoltStore(t, 3), nil, zerolog.Nop()).Handler()

	out := decodeList(t, get(t, h, "/api/v1/resources"))
	assert.Equal(t, 1, out.Page)
	assert.Equal(t, 200, out.PerPage)
	assert.Len(t, out.Resources, 4)

	capped := decodeList(t, get(t, h, "/api/v1/resources?per_page=300"))
	assert.Equal(t, 200, capped.PerPage)
}

func TestListResources_Filters(t *testing.T) {
	h := NewServer(newBoltStore(t, 10), nil, zerolog.Nop()).Handler()

	goFiles := decodeList(t, get(t, h, "/api/v1/resources?kind=FilePath&meta_data_eq=extension=.go"))
	require.Len(t, goFiles.Resources, 2)
	for _, r := range goFiles.Resources {
		assert.Equal(t, ".go", r.MetaData["extension"])
		assert.Equal(t, "fs", r.Scanner)
	}

	repos := decodeList(t, get(t, h, "/api/v1/resources?kind=GitHubRepository"))
	require.Len(t, repos.Resources, 1)
	assert.Equal(t, "acme/api", repos.Resources[0].ExternalID)
	assert.NotNil(t, repos.Resources[0].MetaData)
}

func TestListResources_BadRequest(t *testing.T) {
	h := NewServer(newBoltStore(t, 1), nil, zerolog.Nop()).Handler()

	for _, target := range []string{
		"/api/v1/resources?page=abc",
		"/api/v1/resources?page=0",
		"/api/v1/resources?per_page=-1",
		"/api/v1/resources?meta_data_eq=novalue",
		"/api/v1/resources?meta_data_eq=a=1,b=2",
	} {
		t.Run(target, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, get(t, h, target).Code)
		})
	}
}

type failingStore struct{}

func (failingStore) Query(context.Context, storage.Filter, storage.Page) (storage.QueryResult, error) {
	return storage.QueryResult{}, errors.New("connection reset")
}

func (failingStore) Relations(context.Context) ([]resource.Relation, error) {
	return nil, errors.New("connection reset")
}

func TestStoreFailure(t *testing.T) {
	h := NewServer(failingStore{}, nil, zerolog.Nop()).Handler()
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/v1/resources").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/v1/relations").Code)
}

func TestListRelations(t *testing.T) {
	st := newBoltStore(t, 2)
	a := resource.Identity{Kind: resource.KindFilePath, ExternalID: "/data/f00", ScannerSource: "fs"}
	b := resource.Identity{Kind: resource.KindFilePath, ExternalID: "/data/f01", ScannerSource: "fs"}
	require.NoError(t, st.ReplaceRelations(context.Background(), []resource.Relation{{Rule: "same-root", Source: a, Target: b}}))

	h := NewServer(st, nil, zerolog.Nop()).Handler()
	rr := get(t, h, "/api/v1/relations")
	require.Equal(t, http.StatusOK, rr.Code)

	var out relationsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Relations, 1)
	assert.Equal(t, "same-root", out.Relations[0].Rule)
	assert.Equal(t, a, out.Relations[0].Source)
}

func TestHealth(t *testing.T) {
	h := NewServer(failingStore{}, func() any {
		return map[string]string{"status": "healthy", "uptime": "1"}
	}, zerolog.Nop()).Handler()

	rr := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"healthy","uptime":"1"}`, rr.Body.String())

	plain := NewServer(failingStore{}, nil, zerolog.Nop()).Handler()
	assert.JSONEq(t, `{"status":"healthy"}`, get(t, plain, "/health").Body.String())
}

func TestCORS(t *testing.T) {
	h := NewServer(failingStore{}, nil, zerolog.Nop()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
