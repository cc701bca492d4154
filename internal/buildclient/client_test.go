package buildclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/percyio/percy-core/internal/percy"
)

func TestHTTPClientCreateBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/builds", r.URL.Path)
		json.NewEncoder(w).Encode(percy.Build{ID: "b1", Number: 1, URL: "https://percy.io/b1"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", time.Second, zerolog.Nop())
	build, err := c.CreateBuild(context.Background())
	require.NoError(t, err)
	require.Equal(t, "b1", build.ID)
}

func TestHTTPClientCreateSnapshotSendsResources(t *testing.T) {
	var gotBody createSnapshotRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/builds/b1/snapshots", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"id": "snap1"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", time.Second, zerolog.Nop())
	id, err := c.CreateSnapshot(context.Background(), "b1", "home", []int{375, 1280}, []percy.Resource{
		{URL: "https://example.com", SHA: "sha1", Root: true, Mimetype: "text/html"},
	})
	require.NoError(t, err)
	require.Equal(t, "snap1", id)
	require.Equal(t, "home", gotBody.Name)
	require.Len(t, gotBody.Resources, 1)
	require.True(t, gotBody.Resources[0].Attributes.IsRoot)
}

func TestHTTPClientRetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(percy.Build{ID: "b2"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", time.Second, zerolog.Nop())
	build, err := c.CreateBuild(context.Background())
	require.NoError(t, err)
	require.Equal(t, "b2", build.ID)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestHTTPClientFailsFastOn4xx(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "badtoken", time.Second, zerolog.Nop())
	_, err := c.CreateBuild(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, percy.ErrAPI)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestHTTPClientUploadResourceSendsRawBody(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/resources/sha1", r.URL.Path)
		require.Equal(t, http.MethodPut, r.Method)
		gotContentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", time.Second, zerolog.Nop())
	err := c.UploadResource(context.Background(), "sha1", []byte("<html></html>"), "text/html")
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(gotBody))
	require.Equal(t, "text/html", gotContentType)
}

func TestHTTPClientFinalizeBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/builds/b1/finalize", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", time.Second, zerolog.Nop())
	require.NoError(t, c.FinalizeBuild(context.Background(), "b1"))
}
