package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2026-10-14_10-00-00.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 archive"), 0o644))
	return path
}

var testMeta = Metadata{
	SessionID: "5b0c5a8e-9a51-4f0e-a7a4-2b6f2ad9a001",
	StartedAt: time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC),
	StoppedAt: time.Date(2026, 10, 14, 10, 1, 30, 0, time.UTC),
}

func TestClientUploadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, testMeta.SessionID, r.FormValue("session_id"))
		assert.Equal(t, "90.000", r.FormValue("duration"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "2026-10-14_10-00-00.zip", header.Filename)
		assert.Equal(t, "PK\x03\x04 archive", string(body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"location":"https://example.test/recordings/1"}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{Endpoint: server.URL, APIKey: "secret", MaxRetries: 2})
	require.NoError(t, err)
	c.backoff = time.Millisecond

	res, err := c.Upload(context.Background(), writeArchive(t), testMeta)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/recordings/1", res.Location)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int64(len("PK\x03\x04 archive")), res.Bytes)

	stats := c.GetStats()
	assert.Equal(t, uint64(1), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.SuccessRequests)
	assert.Equal(t, uint64(1), stats.TotalRetries)
}

func TestClientUploadDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.Copy(io.Discard, r.Body)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	c, err := NewClient(Config{Endpoint: server.URL, MaxRetries: 3})
	require.NoError(t, err)
	c.backoff = time.Millisecond

	_, err = c.Upload(context.Background(), writeArchive(t), testMeta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), c.GetStats().FailedRequests)
}

func TestClientUploadMissingFile(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.Upload(context.Background(), filepath.Join(t.TempDir(), "none.zip"), testMeta)
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&statusError{code: 500}))
	assert.True(t, isRetryableError(&statusError{code: 429}))
	assert.False(t, isRetryableError(&statusError{code: 404}))
	assert.True(t, isRetryableError(context.DeadlineExceeded))
	assert.False(t, isRetryableError(context.Canceled))
}

func TestNew(t *testing.T) {
	u, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = New(context.Background(), Config{Kind: "http", Endpoint: "http://localhost"})
	require.NoError(t, err)
	assert.Equal(t, "http", u.Name())

	_, err = New(context.Background(), Config{Kind: "http"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Kind: "ftp"})
	assert.Error(t, err)
}

func TestS3Upload(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	var gotMethod, gotPath, gotSession string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotSession = r.Header.Get("X-Amz-Meta-Session-Id")
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, err := NewS3(context.Background(), Config{
		Bucket:   "recordings",
		Prefix:   "audiologger",
		Region:   "us-east-1",
		Endpoint: server.URL,
	})
	require.NoError(t, err)

	res, err := u.Upload(context.Background(), writeArchive(t), testMeta)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/recordings/audiologger/2026-10-14_10-00-00.zip", gotPath)
	assert.Equal(t, testMeta.SessionID, gotSession)
	assert.Equal(t, "s3://recordings/audiologger/2026-10-14_10-00-00.zip", res.Location)
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), Config{})
	assert.Error(t, err)
}
