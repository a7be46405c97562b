package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const userAgent = "AudioLogger/1.0"

// Client posts archives to an HTTP endpoint as multipart/form-data
type Client struct {
	config     Config
	httpClient *http.Client
	backoff    time.Duration

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64 `json:"total_requests"`
	SuccessRequests uint64 `json:"success_requests"`
	FailedRequests  uint64 `json:"failed_requests"`
	TotalRetries    uint64 `json:"total_retries"`
}

// statusError is a non-2xx response
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// response is the optional JSON body returned by the endpoint
type response struct {
	Location string `json:"location"`
	URL      string `json:"url"`
}

// NewClient creates an HTTP uploader
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		backoff:    time.Second,
	}, nil
}

func (c *Client) Name() string { return "http" }

// Upload sends the file at path, retrying transient failures with exponential backoff
func (c *Client) Upload(ctx context.Context, path string, meta Metadata) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	startTime := time.Now()
	c.increment(&c.totalRequests)

	var lastErr error
	attempt := 0
	for ; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.increment(&c.totalRetries)

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoff
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		location, err := c.doRequest(ctx, path, meta)
		if err == nil {
			c.increment(&c.successRequests)
			if location == "" {
				location = c.config.Endpoint
			}
			return &Result{
				Location: location,
				Bytes:    info.Size(),
				Attempts: attempt + 1,
				Duration: time.Since(startTime),
			}, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			attempt++
			break
		}
	}

	c.increment(&c.failedRequests)
	return nil, fmt.Errorf("upload failed after %d attempts: %w", attempt, lastErr)
}

// doRequest performs a single upload streaming the file through a pipe
func (c *Client) doRequest(ctx context.Context, path string, meta Metadata) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(writer, f, filepath.Base(path), meta))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	var parsed response
	if len(respBody) > 0 && json.Unmarshal(respBody, &parsed) == nil {
		if parsed.Location != "" {
			return parsed.Location, nil
		}
		return parsed.URL, nil
	}
	return "", nil
}

func writeMultipart(writer *multipart.Writer, f io.Reader, name string, meta Metadata) error {
	fields := map[string]string{
		"session_id": meta.SessionID,
		"started_at": meta.StartedAt.Format(time.RFC3339),
		"stopped_at": meta.StoppedAt.Format(time.RFC3339),
		"duration":   strconv.FormatFloat(meta.StoppedAt.Sub(meta.StartedAt).Seconds(), 'f', 3, 64),
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	fileWriter, err := writer.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fileWriter, f); err != nil {
		return fmt.Errorf("failed to write archive data: %w", err)
	}
	return writer.Close()
}

// isRetryableError reports whether a failed attempt may succeed later
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) increment(counter *uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*counter++
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		TotalRetries:    c.totalRetries,
	}
}
