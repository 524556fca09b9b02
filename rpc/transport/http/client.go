package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NewClient creates an http client with pooled keep-alive connections
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Do sends one request and returns the status code and the body of the response.
// If limit is > 0 at most limit bytes of the body are read; truncated reports
// whether the body was longer than that.
func Do(client *http.Client, method, url string, body []byte, limit int64) (status int, data []byte, truncated bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, nil, false, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, false, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	if limit <= 0 {
		data, err = io.ReadAll(resp.Body)
		return resp.StatusCode, data, false, err
	}

	// read one byte more than allowed to detect oversized bodies
	data, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return resp.StatusCode, nil, false, fmt.Errorf("failed to read response body: %v", err)
	}
	if int64(len(data)) > limit {
		return resp.StatusCode, data[:limit], true, nil
	}
	return resp.StatusCode, data, false, nil
}
