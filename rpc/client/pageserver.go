package client

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
	transporthttp "github.com/ValentinKolb/dStor/rpc/transport/http"
	"github.com/google/uuid"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
)

// NewPageServerClient creates a new client for the page server at config.PageServerURL.
// No request is sent; use CheckAvailability to check the peer.
func NewPageServerClient(config common.ClientConfig) (remote.IPageServerClient, error) {
	base, err := url.Parse(config.PageServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page server url %q: %v", config.PageServerURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid page server url %q: scheme must be http or https", config.PageServerURL)
	}

	return &pageServerClient{
		id:      "ps-" + uuid.NewString(),
		baseURL: strings.TrimRight(base.String(), "/"),
		client:  transporthttp.NewClient(config.RequestTimeout),
	}, nil
}

type pageServerClient struct {
	id      string
	baseURL string
	client  *http.Client
	closed  atomic.Bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see remote.IPageServerClient)
// --------------------------------------------------------------------------

func (c *pageServerClient) ID() string {
	return c.id
}

func (c *pageServerClient) CheckAvailability() error {
	status, _, err := c.do(http.MethodGet, "/health", 1024)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: health check returned status %d", remote.ErrProtocol, status)
	}
	return nil
}

func (c *pageServerClient) ReadPage(id types.PageID, buf *types.Page) error {
	path := fmt.Sprintf("/page/%d/%d", id.Timeline, id.Number)

	status, data, truncated, err := c.doLimited(http.MethodGet, path, types.PageSize)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, "read of page %s", id)
	}
	if truncated {
		return fmt.Errorf("%w: page %s is larger than %d bytes", remote.ErrProtocol, id, types.PageSize)
	}

	// short pages are zero padded
	n := copy(buf[:], data)
	clear(buf[n:])
	return nil
}

func (c *pageServerClient) CreateTimeline(timeline types.TimelineID) error {
	status, _, err := c.do(http.MethodPost, "/timeline/"+timeline.String(), 1024)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusConflict:
		return nil
	default:
		return statusError(status, "create timeline %s", timeline)
	}
}

func (c *pageServerClient) DeleteTimeline(timeline types.TimelineID) error {
	status, _, err := c.do(http.MethodDelete, "/timeline/"+timeline.String(), 1024)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return statusError(status, "delete timeline %s", timeline)
	}
}

func (c *pageServerClient) TimelineInfo(timeline types.TimelineID) (types.LSN, error) {
	status, data, err := c.do(http.MethodGet, "/timeline/"+timeline.String(), 4096)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, statusError(status, "timeline info %s", timeline)
	}

	var info common.TimelineInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return 0, fmt.Errorf("%w: invalid timeline info: %v", remote.ErrProtocol, err)
	}
	if info.TimelineID != uint64(timeline) {
		return 0, fmt.Errorf("%w: timeline info for %d, expected %s", remote.ErrProtocol, info.TimelineID, timeline)
	}
	return types.LSN(info.LatestLSN), nil
}

func (c *pageServerClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.client.CloseIdleConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// do performs one request, bodies larger than limit are a protocol error
func (c *pageServerClient) do(method, path string, limit int64) (int, []byte, error) {
	status, data, truncated, err := c.doLimited(method, path, limit)
	if err != nil {
		return 0, nil, err
	}
	if truncated {
		return 0, nil, fmt.Errorf("%w: response of %s %s exceeds %d bytes", remote.ErrProtocol, method, path, limit)
	}
	return status, data, nil
}

func (c *pageServerClient) doLimited(method, path string, limit int64) (int, []byte, bool, error) {
	if c.closed.Load() {
		return 0, nil, false, remote.ErrClientClosed
	}

	status, data, truncated, err := transporthttp.Do(c.client, method, c.baseURL+path, nil, limit)
	if err != nil {
		return 0, nil, false, fmt.Errorf("%w: %s %s: %v", remote.ErrTransport, method, path, err)
	}
	return status, data, truncated, nil
}

// statusError maps an unexpected HTTP status to ErrProtocol. Client errors
// (4xx) are answers to a well formed request and also match ErrRejected.
func statusError(status int, format string, args ...any) error {
	op := fmt.Sprintf(format, args...)
	if status >= 400 && status < 500 {
		return fmt.Errorf("%w: %w: %s returned status %d", remote.ErrProtocol, remote.ErrRejected, op, status)
	}
	return fmt.Errorf("%w: %s returned status %d", remote.ErrProtocol, op, status)
}
