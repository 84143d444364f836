package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zsiec/lumen/internal/metrics"
)

// Chunking defaults for HTTP sources.
const (
	DefaultChunkSize   = 256 << 10
	DefaultCacheChunks = 64
)

// ErrRangeNotSupported is returned when the server ignores Range headers.
var ErrRangeNotSupported = errors.New("source: server does not support range requests")

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: GET %s: unexpected status %d", e.URL, e.Status)
}

// HTTPOption configures an HTTP source.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the client used for range requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithChunkSize sets the granularity of range requests.
func WithChunkSize(n int64) HTTPOption {
	return func(h *HTTP) {
		if n > 0 {
			h.chunkSize = n
		}
	}
}

// WithCacheChunks bounds the number of chunks kept in memory.
func WithCacheChunks(n int) HTTPOption {
	return func(h *HTTP) {
		if n > 0 {
			h.cache = newChunkCache(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.log = log }
}

// HTTP is a Source that reads a remote resource with byte-range GETs and
// keeps recently used chunks in an LRU.
type HTTP struct {
	url       string
	client    *http.Client
	chunkSize int64
	size      int64
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu     sync.Mutex
	cache  *chunkCache
	closed bool
}

// NewHTTP asks url for its size and returns a source reading from it.
// Reads are bound to ctx; Close cancels in-flight requests.
func NewHTTP(ctx context.Context, url string, opts ...HTTPOption) (*HTTP, error) {
	h := &HTTP{
		url:       url,
		client:    &http.Client{Timeout: 30 * time.Second},
		chunkSize: DefaultChunkSize,
		cache:     newChunkCache(DefaultCacheChunks),
	}
	for _, o := range opts {
		o(h)
	}
	h.log = defaultLogger(h.log).With("component", "source", "url", url)
	h.ctx, h.cancel = context.WithCancel(ctx)

	first, size, err := h.fetch(h.ctx, 0)
	if err != nil {
		h.cancel()
		return nil, err
	}
	h.size = size
	h.cache.add(0, first)
	h.log.Debug("remote source opened", "size", size, "chunk_size", h.chunkSize)
	return h, nil
}

func (h *HTTP) Size() int64 { return h.size }

// ReadAt reads len(p) bytes at off, fetching missing chunks.
func (h *HTTP) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("source: negative offset %d", off)
	}
	if off >= h.size {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && off < h.size {
		idx := off / h.chunkSize
		chunk, err := h.chunk(idx)
		if err != nil {
			return n, err
		}
		start := off - idx*h.chunkSize
		if start >= int64(len(chunk)) {
			return n, io.ErrUnexpectedEOF
		}
		c := copy(p[n:], chunk[start:])
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *HTTP) chunk(idx int64) ([]byte, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if data, ok := h.cache.get(idx); ok {
		h.mu.Unlock()
		metrics.SourceCacheLookups.WithLabelValues("hit").Inc()
		return data, nil
	}
	h.mu.Unlock()
	metrics.SourceCacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := h.group.Do(strconv.FormatInt(idx, 10), func() (any, error) {
		data, _, err := h.fetch(h.ctx, idx)
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		if !h.closed {
			h.cache.add(idx, data)
		}
		h.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// fetch downloads chunk idx and returns it with the total resource size.
func (h *HTTP) fetch(ctx context.Context, idx int64) ([]byte, int64, error) {
	start := idx * h.chunkSize
	end := start + h.chunkSize - 1
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("source: build request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := h.client.Do(req)
	if err != nil {
		metrics.SourceRangeRequests.WithLabelValues("error").Inc()
		if h.isClosed() {
			return nil, 0, ErrClosed
		}
		return nil, 0, fmt.Errorf("source: GET %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	var size int64
	switch resp.StatusCode {
	case http.StatusPartialContent:
		size, err = parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			metrics.SourceRangeRequests.WithLabelValues("error").Inc()
			return nil, 0, err
		}
	case http.StatusOK:
		if start != 0 || resp.ContentLength > h.chunkSize {
			metrics.SourceRangeRequests.WithLabelValues("error").Inc()
			return nil, 0, ErrRangeNotSupported
		}
		size = resp.ContentLength
	case http.StatusRequestedRangeNotSatisfiable:
		metrics.SourceRangeRequests.WithLabelValues("ok").Inc()
		return nil, 0, io.EOF
	default:
		metrics.SourceRangeRequests.WithLabelValues("error").Inc()
		return nil, 0, &StatusError{URL: h.url, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.chunkSize))
	if err != nil {
		metrics.SourceRangeRequests.WithLabelValues("error").Inc()
		return nil, 0, fmt.Errorf("source: read body: %w", err)
	}
	if size < 0 {
		size = int64(len(data))
	}
	metrics.SourceRangeRequests.WithLabelValues("ok").Inc()
	metrics.SourceBytesFetched.Add(float64(len(data)))
	return data, size, nil
}

// parseContentRange extracts the complete length from "bytes a-b/size".
func parseContentRange(v string) (int64, error) {
	slash := strings.LastIndexByte(v, '/')
	if !strings.HasPrefix(v, "bytes ") || slash < 0 {
		return 0, fmt.Errorf("source: malformed Content-Range %q", v)
	}
	total := v[slash+1:]
	if total == "*" {
		return -1, nil
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("source: malformed Content-Range %q", v)
	}
	return n, nil
}

func (h *HTTP) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close cancels in-flight requests and drops cached chunks.
func (h *HTTP) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.cache.clear()
	h.mu.Unlock()
	h.cancel()
	return nil
}
