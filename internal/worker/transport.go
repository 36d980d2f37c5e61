package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/marcus/portal/internal/cachestore"
)

// RoundTrip routes a request through the caches. Only same-origin GETs are
// intercepted; everything else goes straight to the network.
//
//   - the configuration resource is served from an active override, or
//     fetched network-first with the config cache as fallback;
//   - app-shell assets are cache-first;
//   - other resources are network-first; 200s are kept in the shell cache
//     and served from it while offline.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || !w.sameOrigin(req.URL) {
		return w.network.RoundTrip(req)
	}
	switch {
	case isConfigPath(req.URL.Path):
		return w.fetchConfig(req)
	case w.isShell(req.URL):
		return w.cacheFirst(req)
	default:
		return w.networkFirst(req)
	}
}

func (w *Worker) fetchConfig(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	cached, err := w.cache.Match(ctx, ConfigCache, ConfigPath)
	if err != nil {
		w.logger.Warn("config cache lookup failed", "err", err)
	}
	if isOverride(cached) {
		return entryResponse(req, cached), nil
	}

	resp, netErr := w.network.RoundTrip(req)
	if netErr == nil && resp.StatusCode < http.StatusInternalServerError {
		if resp.StatusCode == http.StatusOK {
			return w.refreshConfig(ctx, req, resp)
		}
		return resp, nil
	}

	// Network failed; re-read in case an override landed meanwhile.
	if fallback, err := w.cache.Match(ctx, ConfigCache, ConfigPath); err == nil && fallback != nil {
		if resp != nil {
			resp.Body.Close()
		}
		w.logger.Debug("serving cached config", "override", isOverride(fallback))
		return entryResponse(req, fallback), nil
	}
	return resp, netErr
}

// refreshConfig stores a successful network config response unless an
// override is active, in which case the override is served instead.
func (w *Worker) refreshConfig(ctx context.Context, req *http.Request, resp *http.Response) (*http.Response, error) {
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	w.configMu.Lock()
	defer w.configMu.Unlock()

	current, err := w.cache.Match(ctx, ConfigCache, ConfigPath)
	if err != nil {
		w.logger.Warn("config cache lookup failed", "err", err)
		return resp, nil
	}
	if isOverride(current) {
		return entryResponse(req, current), nil
	}
	if err := w.cache.Put(ctx, cachestore.Entry{
		Cache:  ConfigCache,
		Key:    ConfigPath,
		Status: resp.StatusCode,
		Header: cacheableHeader(resp.Header),
		Body:   body,
	}); err != nil {
		w.logger.Warn("config cache refresh failed", "err", err)
	}
	return resp, nil
}

func (w *Worker) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := cacheKey(req.URL)
	if e, err := w.cache.Match(ctx, ShellCache, key); err != nil {
		w.logger.Warn("shell cache lookup failed", "key", key, "err", err)
	} else if e != nil {
		return entryResponse(req, e), nil
	}

	resp, err := w.network.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	return w.storeShell(ctx, key, resp)
}

// networkFirst fetches from the network, keeping a copy of every 200 in the
// shell cache. Offline, the cached copy is served; navigations with nothing
// cached get the cached shell index instead.
func (w *Worker) networkFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := cacheKey(req.URL)
	resp, err := w.network.RoundTrip(req)
	if err == nil {
		return w.storeShell(ctx, key, resp)
	}

	keys := []string{key}
	if isNavigation(req) && key != "/" {
		keys = append(keys, "/")
	}
	for _, k := range keys {
		e, cerr := w.cache.Match(ctx, ShellCache, k)
		if cerr != nil {
			w.logger.Warn("shell cache lookup failed", "key", k, "err", cerr)
			continue
		}
		if e != nil {
			w.logger.Debug("serving cached copy", "key", k, "err", err)
			return entryResponse(req, e), nil
		}
	}
	return nil, err
}

// storeShell copies a 200 response into the shell cache. Failing to cache
// never fails the request.
func (w *Worker) storeShell(ctx context.Context, key string, resp *http.Response) (*http.Response, error) {
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if err := w.cache.Put(ctx, cachestore.Entry{
		Cache:  ShellCache,
		Key:    key,
		Status: resp.StatusCode,
		Header: cacheableHeader(resp.Header),
		Body:   body,
	}); err != nil {
		w.logger.Warn("shell cache put failed", "key", key, "err", err)
	}
	return resp, nil
}

func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// readBody buffers resp.Body and replaces it with the buffered copy.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return body, nil
}

func cacheableHeader(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range []string{"Set-Cookie", "Date", "Connection", "Transfer-Encoding"} {
		out.Del(k)
	}
	return out
}

func entryResponse(req *http.Request, e *cachestore.Entry) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
