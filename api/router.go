package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Options configures a Router.
type Options struct {
	// MaxBodyBytes caps request bodies read by the ServeHTTP bridge.
	// Defaults to 4 MiB.
	MaxBodyBytes int64
}

// Router dispatches local API requests to registered handlers. Routes
// match in registration order; register more specific patterns first.
// Registration and dispatch are safe for concurrent use.
type Router struct {
	mu           sync.RWMutex
	routes       []*route
	middleware   []Middleware
	maxBodyBytes int64
}

type route struct {
	method   string
	pattern  string
	segments []segment
	handler  HandlerFunc
}

type segment struct {
	literal string
	param   string
}

// NewRouter creates an empty router.
func NewRouter(optFns ...func(o *Options)) *Router {
	opts := Options{MaxBodyBytes: 4 << 20}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	return &Router{maxBodyBytes: opts.MaxBodyBytes}
}

// Use appends middleware. The first middleware added is the outermost.
// Middleware applies to requests dispatched after the call.
func (r *Router) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// Get registers a handler for GET requests on pattern.
func (r *Router) Get(pattern string, handler HandlerFunc) {
	r.handle(http.MethodGet, pattern, handler)
}

// Post registers a handler for POST requests on pattern.
func (r *Router) Post(pattern string, handler HandlerFunc) {
	r.handle(http.MethodPost, pattern, handler)
}

// Put registers a handler for PUT requests on pattern.
func (r *Router) Put(pattern string, handler HandlerFunc) {
	r.handle(http.MethodPut, pattern, handler)
}

// Patch registers a handler for PATCH requests on pattern.
func (r *Router) Patch(pattern string, handler HandlerFunc) {
	r.handle(http.MethodPatch, pattern, handler)
}

// Delete registers a handler for DELETE requests on pattern.
func (r *Router) Delete(pattern string, handler HandlerFunc) {
	r.handle(http.MethodDelete, pattern, handler)
}

func (r *Router) handle(method, pattern string, handler HandlerFunc) {
	if handler == nil {
		panic("api: nil handler for " + method + " " + pattern)
	}

	segs := splitPath(pattern)
	parsed := make([]segment, len(segs))
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			name := s[1:]
			if name == "" {
				panic("api: empty parameter name in pattern " + pattern)
			}
			parsed[i] = segment{param: name}
			continue
		}
		parsed[i] = segment{literal: s}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, &route{
		method:   method,
		pattern:  pattern,
		segments: parsed,
		handler:  handler,
	})
}

// Dispatch routes the request to its handler and returns the handler's
// response. An unmatched request returns ErrRouteNotFound.
func (r *Router) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("api: nil request")
	}
	if req.Params == nil {
		req.Params = make(map[string]string)
	}

	r.mu.RLock()
	handler, params := r.matchLocked(req.Method, req.Path)
	middleware := r.middleware
	r.mu.RUnlock()

	if handler == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrRouteNotFound, req.Method, req.Path)
	}
	for k, v := range params {
		req.Params[k] = v
	}

	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler(ctx, req)
}

func (r *Router) matchLocked(method, path string) (HandlerFunc, map[string]string) {
	segs := splitPath(path)
	for _, rt := range r.routes {
		if rt.method != method || len(rt.segments) != len(segs) {
			continue
		}
		params := map[string]string{}
		matched := true
		for i, s := range rt.segments {
			if s.param != "" {
				params[s.param] = segs[i]
				continue
			}
			if s.literal != segs[i] {
				matched = false
				break
			}
		}
		if matched {
			return rt.handler, params
		}
	}
	return nil, nil
}

// Routes returns the registered method/pattern pairs, mainly for
// diagnostics.
func (r *Router) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.method + " " + rt.pattern
	}
	return out
}

// ServeHTTP adapts the router onto net/http so the local surface can be
// exposed over a real server. Handler errors map to JSON error envelopes:
// 404 for unmatched routes, 500 otherwise.
func (r *Router) ServeHTTP(w http.ResponseWriter, httpReq *http.Request) {
	body, err := io.ReadAll(io.LimitReader(httpReq.Body, r.maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}

	req := NewRequest(httpReq.Method, httpReq.URL.Path, body)
	req.Query = httpReq.URL.Query()
	req.Header = httpReq.Header.Clone()

	resp, err := r.Dispatch(httpReq.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRouteNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
