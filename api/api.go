package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrRouteNotFound is returned by Dispatch when no registered route
// matches the request method and path.
var ErrRouteNotFound = fmt.Errorf("api: route not found")

// Request is a local API request. Params holds named path parameters
// bound during routing.
type Request struct {
	Method string
	Path   string
	Params map[string]string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewRequest builds a request from a method and a path. A query string in
// the path is parsed into Query.
func NewRequest(method, path string, body []byte) *Request {
	req := &Request{
		Method: strings.ToUpper(method),
		Path:   path,
		Params: make(map[string]string),
		Query:  url.Values{},
		Header: http.Header{},
		Body:   body,
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		req.Path = path[:i]
		if q, err := url.ParseQuery(path[i+1:]); err == nil {
			req.Query = q
		}
	}
	return req
}

// Bind decodes the JSON request body into v.
func (r *Request) Bind(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("api: empty request body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("api: decode body: %w", err)
	}
	return nil
}

// Response is a local API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

// JSON builds a response with a JSON-encoded body.
func JSON(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("api: encode response: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &Response{Status: status, Header: header, Body: body}, nil
}

// Text builds a plain-text response.
func Text(status int, body string) (*Response, error) {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &Response{Status: status, Header: header, Body: []byte(body)}, nil
}

// NoContent builds an empty 204 response.
func NoContent() (*Response, error) {
	return &Response{Status: http.StatusNoContent, Header: http.Header{}}, nil
}

// HandlerFunc handles one dispatched request.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Middleware wraps a handler with cross-cutting behavior.
type Middleware func(next HandlerFunc) HandlerFunc
