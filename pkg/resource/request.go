package resource

import (
	"atrium-hq/atrium/pkg/auth"
)

// PageSize is the fixed number of records returned by list operations.
const PageSize = 20

// Request is the input envelope every business operation receives. The
// HTTP layer fills it from Basic-Auth credentials, path segments, the
// query string, and a size-bounded parsed JSON body.
type Request struct {
	// Auth is the caller's credentials, nil for anonymous requests.
	Auth *auth.Credentials

	// Params are the URL path parameters.
	Params map[string]string

	// Query are the query-string parameters, first value per key.
	Query map[string]string

	// Body is the parsed JSON request body, nil when absent.
	Body map[string]any
}

// Param returns the named path parameter, or "" when absent.
func (r *Request) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// BodyMap returns the request body, never nil.
func (r *Request) BodyMap() map[string]any {
	if r.Body == nil {
		return map[string]any{}
	}
	return r.Body
}

// QueryMap returns the query parameters rendered as a validation input.
func (r *Request) QueryMap() map[string]any {
	m := make(map[string]any, len(r.Query))
	for k, v := range r.Query {
		m[k] = v
	}
	return m
}

// ParamMap returns the path parameters rendered as a validation input.
func (r *Request) ParamMap() map[string]any {
	m := make(map[string]any, len(r.Params))
	for k, v := range r.Params {
		m[k] = v
	}
	return m
}
