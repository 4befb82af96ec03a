package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"atrium-hq/atrium/pkg/auth"
	"atrium-hq/atrium/pkg/resource"
	"atrium-hq/atrium/pkg/server/middleware"
	"atrium-hq/atrium/pkg/validate"
	"atrium-hq/atrium/pkg/view"
)

// operation is a resource operation adapted to a uniform result shape: a
// nil result with a nil error means "no content".
type operation func(ctx context.Context, req *resource.Request) (any, error)

func recordOp(f func(context.Context, *resource.Request) (view.Record, error)) operation {
	return func(ctx context.Context, req *resource.Request) (any, error) {
		rec, err := f(ctx, req)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}
		return rec, nil
	}
}

func listOp(f func(context.Context, *resource.Request) ([]view.Record, error)) operation {
	return func(ctx context.Context, req *resource.Request) (any, error) {
		records, err := f(ctx, req)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []view.Record{}
		}
		return records, nil
	}
}

func deleteOp(f func(context.Context, *resource.Request) error) operation {
	return func(ctx context.Context, req *resource.Request) (any, error) {
		return nil, f(ctx, req)
	}
}

// handle adapts an operation into an httprouter handler: it assembles the
// request envelope, runs the operation, writes the result or the mapped
// error, and records metrics under the route pattern.
func (s *Server) handle(route string, successStatus int, op operation) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()

		status := successStatus
		req, err := s.parseRequest(w, r, ps)
		var result any
		if err == nil {
			result, err = op(r.Context(), req)
		}

		switch {
		case err != nil:
			status = s.writeError(r.Context(), w, err)
		case result == nil:
			status = http.StatusNoContent
			w.WriteHeader(status)
		default:
			writeJSON(w, status, result)
		}

		if s.metrics != nil {
			s.metrics.RecordRequest(r.Method, route, status, time.Since(start))
		}
	}
}

// parseRequest assembles the operation input envelope from Basic-Auth
// credentials, path segments, the query string, and a size-bounded JSON
// body.
func (s *Server) parseRequest(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (*resource.Request, error) {
	req := &resource.Request{
		Params: make(map[string]string, len(ps)),
		Query:  make(map[string]string),
	}

	if user, pass, ok := r.BasicAuth(); ok {
		req.Auth = &auth.Credentials{EmailAddress: user, Password: pass}
	}
	for _, p := range ps {
		req.Params[p.Key] = p.Value
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			req.Query[key] = values[0]
		}
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		body := http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
		decoder := json.NewDecoder(body)
		var parsed map[string]any
		switch err := decoder.Decode(&parsed); {
		case errors.Is(err, io.EOF):
			// No body at all; validation reports the missing attributes.
		case err != nil:
			return nil, resource.NewMalformedRequestError("The request body must be a JSON object.")
		default:
			req.Body = parsed
		}
	}

	return req, nil
}

// writeError maps the error taxonomy onto status codes and writes the
// JSON error body. Unclassified errors are server faults: logged in full,
// reported without detail.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) int {
	var (
		verr      *validate.Error
		authnErr  *auth.AuthenticationError
		authzErr  *resource.AuthorisationError
		conflict  *resource.ConflictingEditError
		noSuch    *resource.NoSuchResourceError
		malformed *resource.MalformedRequestError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message":  verr.Message,
			"messages": verr.Messages,
		})
		return http.StatusBadRequest

	case errors.As(err, &authnErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": authnErr.Message})
		return http.StatusBadRequest

	case errors.As(err, &authzErr):
		writeJSON(w, http.StatusForbidden, map[string]any{"message": authzErr.Message})
		return http.StatusForbidden

	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{"message": conflict.Message})
		return http.StatusConflict

	case errors.As(err, &noSuch):
		writeJSON(w, http.StatusNotFound, map[string]any{"message": noSuch.Message})
		return http.StatusNotFound

	case errors.As(err, &malformed):
		body := map[string]any{"message": malformed.Error()}
		if malformed.Messages != nil {
			body["messages"] = malformed.Messages
		}
		writeJSON(w, http.StatusBadRequest, body)
		return http.StatusBadRequest

	default:
		slog.ErrorContext(ctx, "operation failed",
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "An internal error occurred.",
		})
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
