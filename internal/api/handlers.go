package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/clirelay/internal/audit"
	"github.com/mattjoyce/clirelay/internal/command"
	"github.com/mattjoyce/clirelay/internal/engine"
	"github.com/mattjoyce/clirelay/internal/output"
)

// ContentTypeParam is the query parameter that overrides the response
// content type. It is also passed to templates like any other parameter.
const ContentTypeParam = "contentType"

// Usage returns the usage text shown at / and in routing error payloads.
func Usage(ids []string, version string) []string {
	return []string{
		"clirelay usage:",
		"- Execute command:  GET /api/1/cli/run/<commandID>?<param>=<value>",
		"  - <commandID>: registered command ID",
		"  - POST to the same URI to pass the request body as %BODY%",
		"  - override the response content type with contentType, for example:",
		"    GET /api/1/cli/run/echo?text=hello+world&contentType=text/plain",
		"- List command IDs:  GET /api/1/cli/list",
		`  - returns: { "data": ["<id1>", "<id2>"], "error": "" }`,
		"- Recent invocations:  GET /api/1/cli/history?limit=<n>&command=<commandID>",
		"- Registered command IDs:",
		"    " + strings.Join(ids, ", "),
		"- Version: " + version,
	}
}

// handleRun handles GET and POST /api/1/cli/run/{commandID}.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	commandID := chi.URLParam(r, "commandID")
	if !command.ValidID(commandID) {
		s.handleMalformedRun(w, r)
		return
	}

	query := r.URL.Query()
	params := make(map[string]string, len(query))
	for k, v := range query {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	var body *string
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
		b, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
				return
			}
			s.writeError(w, http.StatusBadRequest, "failed to read request body: "+err.Error())
			return
		}
		if len(b) > 0 {
			str := string(b)
			body = &str
		}
	}

	res, err := s.invoker.Invoke(r.Context(), engine.Request{
		CommandID:   commandID,
		Params:      params,
		Body:        body,
		ContentType: params[ContentTypeParam],
		Method:      r.Method,
		RemoteAddr:  r.RemoteAddr,
	})
	switch {
	case errors.Is(err, command.ErrInvalidID):
		s.handleMalformedRun(w, r)
		return
	case errors.Is(err, command.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Unrecognized command ID "+commandID)
		return
	case errors.Is(err, engine.ErrBusy):
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("invocation failed", "command_id", commandID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "invocation failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", res.Response.ContentType)
	w.Header().Set("X-Invocation-ID", res.InvocationID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Response.Body)
}

// handleMalformedRun answers run URIs whose command id is missing or invalid.
func (s *Server) handleMalformedRun(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusNotFound, Envelope{
		Data:  s.usage,
		Error: "Unrecognized URI, or missing/unsupported command ID: " + r.URL.RequestURI(),
	})
}

// handleList handles GET /api/1/cli/list.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ids := s.commands.IDs()
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, Envelope{Data: ids})
}

// handleHistory handles GET /api/1/cli/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "audit log disabled")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		CommandID: q.Get("command"),
		Status:    audit.Status(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		f.Limit = n
	}

	entries, err := s.history.Recent(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to read invocation history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read invocation history")
		return
	}

	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry(e))
	}
	respondJSON(w, http.StatusOK, Envelope{Data: out})
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	subs, dropped := s.events.Stats()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:           "ok",
		Version:          s.config.Version,
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		CommandsLoaded:   len(s.commands.IDs()),
		InFlight:         s.invoker.InFlight(),
		Invocations:      s.invoker.Total(),
		EventSubscribers: subs,
		EventsDropped:    dropped,
	})
}

// handleRoot serves index.html from the static dir, or the usage text.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if s.serveStatic(w, r, "/index.html") {
		return
	}
	w.Header().Set("Content-Type", output.ContentTypeText)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, strings.Join(s.usage, "\n"))
}

// handleFallback serves static files for unmatched GETs and answers
// everything else with the usage envelope.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && s.serveStatic(w, r, r.URL.Path) {
		return
	}
	respondJSON(w, http.StatusNotFound, Envelope{
		Data:  s.usage,
		Error: "Unrecognized URI " + r.URL.RequestURI(),
	})
}

// serveStatic writes the regular file at name under the static dir and
// reports whether it did. http.Dir rejects paths escaping the root.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, name string) bool {
	if s.config.StaticDir == "" {
		return false
	}
	f, err := http.Dir(s.config.StaticDir).Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

// respondJSON writes data as indented JSON.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	b, err := output.MarshalIndent(data)
	if err != nil {
		statusCode = http.StatusInternalServerError
		b = []byte(`{"data": "", "error": "failed to encode response"}`)
	}
	w.Header().Set("Content-Type", output.ContentTypeJSON)
	w.WriteHeader(statusCode)
	_, _ = w.Write(b)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, Envelope{Data: "", Error: message})
}
