package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/mark3labs/mcp-go/server"

	"github.com/entrhq/sitebridge/pkg/human"
)

// SSEBasePath is where the MCP SSE transport is mounted.
const SSEBasePath = "/mcp"

type toolInfo struct {
	Name        string          `json:"name"`
	AdapterID   string          `json:"adapter_id"`
	Adapter     string          `json:"adapter"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Trust       string          `json:"trust"`
	ReadOnly    bool            `json:"read_only"`
	Declarative bool            `json:"declarative"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type toolInventory struct {
	Server  string     `json:"server"`
	Version string     `json:"version"`
	Tools   []toolInfo `json:"tools"`
}

// Handler returns the HTTP API. A non-nil sse transport is mounted under
// SSEBasePath.
func (s *Server) Handler(sse *server.SSEServer) http.Handler {
	r := chi.NewRouter()
	if s.opts.AccessLog {
		logger := httplog.NewLogger(s.opts.Name, httplog.Options{
			JSON:    true,
			Concise: true,
		}).Output(s.log.Writer())
		r.Use(httplog.RequestLogger(logger))
	}
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/tools", s.listTools)
	r.Post("/tools/{name}/call", s.callTool)
	r.Get("/metrics", s.metrics)
	r.Route("/human/requests", func(r chi.Router) {
		r.Get("/", s.listHumanRequests)
		r.Get("/{id}", s.getHumanRequest)
		r.Post("/{id}/complete", s.completeHumanRequest)
	})

	if sse != nil {
		r.Handle(SSEBasePath+"/sse", sse.SSEHandler())
		r.Handle(SSEBasePath+"/message", sse.MessageHandler())
	}
	return r
}

// NewSSE builds the MCP SSE transport for baseURL.
func (s *Server) NewSSE(baseURL string) *server.SSEServer {
	return server.NewSSEServer(
		s.mcp,
		server.WithBaseURL(baseURL),
		server.WithStaticBasePath(SSEBasePath),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithUseFullURLForMessageEndpoint(true),
		server.WithKeepAlive(true),
	)
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("http api listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) listTools(w http.ResponseWriter, _ *http.Request) {
	tools := s.catalog.List()
	inv := toolInventory{Server: s.opts.Name, Version: s.opts.Version, Tools: make([]toolInfo, 0, len(tools))}
	for _, t := range tools {
		inv.Tools = append(inv.Tools, toolInfo{
			Name:        t.Name,
			AdapterID:   t.AdapterID,
			Adapter:     t.Manifest.Name,
			Version:     t.Manifest.Version,
			Description: t.Definition.Description,
			Trust:       string(t.Manifest.Trust),
			ReadOnly:    t.ReadOnly(),
			Declarative: t.Definition.IsDeclarative(),
			InputSchema: t.Definition.InputSchema.JSON(),
		})
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) callTool(w http.ResponseWriter, r *http.Request) {
	var args map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeError(w, http.StatusBadRequest, "request body must be a JSON object: "+err.Error())
			return
		}
	}
	res := s.catalog.Dispatch(r.Context(), chi.URLParam(r, "name"), args)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	if s.opts.Telemetry == nil {
		writeError(w, http.StatusNotFound, "metrics are disabled")
		return
	}
	points, err := s.opts.Telemetry.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": points})
}

func (s *Server) broker(w http.ResponseWriter) (*human.Broker, bool) {
	if s.opts.Broker == nil {
		writeError(w, http.StatusServiceUnavailable, "human steps are not served by this process")
		return nil, false
	}
	return s.opts.Broker, true
}

func (s *Server) listHumanRequests(w http.ResponseWriter, _ *http.Request) {
	b, ok := s.broker(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": b.Pending()})
}

func (s *Server) getHumanRequest(w http.ResponseWriter, r *http.Request) {
	b, ok := s.broker(w)
	if !ok {
		return
	}
	req, found := b.Get(chi.URLParam(r, "id"))
	if !found {
		writeError(w, http.StatusNotFound, human.ErrUnknownRequest.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) completeHumanRequest(w http.ResponseWriter, r *http.Request) {
	b, ok := s.broker(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := b.Complete(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Infof("human request %s completed over http", id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(human.StatusCompleted)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
