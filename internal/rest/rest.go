// Package rest exposes the news tools as a small JSON API and mounts the MCP
// streamable HTTP endpoint next to it.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"secnews/internal/newsstore"
	"secnews/internal/server"
	"secnews/internal/tools"
	"secnews/internal/version"
)

const maxBodyBytes = 64 << 10

type handler struct {
	svc    *tools.Service
	logger *log.Logger
}

// NewHandler routes:
//
//	GET  /             service description
//	GET  /health       liveness plus store health
//	POST /api/news     get_news, body is the tool input (response_format defaults to json)
//	GET  /api/sources  list_sources
//	GET  /api/stats    get_stats
//	     /mcp          MCP streamable HTTP
func NewHandler(svc *tools.Service, logger *log.Logger) http.Handler {
	h := &handler{svc: svc, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /api/news", h.news)
	mux.HandleFunc("GET /api/sources", h.sources)
	mux.HandleFunc("GET /api/stats", h.stats)
	mcpHandler := server.Handler(svc)
	mux.Handle("/mcp", mcpHandler)
	mux.Handle("/mcp/", mcpHandler)
	return mux
}

// Serve runs the API on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, svc *tools.Service, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logf(logger, "http listening: addr=%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logf(logger, "http shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": version.Name,
		"version": version.Version,
		"endpoints": map[string]string{
			"health":       "/health",
			"get_news":     "/api/news",
			"list_sources": "/api/sources",
			"get_stats":    "/api/stats",
			"mcp":          "/mcp",
		},
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	status, code := "healthy", http.StatusOK
	if !st.StoreHealthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":        status,
		"service":       version.Name,
		"store_healthy": st.StoreHealthy,
	})
}

func (h *handler) news(w http.ResponseWriter, r *http.Request) {
	var p tools.GetNewsParams
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, &tools.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	if p.ResponseFormat == "" {
		p.ResponseFormat = string(tools.FormatJSON)
	}
	res, err := h.svc.GetNews(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	if res.Format == tools.FormatMarkdown {
		text, err := res.Text()
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"content": text})
		return
	}
	writeJSON(w, http.StatusOK, res.Payload())
}

func (h *handler) sources(w http.ResponseWriter, r *http.Request) {
	format, err := formatParam(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	srcs := h.svc.ListSources()
	if format == tools.FormatMarkdown {
		text, err := tools.SourcesText(srcs, format)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"content": text})
		return
	}
	writeJSON(w, http.StatusOK, tools.NewSourcesPayload(srcs))
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	format, err := formatParam(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	st, err := h.svc.GetStats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if format == tools.FormatMarkdown {
		text, err := tools.StatsText(st, format, h.svc.Now())
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"content": text})
		return
	}
	writeJSON(w, http.StatusOK, tools.NewStatsPayload(st))
}

// formatParam reads ?response_format, defaulting to json.
func formatParam(r *http.Request) (tools.Format, error) {
	v := r.URL.Query().Get("response_format")
	if v == "" {
		return tools.FormatJSON, nil
	}
	return tools.ParseFormat(v)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	var ve *tools.ValidationError
	var se *newsstore.StoreError
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		code = http.StatusBadRequest
	case errors.As(err, &se):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	if code >= 500 {
		logf(h.logger, "request failed: status=%d err=%v", code, err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
