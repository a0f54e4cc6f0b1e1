package mirror

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultFindLimit = 100
	maxFindLimit     = 1000
)

// Handler returns a router serving every HTTP route of the mirror.
func (m *Mirror) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(m.trace)
	r.Use(noSniff)
	r.Use(middleware.Recoverer)
	m.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the mirror routes on r:
//
//	POST   /v1/chunks         accept one fragment
//	DELETE /v1/chunks         drop the in-flight transfer
//	POST   /v1/payloads       apply an unchunked snapshot or diff
//	GET    /v1/status         store and transfer state
//	GET    /v1/nodes/{path}   node copy, ?depth=N (default 1, -1 for all)
//	GET    /v1/find           ?class=&prefix=&limit=
//	GET    /v1/ws             websocket fragment feed
//	GET    /metrics           Prometheus metrics
//	GET    /health            liveness
func (m *Mirror) RegisterHTTP(r chi.Router) {
	r.Get("/health", m.handleHealth)
	r.Method(http.MethodGet, "/metrics", m.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(m.maxBody).Post("/chunks", m.handlePostChunk)
		r.Delete("/chunks", m.handleCancel)
		r.With(m.maxBody).Post("/payloads", m.handlePostPayload)
		r.Get("/status", m.handleStatus)
		r.Get("/nodes/{path}", m.handleGetNode)
		r.Get("/find", m.handleFind)
		r.Get("/ws", m.handleWebSocket)
	})
}

func (m *Mirror) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"populated": m.store.Populated(),
	})
}

func (m *Mirror) handlePostChunk(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, httpStatus(err), fmt.Errorf("mirror: read body: %w", err))
		return
	}
	res, err := m.IngestJSON(r.Context(), data)
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (m *Mirror) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": m.Cancel()})
}

func (m *Mirror) handlePostPayload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, httpStatus(err), fmt.Errorf("mirror: read body: %w", err))
		return
	}
	res, err := m.Apply(r.Context(), data)
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (m *Mirror) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Status())
}

func (m *Mirror) handleGetNode(w http.ResponseWriter, r *http.Request) {
	path, err := url.PathUnescape(chi.URLParam(r, "path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("mirror: bad path: %w", err))
		return
	}
	n, err := m.GetNode(path, queryInt(r, "depth", 1))
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (m *Mirror) handleFind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(r, "limit", defaultFindLimit)
	if limit <= 0 || limit > maxFindLimit {
		limit = maxFindLimit
	}
	nodes, err := m.Find(q.Get("class"), q.Get("prefix"), limit)
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "count": len(nodes)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error(), "kind": errorKind(err)})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
