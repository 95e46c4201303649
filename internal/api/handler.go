package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-capabilities/internal/capability"
	"github.com/nidhogg/nuka-capabilities/internal/tools"
	"go.uber.org/zap"
)

// maxBodyBytes bounds a tool call body.
const maxBodyBytes = 1 << 20

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	tools  *tools.Registry
	db     Pinger
	mcp    http.Handler
	logger *zap.Logger
}

// NewHandler creates a new API handler. db may be nil.
func NewHandler(reg *tools.Registry, db Pinger, logger *zap.Logger) *Handler {
	return &Handler{tools: reg, db: db, logger: logger}
}

// SetMCP mounts an MCP endpoint at /mcp.
func (h *Handler) SetMCP(mcp http.Handler) {
	h.mcp = mcp
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Tool catalog and generic dispatch
		r.Get("/tools", h.listTools)
		r.Post("/tools/{name}", h.callTool)

		// Resource-style routes over the same tools
		r.Post("/agents/{id}/capabilities", h.registerCapabilities)
		r.Get("/agents/{id}/capabilities", h.getCapabilities)
		r.Delete("/agents/{id}/capabilities/{skill}", h.deactivateCapability)
		r.Get("/capabilities", h.listCapabilities)
	})

	if h.mcp != nil {
		r.Handle("/mcp", h.mcp)
	}

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tools.Definitions())
}

// callTool always answers 200 with the envelope, whatever its outcome.
func (h *Handler) callTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	env, ok := h.execute(w, r, name, body)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *Handler) registerCapabilities(w http.ResponseWriter, r *http.Request) {
	// Raw values keep metadata key order intact.
	args := make(map[string]json.RawMessage)
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&args); err != nil {
		writeValidation(w, &capability.ValidationError{Rule: "json", Message: err.Error()})
		return
	}
	if args == nil {
		args = make(map[string]json.RawMessage)
	}
	agentID, _ := json.Marshal(pathInt(r, "id"))
	args["agent_id"] = agentID
	h.dispatch(w, r, tools.RegisterCapabilities, args)
}

func (h *Handler) getCapabilities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := map[string]any{"agent_id": pathInt(r, "id")}
	setBool(args, "active_only", q.Get("active_only"))
	setString(args, "skill_name", q.Get("skill_name"))
	setString(args, "format", q.Get("format"))
	h.dispatch(w, r, tools.GetCapabilities, args)
}

func (h *Handler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := make(map[string]any)
	setString(args, "skill_name", q.Get("skill_name"))
	setString(args, "version", q.Get("version"))
	setBool(args, "active_only", q.Get("active_only"))
	setString(args, "group_by", q.Get("group_by"))
	h.dispatch(w, r, tools.ListCapabilities, args)
}

func (h *Handler) deactivateCapability(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, tools.DeactivateCapability, map[string]any{
		"agent_id":   pathInt(r, "id"),
		"skill_name": pathString(r, "skill"),
	})
}

// dispatch runs a tool for a resource route and maps failure codes to HTTP
// statuses.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, name string, args any) {
	body, err := json.Marshal(args)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	env, ok := h.execute(w, r, name, body)
	if !ok {
		return
	}
	status := http.StatusOK
	if f, isFailure := env.(*capability.Failure); isFailure {
		status = failureStatus(f.Error)
	}
	writeJSON(w, status, env)
}

// execute runs the tool and writes an error response for malformed input or
// an unknown tool. It reports whether the caller should write the envelope.
func (h *Handler) execute(w http.ResponseWriter, r *http.Request, name string, body []byte) (capability.Envelope, bool) {
	env, err := h.tools.Execute(r.Context(), name, body)
	if err == nil {
		return env, true
	}

	var ve *capability.ValidationError
	switch {
	case errors.As(err, &ve):
		h.logger.Debug("rejected tool input",
			zap.String("tool", name), zap.String("field", ve.Field), zap.String("rule", ve.Rule))
		writeValidation(w, ve)
	case errors.Is(err, tools.ErrUnknownTool):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("tool call failed", zap.String("tool", name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return nil, false
}

func failureStatus(code capability.Code) int {
	switch code {
	case capability.CodeAgentNotFound, capability.CodeCapabilityNotFound:
		return http.StatusNotFound
	case capability.CodeDuplicateCapability:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// pathString returns the URL parameter unescaped. chi hands back the raw
// segment when the request path carries escapes such as %2F.
func pathString(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

// pathInt returns the URL parameter as an integer, or the raw string so
// schema validation reports the type error.
func pathInt(r *http.Request, key string) any {
	raw := chi.URLParam(r, key)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

func setBool(args map[string]any, key, raw string) {
	if raw == "" {
		return
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		args[key] = b
		return
	}
	args[key] = raw
}

func setString(args map[string]any, key, raw string) {
	if raw != "" {
		args[key] = raw
	}
}

func writeValidation(w http.ResponseWriter, ve *capability.ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":   string(capability.CodeValidation),
		"message": ve.Error(),
		"field":   ve.Field,
		"rule":    ve.Rule,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
