package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/maltedev/supplier-scraper/internal/csvio"
	"github.com/maltedev/supplier-scraper/internal/rules"
	"github.com/maltedev/supplier-scraper/internal/session"
	"github.com/maltedev/supplier-scraper/internal/storage"
)

const maxUploadBytes = 32 << 20

// BacklogReporter reports the outbox backlog for the health check.
type BacklogReporter interface {
	Backlog(ctx context.Context) (pending, dead int64, err error)
}

type Handlers struct {
	baseCtx context.Context
	ws      *session.Workspace
	backlog BacklogReporter
	logger  *slog.Logger
}

// NewHandlers serves ws over HTTP. Batches run under baseCtx rather than the
// request context so a dropped client does not cancel them. backlog may be nil.
func NewHandlers(baseCtx context.Context, ws *session.Workspace, backlog BacklogReporter, logger *slog.Logger) *Handlers {
	return &Handlers{
		baseCtx: baseCtx,
		ws:      ws,
		backlog: backlog,
		logger:  logger.With("component", "api"),
	}
}

type rowView struct {
	SKU    string `json:"sku"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

type rowsResponse struct {
	Generation uint64    `json:"generation"`
	Total      int       `json:"total"`
	Terminal   int       `json:"terminal"`
	Rows       []rowView `json:"rows"`
}

// LoadRows accepts a CSV file either as the raw body or as the "file" field
// of a multipart form.
func (h *Handlers) LoadRows(w http.ResponseWriter, r *http.Request) {
	body, closeBody, err := uploadedFile(w, r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeBody()

	n, err := h.ws.LoadRows(body)
	if err != nil {
		var schemaErr *csvio.InputSchemaError
		if errors.As(err, &schemaErr) {
			h.respondError(w, http.StatusBadRequest, schemaErr.Error())
			return
		}
		h.logger.Error("failed to read rows", "error", err)
		h.respondError(w, http.StatusBadRequest, "failed to read csv: "+err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]int{"loaded": n})
}

func (h *Handlers) GetRows(w http.ResponseWriter, r *http.Request) {
	snap := h.ws.Statuses()
	resp := rowsResponse{
		Generation: snap.Generation,
		Total:      len(snap.Rows),
		Terminal:   snap.Terminal(),
		Rows:       make([]rowView, len(snap.Rows)),
	}
	for i, row := range snap.Rows {
		resp.Rows[i] = rowView{SKU: row.SKU, URL: row.URL, Status: row.Status.String()}
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// RunBatch runs a batch over the loaded rows and returns its summary once
// every row is terminal.
func (h *Handlers) RunBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ws.Run(h.baseCtx)
	if errors.Is(err, session.ErrNoRows) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("batch failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "batch failed")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"summary": summary,
		"message": summary.String(),
	})
}

func (h *Handlers) GetResults(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.ws.Results())
}

func (h *Handlers) ClearResults(w http.ResponseWriter, r *http.Request) {
	h.ws.ClearResults()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ExportResults(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="products.csv"`)
	if err := h.ws.Export(w); err != nil {
		h.logger.Error("failed to export results", "error", err)
	}
}

func (h *Handlers) GetRules(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.ws.Rules())
}

// PutRules replaces the rule set. YAML is accepted when the request says so.
func (h *Handlers) PutRules(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var rs *rules.RuleSet
	if isYAML(r.Header.Get("Content-Type")) {
		rs, err = rules.ParseYAML(data)
	} else {
		rs, err = rules.Parse(data)
	}
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ws.SetRules(rs); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, h.ws.Rules())
}

func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.ws.Settings())
}

func (h *Handlers) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req session.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.ws.SetSettings(req); err != nil {
		if errors.Is(err, session.ErrUnknownSupplier) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	h.respondJSON(w, http.StatusOK, h.ws.Settings())
}

func (h *Handlers) NewSession(w http.ResponseWriter, r *http.Request) {
	h.ws.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SaveSession(w http.ResponseWriter, r *http.Request) {
	if err := h.ws.Save(r.Context()); err != nil {
		h.logger.Error("failed to save session", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to save session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) LoadSession(w http.ResponseWriter, r *http.Request) {
	if err := h.ws.Load(r.Context()); err != nil {
		h.logger.Error("failed to load session", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	h.respondJSON(w, http.StatusOK, h.ws.Document())
}

// DownloadSession returns the session document as an attachment.
func (h *Handlers) DownloadSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Disposition", `attachment; filename="session.json"`)
	h.respondJSON(w, http.StatusOK, h.ws.Document())
}

// UploadSession replaces the session with an uploaded document.
func (h *Handlers) UploadSession(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := storage.DecodeSession(data)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to load session: "+err.Error())
		return
	}
	h.ws.Apply(doc)
	h.respondJSON(w, http.StatusOK, h.ws.Document())
}

func (h *Handlers) Template(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="template.csv"`)
	_, _ = io.WriteString(w, csvio.Template)
}

// Health reports ok, or the outbox backlog when a relay is running.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.backlog != nil {
		pending, dead, err := h.backlog.Backlog(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox backlog", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = map[string]int64{"pending": pending, "dead_letter": dead}
		if pending > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if dead > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func uploadedFile(w http.ResponseWriter, r *http.Request) (io.Reader, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, func() {}, nil
	}

	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errors.New("multipart upload requires a file field")
	}
	return f, func() { f.Close() }, nil
}

func isYAML(contentType string) bool {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	return strings.Contains(mediaType, "yaml")
}
