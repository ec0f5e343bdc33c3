package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
	"github.com/davidstormer/fdp-app-sub000/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const maxUploadBytes = 32 << 20

// NewRouter exposes the import engine over HTTP.
func NewRouter(service *Service, runner *Runner, logging func(http.Handler) http.Handler) http.Handler {
	h := &handler{service: service, runner: runner}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if logging != nil {
		r.Use(logging)
	}
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/registry", h.handleRegistry)
		r.Post("/plan", h.handlePlan)
		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", h.handleSubmit)
			r.Get("/", h.handleList)
			r.Get("/{id}", h.handleGet)
			r.Get("/{id}/report", h.handleReport)
			r.Post("/{id}/reverse", h.handleReverse)
			r.Post("/{id}/cancel", h.handleCancel)
		})
	})

	return r
}

type handler struct {
	service *Service
	runner  *Runner
}

// RegistryResponse is the catalog payload: the declared types plus the
// current stored record total per type.
type RegistryResponse struct {
	Types  []domain.TypeDef `json:"types"`
	Counts map[string]int64 `json:"counts"`
}

func (h *handler) handleRegistry(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.RegistryCounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, RegistryResponse{
		Types:  h.service.Registry().Defs(),
		Counts: counts,
	})
}

func (h *handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	fileName, payload, ok := readUpload(w, r)
	if !ok {
		return
	}

	plan, err := h.service.Plan(r.Context(), fileName, payload)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnsupportedFormat) {
			status = http.StatusUnsupportedMediaType
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

func (h *handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	fileName, payload, ok := readUpload(w, r)
	if !ok {
		return
	}

	mode := domain.Mode(strings.TrimSpace(r.FormValue("mode")))
	if mode == "" {
		mode = domain.ModeCreate
	}
	dryRun := r.FormValue("dryRun") == "true"

	sub, err := h.runner.Start(r.Context(), Request{
		FileName: fileName,
		Mode:     mode,
		DryRun:   dryRun,
		Payload:  payload,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, sub)
}

func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.Submissions(r.Context(), 100, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := submissionID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Submission(r.Context(), id)
	if err != nil {
		writeRepositoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *handler) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := submissionID(w, r)
	if !ok {
		return
	}

	report, err := h.service.Report(r.Context(), id)
	if err != nil {
		writeRepositoryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "submission-"+id.String()+".csv"))
	if err := report.WriteCSV(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	id, ok := submissionID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Reverse(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrReversalRefused):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, repository.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := submissionID(w, r)
	if !ok {
		return
	}

	if !h.runner.Cancel(id) {
		http.Error(w, "submission is not running", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func submissionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid submission id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return "", nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return "", nil, false
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return "", nil, false
	}

	return header.Filename, payload, true
}

func writeRepositoryError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
