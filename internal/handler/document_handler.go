package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"wwnotes-sync/internal/domain"
	"wwnotes-sync/internal/service"
	"wwnotes-sync/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// Catalog is the read and sync surface of the registry used by the API.
type Catalog interface {
	GetAll() []domain.Document
	Get(id string) (domain.Document, bool)
	Search(text string, filters service.Filters) []domain.Document
	Refresh(ctx context.Context) service.RefreshResult
	Status() service.RegistryStatus
}

type Uploader interface {
	Register(ctx context.Context, req *domain.UploadRequest) (domain.Document, error)
}

type DocumentHandler struct {
	catalog  Catalog
	uploads  Uploader
	validate *validator.Validate
}

func NewDocumentHandler(catalog Catalog, uploads Uploader) *DocumentHandler {
	return &DocumentHandler{
		catalog:  catalog,
		uploads:  uploads,
		validate: validator.New(),
	}
}

type ListResponse struct {
	Documents []domain.DocumentResponse `json:"documents"`
	Count     int                       `json:"count"`
}

type RefreshResponse struct {
	Changed      bool   `json:"changed"`
	Count        int    `json:"count"`
	RemoteBehind bool   `json:"remoteBehind"`
	RemoteError  string `json:"remoteError,omitempty"`
}

func toList(docs []domain.Document) ListResponse {
	out := make([]domain.DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = d.Response()
	}
	return ListResponse{Documents: out, Count: len(out)}
}

const emptyCatalogHint = "No documents available yet. Please try again."

// writeList adds a retry hint while the whole catalog is still empty, for
// example before the first successful refresh.
func (h *DocumentHandler) writeList(w http.ResponseWriter, docs []domain.Document) {
	if len(docs) == 0 && h.catalog.Status().Count == 0 {
		response.SuccessWithHint(w, toList(docs), emptyCatalogHint)
		return
	}
	response.Success(w, toList(docs))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, h.catalog.GetAll())
}

func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := service.Filters{
		DocType: strings.TrimSpace(q.Get("type")),
		Year:    service.ParseYear(q.Get("year")),
	}
	h.writeList(w, h.catalog.Search(q.Get("q"), filters))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		response.BadRequest(w, "Document ID is required")
		return
	}

	doc, ok := h.catalog.Get(id)
	if !ok {
		response.NotFound(w, "Document not found")
		return
	}
	response.Success(w, doc.Response())
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req domain.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if req.Error == nil && req.Info != nil {
		if err := h.validate.Struct(req.Info); err != nil {
			response.BadRequest(w, err.Error())
			return
		}
	}
	if err := h.validate.Struct(req.Metadata); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	doc, err := h.uploads.Register(r.Context(), &req)
	if err != nil {
		var uploadErr *domain.UploadError
		if errors.As(err, &uploadErr) {
			msg := uploadErr.Message
			if msg == "" {
				msg = "unknown error"
			}
			response.UnprocessableEntity(w, "Upload failed: "+msg, "Please try again.")
			return
		}
		response.InternalError(w, "Failed to register upload")
		return
	}

	response.Created(w, doc.Response())
}

func (h *DocumentHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	result := h.catalog.Refresh(r.Context())
	resp := RefreshResponse{
		Changed:      result.Changed,
		Count:        result.Count,
		RemoteBehind: result.RemoteBehind,
	}
	if result.RemoteErr != nil {
		resp.RemoteError = result.RemoteErr.Error()
	}
	response.Success(w, resp)
}

func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.catalog.Status())
}
