package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/libris-hq/apiserver/internal/services"
	"github.com/libris-hq/apiserver/types"
)

const (
	maxImageBytes      = 10 << 20
	maxMultipartMemory = 32 << 20
	formFieldID        = "id"
	formFieldTitle     = "title"
	formFieldDesc      = "description"
	formFieldAuthor    = "author"
	formFieldImage     = "image"
)

// LibraryService is the record API used by LibraryHandler.
// *services.LibraryService satisfies it.
type LibraryService interface {
	List(ctx context.Context) ([]types.LibraryRecord, error)
	Get(ctx context.Context, id int) (types.LibraryRecord, error)
	Create(ctx context.Context, in services.RecordInput, upload *services.Upload) (types.LibraryRecord, error)
	Update(ctx context.Context, id int, in services.RecordInput, upload *services.Upload) (types.LibraryRecord, error)
	Delete(ctx context.Context, id int) error
}

// LibraryHandler provides HTTP handlers for library records.
type LibraryHandler struct {
	library LibraryService
	logger  *slog.Logger
}

func NewLibraryHandler(library LibraryService, logger *slog.Logger) *LibraryHandler {
	return &LibraryHandler{library: library, logger: logger}
}

// LibraryRouter registers library routes on the given router. Mutating
// routes require an admin session.
func LibraryRouter(r chi.Router, library LibraryService, tokens TokenVerifier, logger *slog.Logger) {
	handler := NewLibraryHandler(library, logger)

	r.Get("/get", handler.ListRecords)
	r.Get("/get/{id}", handler.GetRecord)
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(tokens), RequireAdmin)
		r.Post("/new", handler.CreateRecord)
		r.Put("/edit", handler.UpdateRecord)
		r.Delete("/delete/{id}", handler.DeleteRecord)
	})
}

func (h *LibraryHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.library.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *LibraryHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Please provide a valid id")
		return
	}

	record, err := h.library.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *LibraryHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	form, err := parseRecordForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if form.Image == nil {
		writeError(w, http.StatusBadRequest, "Please upload an image")
		return
	}

	record, err := h.library.Create(r.Context(), form.Input, form.Image)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *LibraryHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	form, err := parseRecordForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := parseID(r.FormValue(formFieldID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Please provide an id")
		return
	}

	record, err := h.library.Update(r.Context(), id, form.Input, form.Image)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *LibraryHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Please provide an id")
		return
	}

	if err := h.library.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Record deleted"})
}

// RecordForm is the parsed multipart payload of create and edit requests.
type RecordForm struct {
	Input services.RecordInput
	Image *services.Upload
}

func parseRecordForm(w http.ResponseWriter, r *http.Request) (RecordForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+(1<<20))
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return RecordForm{}, errors.New("uploaded file too large")
		}
		return RecordForm{}, errors.New("invalid multipart form")
	}

	image, err := parseImageFile(r.MultipartForm)
	if err != nil {
		return RecordForm{}, err
	}

	return RecordForm{
		Input: services.RecordInput{
			Title:       strings.TrimSpace(r.FormValue(formFieldTitle)),
			Description: strings.TrimSpace(r.FormValue(formFieldDesc)),
			Author:      strings.TrimSpace(r.FormValue(formFieldAuthor)),
		},
		Image: image,
	}, nil
}

// parseImageFile returns nil when the form carries no image.
func parseImageFile(form *multipart.Form) (*services.Upload, error) {
	if form == nil {
		return nil, errors.New("missing form data")
	}

	files := form.File[formFieldImage]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errors.New("only one image is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	data, err := readFileLimited(file, maxImageBytes)
	_ = file.Close()
	if err != nil {
		return nil, err
	}

	return &services.Upload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
