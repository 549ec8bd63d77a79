// Package dav exposes calendar objects and cards over plain HTTP resource
// methods under /dav.
package dav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jw6ventures/calstore/internal/auth"
	"github.com/jw6ventures/calstore/internal/config"
	httperr "github.com/jw6ventures/calstore/internal/http/errors"
	"github.com/jw6ventures/calstore/internal/mapping"
	"github.com/jw6ventures/calstore/internal/objects"
	"github.com/jw6ventures/calstore/internal/store"
)

const (
	calendarContentType = "text/calendar; charset=utf-8"
	cardContentType     = "text/vcard; charset=utf-8"
)

// ObjectService is the resource layer the handlers delegate to.
type ObjectService interface {
	PutCalendar(ctx context.Context, w objects.Write) (objects.Result, error)
	GetCalendar(ctx context.Context, userID, calendarID int64, fileName string) (*objects.Resource, error)
	ExportCalendar(ctx context.Context, userID, calendarID int64) ([]byte, error)
	DeleteCalendar(ctx context.Context, userID, calendarID int64, fileName string, cond objects.Conditions) error
	StreamAttachment(ctx context.Context, userID int64, id uuid.UUID, open func(store.Attachment) (io.Writer, error)) error

	PutCard(ctx context.Context, w objects.Write) (objects.Result, error)
	GetCard(ctx context.Context, userID, addressBookID int64, fileName string) (*objects.Resource, error)
	ExportCards(ctx context.Context, userID, addressBookID int64) ([]byte, error)
	DeleteCard(ctx context.Context, userID, addressBookID int64, fileName string, cond objects.Conditions) error
}

// Handler serves object resources.
type Handler struct {
	objects ObjectService
	maxBody int64
	logger  *slog.Logger
}

func NewHandler(cfg *config.Config, objects ObjectService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{objects: objects, maxBody: cfg.DAV.MaxBodyBytes, logger: logger}
}

// AttachmentHref returns the download URL builder for stored attachments.
func AttachmentHref(baseURL string) func(calendarID int64, id uuid.UUID) string {
	return func(calendarID int64, id uuid.UUID) string {
		return fmt.Sprintf("%s/dav/calendars/%d/attachments/%s", baseURL, calendarID, id)
	}
}

// Routes mounts the resource routes on a router already scoped to /dav.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/calendars/{containerID}", func(r chi.Router) {
		r.Get("/", h.ExportCalendar)
		r.Get("/attachments/{attachmentID}", h.GetAttachment)
		r.Get("/{name}", h.GetCalendarObject)
		r.Head("/{name}", h.GetCalendarObject)
		r.Put("/{name}", h.PutCalendarObject)
		r.Delete("/{name}", h.DeleteCalendarObject)
	})
	r.Route("/addressbooks/{containerID}", func(r chi.Router) {
		r.Get("/", h.ExportCards)
		r.Get("/{name}", h.GetCard)
		r.Head("/{name}", h.GetCard)
		r.Put("/{name}", h.PutCard)
		r.Delete("/{name}", h.DeleteCard)
	})
}

func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "OPTIONS, HEAD, GET, PUT, DELETE")
	w.Header().Set("DAV", "1, calendar-access, addressbook")
	w.WriteHeader(http.StatusNoContent)
}

// resource resolves the caller, the container and the resource name of a
// request. It writes the error response and returns false on failure.
func resource(w http.ResponseWriter, r *http.Request, named bool) (*store.User, int64, string, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return nil, 0, "", false
	}
	containerID, err := strconv.ParseInt(chi.URLParam(r, "containerID"), 10, 64)
	if err != nil || containerID <= 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, 0, "", false
	}
	if !named {
		return user, containerID, "", true
	}
	name := chi.URLParam(r, "name")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, 0, "", false
	}
	return user, containerID, name, true
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.ContentLength > h.maxBody {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		} else {
			httperr.BadRequestError(w, r, err, "failed to read body")
		}
		return nil, false
	}
	return body, true
}

func conditions(r *http.Request) objects.Conditions {
	return objects.Conditions{
		IfMatch:     r.Header.Get("If-Match"),
		IfNoneMatch: r.Header.Get("If-None-Match"),
	}
}

// writeError maps service errors to statuses. Writes and deletes that match
// nothing the caller may change are reported as 404.
func writeError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, mapping.ErrValidation):
		httperr.ClientError(w, r, http.StatusBadRequest, err, err.Error())
	case errors.Is(err, mapping.ErrUnsupportedInput):
		httperr.ClientError(w, r, http.StatusUnsupportedMediaType, err, err.Error())
	case errors.Is(err, objects.ErrPreconditionFailed):
		http.Error(w, "precondition failed", http.StatusPreconditionFailed)
	case errors.Is(err, objects.ErrUIDConflict):
		httperr.ClientError(w, r, http.StatusConflict, err, "UID conflicts with another resource")
	case errors.Is(err, store.ErrNotFoundOrForbidden), errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		httperr.InternalError(w, r, err, action)
	}
}

func writeResource(w http.ResponseWriter, contentType string, res *objects.Resource) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", res.ETag)
	if !res.LastModified.IsZero() {
		w.Header().Set("Last-Modified", res.LastModified.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

func writeStored(w http.ResponseWriter, res objects.Result) {
	w.Header().Set("ETag", res.ETag)
	if res.Created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeExport(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
