package dav

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jw6ventures/calstore/internal/auth"
	"github.com/jw6ventures/calstore/internal/objects"
	"github.com/jw6ventures/calstore/internal/store"
)

func (h *Handler) PutCalendarObject(w http.ResponseWriter, r *http.Request) {
	user, calendarID, name, ok := resource(w, r, true)
	if !ok {
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	res, err := h.objects.PutCalendar(r.Context(), objects.Write{
		UserID:      user.ID,
		ContainerID: calendarID,
		FileName:    name,
		Body:        body,
		UserAgent:   r.UserAgent(),
		Conditions:  conditions(r),
	})
	if err != nil {
		writeError(w, r, err, "failed to save calendar object")
		return
	}
	h.logger.DebugContext(r.Context(), "calendar object stored",
		"calendar_id", calendarID, "name", name, "created", res.Created, "password", auth.PasswordLabelFromContext(r.Context()))
	writeStored(w, res)
}

func (h *Handler) GetCalendarObject(w http.ResponseWriter, r *http.Request) {
	user, calendarID, name, ok := resource(w, r, true)
	if !ok {
		return
	}
	res, err := h.objects.GetCalendar(r.Context(), user.ID, calendarID, name)
	if err != nil {
		writeError(w, r, err, "failed to load calendar object")
		return
	}
	writeResource(w, calendarContentType, res)
}

func (h *Handler) DeleteCalendarObject(w http.ResponseWriter, r *http.Request) {
	user, calendarID, name, ok := resource(w, r, true)
	if !ok {
		return
	}
	if err := h.objects.DeleteCalendar(r.Context(), user.ID, calendarID, name, conditions(r)); err != nil {
		writeError(w, r, err, "failed to delete calendar object")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ExportCalendar(w http.ResponseWriter, r *http.Request) {
	user, calendarID, _, ok := resource(w, r, false)
	if !ok {
		return
	}
	body, err := h.objects.ExportCalendar(r.Context(), user.ID, calendarID)
	if err != nil {
		writeError(w, r, err, "failed to export calendar")
		return
	}
	writeExport(w, calendarContentType, body)
}

// GetAttachment streams stored attachment content. Once the first byte is
// sent, failures can only be logged.
func (h *Handler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	user, _, _, ok := resource(w, r, false)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "attachmentID"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	started := false
	err = h.objects.StreamAttachment(r.Context(), user.ID, id, func(a store.Attachment) (io.Writer, error) {
		mediaType := "application/octet-stream"
		if a.MediaType != nil && *a.MediaType != "" {
			mediaType = *a.MediaType
		}
		w.Header().Set("Content-Type", mediaType)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		started = true
		return w, nil
	})
	switch {
	case err == nil:
	case started:
		h.logger.WarnContext(r.Context(), "attachment stream interrupted", "attachment_id", id, "error", err)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		writeError(w, r, err, "failed to stream attachment")
	}
}
