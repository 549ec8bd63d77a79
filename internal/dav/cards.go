package dav

import (
	"net/http"

	"github.com/jw6ventures/calstore/internal/objects"
)

func (h *Handler) PutCard(w http.ResponseWriter, r *http.Request) {
	user, addressBookID, name, ok := resource(w, r, true)
	if !ok {
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	res, err := h.objects.PutCard(r.Context(), objects.Write{
		UserID:      user.ID,
		ContainerID: addressBookID,
		FileName:    name,
		Body:        body,
		UserAgent:   r.UserAgent(),
		Conditions:  conditions(r),
	})
	if err != nil {
		writeError(w, r, err, "failed to save card")
		return
	}
	writeStored(w, res)
}

func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	user, addressBookID, name, ok := resource(w, r, true)
	if !ok {
		return
	}
	res, err := h.objects.GetCard(r.Context(), user.ID, addressBookID, name)
	if err != nil {
		writeError(w, r, err, "failed to load card")
		return
	}
	writeResource(w, cardContentType, res)
}

func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	user, addressBookID, name, ok := resource(w, r, true)
	if !ok {
		return
	}
	if err := h.objects.DeleteCard(r.Context(), user.ID, addressBookID, name, conditions(r)); err != nil {
		writeError(w, r, err, "failed to delete card")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ExportCards(w http.ResponseWriter, r *http.Request) {
	user, addressBookID, _, ok := resource(w, r, false)
	if !ok {
		return
	}
	body, err := h.objects.ExportCards(r.Context(), user.ID, addressBookID)
	if err != nil {
		writeError(w, r, err, "failed to export address book")
		return
	}
	writeExport(w, cardContentType, body)
}
