package api

import (
	"errors"
	"net/http"

	"github.com/samber/lo"

	"github.com/huddle/chat-server/internal/account"
	"github.com/huddle/chat-server/internal/api/middleware"
	"github.com/huddle/chat-server/internal/media"
	"github.com/huddle/chat-server/internal/presence"
	"github.com/huddle/chat-server/internal/protocol"
)

// UsersResponse lists users other than the caller.
type UsersResponse struct {
	Success bool                   `json:"success"`
	Users   []protocol.UserPayload `json:"users"`
}

// Users lists every known user except the caller.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	me := middleware.Username(r.Context())

	others := lo.Filter(h.deps.Gateway.Users(), func(rec presence.Record, _ int) bool {
		return rec.Username != me
	})
	h.JSON(w, http.StatusOK, UsersResponse{
		Success: true,
		Users:   lo.Map(others, func(rec presence.Record, _ int) protocol.UserPayload { return protocol.User(rec) }),
	})
}

// SearchUsers returns users whose name contains the query, ignoring case.
// An empty query matches everyone.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	me := middleware.Username(r.Context())

	names, err := h.deps.Directory.Search(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		h.log.Error().Err(err).Msg("search users")
		h.Error(w, http.StatusInternalServerError, "Search failed")
		return
	}

	records := lo.KeyBy(h.deps.Gateway.Users(), func(rec presence.Record) string { return rec.Username })
	users := lo.FilterMap(names, func(name string, _ int) (protocol.UserPayload, bool) {
		if name == me {
			return protocol.UserPayload{}, false
		}
		rec, ok := records[name]
		if !ok {
			rec = presence.Record{Username: name}
		}
		return protocol.User(rec), true
	})

	h.JSON(w, http.StatusOK, UsersResponse{Success: true, Users: users})
}

// UploadResponse is returned by a successful profile upload.
type UploadResponse struct {
	Success      bool   `json:"success"`
	ProfileImage string `json:"profile_image"`
}

// UploadProfile stores the multipart field profileImage as the caller's
// profile picture and re-broadcasts presence.
func (h *Handler) UploadProfile(w http.ResponseWriter, r *http.Request) {
	me := middleware.Username(r.Context())

	// Room for multipart framing on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.Media.MaxBytes()+64<<10)

	file, header, err := r.FormFile("profileImage")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.Error(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		h.Error(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	ref, err := h.deps.Media.Store(header.Filename, file)
	switch {
	case errors.Is(err, media.ErrUnsupportedType):
		h.Error(w, http.StatusBadRequest, "Only image files are allowed!")
		return
	case errors.Is(err, media.ErrTooLarge):
		h.Error(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	case errors.Is(err, media.ErrEmpty):
		h.Error(w, http.StatusBadRequest, "No file uploaded")
		return
	case err != nil:
		h.log.Error().Err(err).Str("user", me).Msg("store upload")
		h.Error(w, http.StatusInternalServerError, "Upload failed")
		return
	}

	err = h.deps.Accounts.SetProfileImage(r.Context(), me, ref)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		h.log.Error().Err(err).Str("user", me).Msg("save profile image")
		h.Error(w, http.StatusInternalServerError, "Upload failed")
		return
	}
	h.deps.Gateway.SetProfileImage(me, ref)

	h.JSON(w, http.StatusOK, UploadResponse{Success: true, ProfileImage: ref})
}
