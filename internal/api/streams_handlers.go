package api

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"pulsecast/internal/chat"
	"pulsecast/internal/hls"
	"pulsecast/internal/models"
)

type streamOwner struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

type streamDescriptor struct {
	ID           string           `json:"id"`
	PlaylistPath string           `json:"playlistPath"`
	Category     *models.Category `json:"category"`
	Owner        *streamOwner     `json:"owner"`
	DisplayName  *string          `json:"displayName"`
}

// describeStream joins the segment store entry with catalog metadata.
// Catalog failures degrade to null fields; segment serving must not depend
// on the metadata database being up.
func (h *Handler) describeStream(ctx context.Context, streamKey string) streamDescriptor {
	descriptor := streamDescriptor{
		ID:           streamKey,
		PlaylistPath: "/media/" + streamKey + "/" + hls.ManifestName,
	}
	meta, ok, err := h.Store.GetStreamMetadata(streamKey)
	if err != nil || !ok {
		if err != nil {
			h.logger().Warn("catalog lookup failed", "streamKey", streamKey, "error", err)
		}
		return descriptor
	}
	if meta.DisplayName != "" {
		name := meta.DisplayName
		descriptor.DisplayName = &name
	}
	if meta.OwnerID != "" {
		if owner, exists := h.Store.GetUser(meta.OwnerID); exists {
			descriptor.Owner = &streamOwner{ID: owner.ID, DisplayName: owner.DisplayName}
		}
	}
	if meta.CategoryID != "" {
		if category, exists, err := h.Store.GetCategory(meta.CategoryID); err == nil && exists {
			descriptor.Category = &category
		}
	}
	return descriptor
}

// Streams handles GET /streams: every stream with a readable manifest,
// joined with catalog metadata concurrently.
func (h *Handler) Streams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	keys, err := h.Segments.List()
	if err != nil {
		writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
		return
	}
	descriptors := make([]streamDescriptor, len(keys))
	group, ctx := errgroup.WithContext(r.Context())
	group.SetLimit(8)
	for i, key := range keys {
		i, key := i, key
		group.Go(func() error {
			descriptors[i] = h.describeStream(ctx, key)
			return nil
		})
	}
	_ = group.Wait()
	writeJSON(w, http.StatusOK, map[string]interface{}{"streams": descriptors})
}

// StreamByID handles GET /streams/{id} and both methods of
// /streams/{id}/chat.
func (h *Handler) StreamByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/streams/")
	if rest == "" {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound)
		return
	}
	if strings.HasSuffix(rest, "/chat") {
		h.streamChat(w, r, strings.TrimSuffix(rest, "/chat"))
		return
	}
	if strings.Contains(rest, "/") {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	if !h.Segments.Exists(rest) {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.describeStream(r.Context(), rest))
}

type postChatRequest struct {
	Text string `json:"text"`
}

func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request, streamKey string) {
	if streamKey == "" || strings.Contains(streamKey, "/") {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound)
		return
	}
	if !h.Segments.Exists(streamKey) {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		messages, err := h.Chat.List(r.Context(), streamKey)
		if err != nil {
			writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
			return
		}
		h.metricsRecorder().ObserveChatEvent("history")
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
	case http.MethodPost:
		user, ok := h.requireUser(w, r)
		if !ok {
			return
		}
		var req postChatRequest
		if err := decodeJSON(r, &req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
			return
		}
		message, err := chat.NewMessage(user.ID, user.DisplayName, req.Text)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		if err := h.Chat.Append(r.Context(), streamKey, message); err != nil {
			writeErrorCode(w, http.StatusInternalServerError, CodeInternal)
			return
		}
		h.metricsRecorder().ObserveChatEvent("message")
		writeJSON(w, http.StatusCreated, message)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}
