package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/brain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/llm"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prospect"
)

const (
	// maxChatBodyBytes caps an inbound chat request. The frontend sends the
	// whole visible history each turn, so this is generous.
	maxChatBodyBytes = 8 << 20

	// maxMultipartMemory is the in-memory threshold for multipart parsing;
	// larger uploads spill to temp files.
	maxMultipartMemory = 8 << 20

	// uploadOverheadBytes covers multipart boundaries and form fields beyond
	// the file payload itself.
	uploadOverheadBytes = 1 << 20
)

// chatRequest is the body of POST /api/chat. UserID selects the prospect
// folder; when omitted the configured default prospect is used.
type chatRequest struct {
	Messages []domain.Message `json:"messages"`
	UserID   string           `json:"userId"`
}

// uploadResponse is the body returned by POST /api/upload.
type uploadResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	MIME     string `json:"mime,omitempty"`
}

// assetsResponse is the body returned by GET /api/assets/{userId}.
type assetsResponse struct {
	Files []string `json:"files"`
	Count int      `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorEnvelope{Error: msg, Details: details})
}

// =============================================================================
// Chat
// =============================================================================

// handleChat runs one orchestrated chat turn and returns the upstream
// completion body verbatim. Turns for the same prospect are serialized through
// the turn queue; the final assistant reply plus any tool exchange is
// persisted to the prospect's conversation.json before responding.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request", "messages must not be empty")
		return
	}
	prospectID := strings.TrimSpace(req.UserID)
	if prospectID == "" {
		prospectID = s.defaultProspect()
	}
	if _, err := s.deps.Prospects.Dir(prospectID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "bad userId")
		return
	}

	ctx := r.Context()
	start := time.Now()

	var turn *brain.TurnResult
	run := func() error {
		t, err := s.deps.Brain.RunTurn(ctx, prospectID, req.Messages)
		if err != nil {
			return err
		}
		turn = t
		return nil
	}
	var err error
	if s.deps.Turns != nil {
		err = s.deps.Turns.Do(ctx, prospectID, run)
	} else {
		err = run()
	}
	if err != nil {
		// When the caller gave up mid-queue the lane may still be running the
		// turn, so only the success path reads it.
		s.recordTurn(ctx, prospectID, nil, time.Since(start), err)
		s.writeChatError(w, err)
		return
	}

	s.recordTurn(ctx, prospectID, turn, time.Since(start), nil)
	s.persistTurn(prospectID, req.Messages, turn)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(turn.Response.Raw) > 0 {
		w.Write(turn.Response.Raw)
		return
	}
	_ = json.NewEncoder(w).Encode(turn.Response)
}

// persistTurn writes the whole turn to conversation.json: the inbound
// history, the tool exchange, and the final assistant reply (which the
// orchestrator itself never appends). A failed save is logged, not fatal; the
// reply already cost an upstream call and must reach the client.
func (s *Server) persistTurn(prospectID string, inbound []domain.Message, turn *brain.TurnResult) {
	full := slices.Clone(inbound)
	full = append(full, turn.Appended...)
	full = append(full, turn.Response.AssistantMessage())

	conv := &domain.Conversation{Messages: full}
	if err := s.deps.Conversations.SaveConversation(prospectID, conv); err != nil {
		s.log().Warn("conversation save failed", "prospect", prospectID, "error", err)
	}
}

// recordTurn emits a best-effort audit row. turn is nil on the error path.
func (s *Server) recordTurn(ctx context.Context, prospectID string, turn *brain.TurnResult, dur time.Duration, err error) {
	if s.deps.Recorder == nil {
		return
	}
	rec := domain.TurnRecord{Prospect: prospectID, Duration: dur}
	if turn != nil {
		rec.CompletionCalls = turn.CompletionCalls
		rec.ToolCalls = turn.ToolCalls
		rec.LimitHit = turn.LimitHit
		if turn.Response != nil {
			rec.StopReason = turn.Response.StopReason
		}
	}
	if err != nil {
		rec.Err = err.Error()
	}
	go s.deps.Recorder.Record(ctx, rec)
}

// writeChatError maps a failed turn onto the error envelope. Upstream
// failures become 502, deadline expiry 504, everything else 500. A client
// that went away gets nothing; the write would be discarded anyway.
func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	var ue *llm.UpstreamError
	switch {
	case errors.Is(err, context.Canceled):
		s.log().Info("chat turn abandoned by client", "error", err)
	case errors.Is(err, context.DeadlineExceeded):
		s.log().Warn("chat turn timed out", "error", err)
		writeError(w, http.StatusGatewayTimeout, "completion timed out", "")
	case errors.As(err, &ue):
		s.log().Error("upstream completion failed", "status", ue.StatusCode, "error", err)
		writeError(w, http.StatusBadGateway, "upstream completion failed", http.StatusText(ue.StatusCode))
	default:
		s.log().Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "chat turn failed", "")
	}
}

// =============================================================================
// Conversation
// =============================================================================

// handleConversation returns the persisted conversation document. A prospect
// that has never chatted gets an empty document, mirroring the tool contract.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	conv, err := s.deps.Conversations.LoadConversation(userID)
	if err != nil {
		s.log().Error("conversation load failed", "prospect", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "cannot load conversation", "")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// =============================================================================
// Assets
// =============================================================================

// handleListAssets lists a prospect's uploaded images for the picker UI.
func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if _, err := s.deps.Prospects.Dir(userID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "bad userId")
		return
	}
	files, err := s.deps.Prospects.ListAssets(userID)
	if err != nil {
		s.log().Error("asset listing failed", "prospect", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "cannot list assets", "")
		return
	}
	writeJSON(w, http.StatusOK, assetsResponse{Files: files, Count: len(files)})
}

// handleUpload accepts one multipart image upload (fields: userId, file). The
// filename is sanitized, the content sniffed, and a thumbnail generated next
// to the stored asset. The preview watcher picks up the new file on its own.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes()+uploadOverheadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large",
				fmt.Sprintf("limit is %d MB", s.maxUploadBytes()>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid upload", err.Error())
		return
	}

	userID := strings.TrimSpace(r.FormValue("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid upload", "userId field is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload", "file field is required")
		return
	}
	defer file.Close()

	if !prospect.IsImageFilename(header.Filename) {
		writeError(w, http.StatusBadRequest, "only image uploads are accepted",
			fmt.Sprintf("unsupported file extension %q", filepath.Ext(header.Filename)))
		return
	}
	if _, err := s.deps.Prospects.AssetPath(userID, header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload", "bad userId or filename")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large",
				fmt.Sprintf("limit is %d MB", s.maxUploadBytes()>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid upload", "cannot read file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "invalid upload", "file is empty")
		return
	}

	// SVG is text and invisible to magic-byte sniffing; its extension already
	// passed the allowlist above.
	isSVG := strings.EqualFold(filepath.Ext(header.Filename), ".svg")
	mime := "image/svg+xml"
	if !isSVG {
		mime, err = s.deps.Images.SniffMIME(data)
		if err != nil {
			s.log().Error("upload sniffing failed", "prospect", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "cannot inspect upload", "")
			return
		}
		if !prospect.IsImageMIME(mime) {
			writeError(w, http.StatusBadRequest, "only image uploads are accepted",
				fmt.Sprintf("detected content type %q", mime))
			return
		}
	}

	stored, err := s.deps.Prospects.SaveAsset(userID, header.Filename, data)
	if err != nil {
		s.log().Error("asset save failed", "prospect", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "cannot store upload", "")
		return
	}
	if !isSVG {
		if err := s.generateThumb(userID, stored); err != nil {
			s.log().Warn("thumbnail generation failed", "prospect", userID, "asset", stored, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:  true,
		Filename: stored,
		Size:     len(data),
		MIME:     mime,
	})
}

// generateThumb writes the bounded-width thumbnail for a stored asset.
func (s *Server) generateThumb(userID, stored string) error {
	src, err := s.deps.Prospects.AssetPath(userID, stored)
	if err != nil {
		return err
	}
	dst, err := s.deps.Prospects.ThumbPath(userID, stored)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return s.deps.Images.Thumbnail(src, dst)
}

// handleDeleteAsset removes an asset and its thumbnail.
func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	name := r.PathValue("filename")
	if _, err := s.deps.Prospects.AssetPath(userID, name); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "bad userId or filename")
		return
	}
	if err := s.deps.Prospects.RemoveAsset(userID, name); err != nil {
		if errors.Is(err, prospect.ErrNotFound) {
			writeError(w, http.StatusNotFound, "asset not found", "")
			return
		}
		s.log().Error("asset delete failed", "prospect", userID, "asset", name, "error", err)
		writeError(w, http.StatusInternalServerError, "cannot delete asset", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// =============================================================================
// Preview
// =============================================================================

// handlePreview serves a prospect's site files for the iframe. Paths are
// jailed to the prospect folder; dotfiles and the conversation log stay
// hidden.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	rel := r.PathValue("path")
	if rel == "" {
		rel = "index.html"
	}

	segments := strings.Split(rel, "/")
	for _, seg := range segments {
		if seg == "" || strings.HasPrefix(seg, ".") {
			http.NotFound(w, r)
			return
		}
	}
	if segments[len(segments)-1] == prospect.ConversationFile {
		http.NotFound(w, r)
		return
	}

	path, err := s.deps.Prospects.Path(userID, segments...)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}
