package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"swarmstream/internal/domain"
)

// maxStreamWait caps how long a POST blocks before answering 202 with the
// session still in progress.
const maxStreamWait = 2 * time.Minute

type startSessionJSON struct {
	Locator string `json:"locator"`
}

type streamSessionResponse struct {
	Handle  domain.StreamHandle    `json:"handle"`
	Session domain.SessionSnapshot `json:"session"`
}

type sessionList struct {
	Items []domain.SessionSnapshot `json:"items"`
	Count int                      `json:"count"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items := s.sessions.ListSessions()
	writeJSON(w, http.StatusOK, sessionList{Items: items, Count: len(items)})
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(tail, "/")
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := domain.ContentID(parts[0])

	if len(parts) == 2 && parts[1] == "stream" {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleStream(w, r, id)
		return
	}
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handleStartSession(w, r, id)
	case http.MethodGet:
		s.handleGetSession(w, r, id)
	case http.MethodDelete:
		s.sessions.StopSession(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request, id domain.ContentID) {
	var body startSessionJSON
	decoder := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	locator := domain.Locator(strings.TrimSpace(body.Locator))

	wait, err := parseBoolParam(r.URL.Query().Get("wait"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid wait")
		return
	}
	if !wait {
		snap, err := s.sessions.Start(id, locator)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, snap)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.streamWait)
	defer cancel()

	handle, err := s.sessions.StreamSession(ctx, id, locator)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
			// Still connecting; the session keeps running unless it was
			// stopped or evicted meanwhile.
			snap, getErr := s.sessions.GetProgress(id)
			if getErr != nil {
				writeSessionError(w, getErr)
				return
			}
			writeJSON(w, http.StatusAccepted, snap)
			return
		}
		if r.Context().Err() != nil {
			return
		}
		writeSessionError(w, err)
		return
	}

	snap, err := s.sessions.GetProgress(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, streamSessionResponse{Handle: handle, Session: snap})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, id domain.ContentID) {
	snap, err := s.sessions.GetProgress(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, id domain.ContentID) {
	reader, handle, err := s.sessions.OpenStream(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	defer reader.Close()
	reader.SetContext(r.Context())

	ext := strings.ToLower(path.Ext(handle.File.Path))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = fallbackContentType(ext)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("X-Stream-Handle", handle.ID)

	size := handle.File.Length

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		start, end, err := parseByteRange(rangeHeader, size)
		if errors.Is(err, errInvalidRange) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
			return
		}
		if errors.Is(err, errRangeNotSatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}

		if _, err := reader.Seek(start, io.SeekStart); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to seek stream")
			return
		}
		length := end - start + 1
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
		if _, err := io.CopyN(w, reader, length); err != nil {
			s.logger.Debug("stream range copy interrupted",
				slog.String("contentId", string(id)),
				slog.String("handle", handle.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.CopyN(w, reader, size); err != nil {
		s.logger.Debug("stream copy interrupted",
			slog.String("contentId", string(id)),
			slog.String("handle", handle.ID),
			slog.String("error", err.Error()),
		)
	}
}
