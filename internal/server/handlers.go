package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/album-export/pkg/assembler"
	"github.com/Sternrassler/album-export/pkg/delivery"
	"github.com/Sternrassler/album-export/pkg/gate"
	"github.com/Sternrassler/album-export/pkg/pagination"
	"github.com/Sternrassler/album-export/pkg/ratelimit"
	"github.com/Sternrassler/album-export/pkg/upstream"
	"github.com/rs/zerolog/hlog"
)

const maxInfoBodyBytes = 64 << 10

type infoRequest struct {
	AlbumID   string `json:"album_id"`
	AuthToken string `json:"auth_token"`
}

// InfoResponse is the body of a successful POST /api/info.
type InfoResponse struct {
	AlbumTitle   string `json:"album_title"`
	AuthorName   string `json:"author_name"`
	PostCount    int    `json:"post_count"`
	HasUnlockAll bool   `json:"has_unlock_all"`
}

type errorResponse struct {
	Error   string `json:"error"`
	ResetAt string `json:"reset_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := hlog.FromRequest(r)
	identity := ratelimit.ClientIdentity(r)

	if err := gate.ValidateContentType(r.Header.Get("Content-Type"), "application/json"); err != nil {
		s.rejectInput(w, r, ratelimit.OperationInfo, identity, err.Error())
		return
	}

	var body infoRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInfoBodyBytes))
	if err := dec.Decode(&body); err != nil {
		s.rejectInput(w, r, ratelimit.OperationInfo, identity, "Invalid JSON body")
		return
	}

	req, err := gate.Normalize(body.AlbumID, body.AuthToken)
	if err != nil {
		s.rejectInput(w, r, ratelimit.OperationInfo, identity, err.Error())
		return
	}

	if !s.admit(w, r, ratelimit.OperationInfo, identity) {
		return
	}

	info, err := s.opts.Upstream.FetchAlbumInfo(ctx, req.AlbumID, req.Token)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		status, msg := infoFailure(err)
		log.Warn().Err(err).Str("album_id", req.AlbumID).Int("status", status).Msg("Album info lookup failed")
		writeError(w, status, msg)
		return
	}

	resp := InfoResponse{
		AlbumTitle:   info.Title,
		AuthorName:   assembler.FallbackAuthorName,
		PostCount:    info.PostCount,
		HasUnlockAll: bool(info.HasUnlockAll),
	}
	if resp.AlbumTitle == "" {
		resp.AlbumTitle = assembler.FallbackAlbumTitle
	}
	if info.User != nil && info.User.Name != "" {
		resp.AuthorName = info.User.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

// infoFailure maps an upstream error to a response status and message.
func infoFailure(err error) (int, string) {
	var httpErr *upstream.HTTPError
	var apiErr *upstream.APIError
	switch {
	case errors.As(err, &httpErr):
		status := httpErr.StatusCode
		if status >= 500 {
			status = http.StatusBadGateway
		}
		return status, "Failed to fetch album data (HTTP " + strconv.Itoa(httpErr.StatusCode) + ")"
	case errors.As(err, &apiErr):
		return http.StatusBadRequest, apiErr.Error()
	case errors.Is(err, upstream.ErrAlbumNotFound):
		return http.StatusNotFound, "Album not found"
	default:
		return http.StatusInternalServerError, "Failed to fetch album data"
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := hlog.FromRequest(r)
	identity := ratelimit.ClientIdentity(r)
	q := r.URL.Query()

	req, err := gate.Normalize(q.Get("album_id"), q.Get("auth_token"))
	if err != nil {
		s.rejectInput(w, r, ratelimit.OperationDownload, identity, err.Error())
		return
	}

	if !s.admit(w, r, ratelimit.OperationDownload, identity) {
		return
	}

	layout := assembler.ParseLayout(q.Get("toc_format"))
	meta := assembler.ResolveMetadata(ctx, s.opts.Upstream, req.AlbumID, req.Token)
	filename := meta.Filename()
	pager := pagination.NewPager(s.opts.Upstream, req.AlbumID, req.Token, s.opts.Pagination)

	if q.Get("progress") == "true" {
		sse, err := delivery.NewSSEWriter(w)
		if err != nil {
			log.Error().Err(err).Msg("Progress delivery unavailable")
			writeError(w, http.StatusInternalServerError, "Streaming not supported")
			return
		}
		if err := delivery.StreamProgress(ctx, pager, filename, sse); err != nil {
			log.Debug().Err(err).Msg("Progress stream closed by client")
		}
		return
	}

	doc := delivery.Buffer(ctx, pager, layout)
	if ctx.Err() != nil {
		return
	}
	if doc.Err != nil {
		log.Warn().Err(doc.Err).Str("album_id", req.AlbumID).Int("posts", doc.Posts).Msg("Retrieval ended with error")
	} else {
		log.Info().Str("album_id", req.AlbumID).Int("posts", doc.Posts).Int("pages", doc.Pages).Msg("Retrieval complete")
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Disposition", ContentDisposition(filename))
	h.Set("Content-Length", strconv.Itoa(doc.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}

// ContentDisposition builds an attachment header whose filename survives
// non-ASCII titles.
func ContentDisposition(filename string) string {
	enc := strings.ReplaceAll(url.QueryEscape(filename), "+", "%20")
	return `attachment; filename="` + enc + `"; filename*=UTF-8''` + enc
}

// admit consumes one unit of quota. On rejection it writes the 429 and
// returns false.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, op ratelimit.Operation, identity string) bool {
	d := s.opts.Limiter.Admit(r.Context(), op, identity)
	ratelimit.SetHeaders(w.Header(), d)
	if d.Allowed {
		return true
	}

	ratelimit.SetRetryAfter(w.Header(), d, s.now())
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:   "Too many requests. Please try again later.",
		ResetAt: d.ResetAt.UTC().Format(time.RFC3339),
	})
	return false
}

// rejectInput answers 400 and reports the current quota without consuming it.
func (s *Server) rejectInput(w http.ResponseWriter, r *http.Request, op ratelimit.Operation, identity, msg string) {
	ratelimit.SetHeaders(w.Header(), s.opts.Limiter.Peek(r.Context(), op, identity))
	writeError(w, http.StatusBadRequest, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
