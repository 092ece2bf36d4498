package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/girvel/storagenode"
	"github.com/girvel/storagenode/filesystem"
	"github.com/girvel/storagenode/internal/util"
)

// HeaderItemType tells clients whether GET returned a file or a listing.
const HeaderItemType = "X-Item-Type"

// kindBadRequest covers malformed uploads, which are rejected before
// reaching the store.
const kindBadRequest storagenode.ErrorKind = "bad_request"

type verb int

const (
	verbRead verb = iota
	verbWrite
	verbDelete
)

type statusResponse struct {
	Status string `json:"status"`
}

type listingResponse struct {
	Items   []string               `json:"items"`
	Entries []storagenode.DirEntry `json:"entries"`
}

type errorResponse struct {
	Kind   storagenode.ErrorKind `json:"kind"`
	Detail string                `json:"detail"`
}

var success = statusResponse{Status: "success"}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := s.backend.Resolver.Resolve(r.PathValue("path"))
	if err != nil {
		s.writeError(w, r, verbRead, err)
		return
	}
	entry, err := s.backend.Store.Read(ctx, path)
	if err != nil {
		s.writeError(w, r, verbRead, err)
		return
	}

	switch e := entry.(type) {
	case *storagenode.File:
		defer e.Content.Close()
		h := w.Header()
		h.Set(HeaderItemType, string(storagenode.FileKind))
		h.Set("Content-Type", contentTypeForName(e.Name))
		h.Set("Content-Length", strconv.FormatInt(e.Size, 10))
		h.Set("Last-Modified", e.ModTime.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		// the file may grow while streaming; never exceed the declared length
		n, err := filesystem.CopyChunked(ctx, w, io.LimitReader(e.Content, e.Size), s.cfg.ChunkSize)
		s.stats.bytesOut.Add(n)
		if err != nil {
			logger := util.CtxLogger(ctx, "Handlers.Read")
			logger.Warn().Err(err).Int64("sent", n).Msg("File stream interrupted")
		}

	case *storagenode.Directory:
		w.Header().Set(HeaderItemType, string(storagenode.DirectoryKind))
		writeJSON(w, http.StatusOK, listingResponse{Items: e.Names(), Entries: e.Entries})
	}
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := s.backend.Resolver.Resolve(r.PathValue("path"))
	if err != nil {
		s.writeError(w, r, verbWrite, err)
		return
	}
	body, err := uploadBody(r)
	if err != nil {
		s.writeError(w, r, verbWrite, err)
		return
	}
	n, err := s.backend.Store.Write(ctx, path, body)
	s.stats.bytesIn.Add(n)
	if err != nil {
		s.writeError(w, r, verbWrite, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path, err := s.backend.Resolver.Resolve(r.PathValue("path"))
	if err != nil {
		s.writeError(w, r, verbDelete, err)
		return
	}
	if err := s.backend.Store.Delete(r.Context(), path); err != nil {
		s.writeError(w, r, verbDelete, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

// uploadBody returns the stream to store: the "file" part of a
// multipart/form-data body, or the raw body otherwise. Neither is buffered.
func uploadBody(r *http.Request) (io.Reader, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return r.Body, nil
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, storagenode.NewError(kindBadRequest, "malformed multipart body", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, storagenode.NewError(kindBadRequest, "multipart body has no file part", nil)
		}
		if err != nil {
			return nil, storagenode.NewError(kindBadRequest, "malformed multipart body", err)
		}
		if part.FormName() == "file" {
			return part, nil
		}
		_ = part.Close()
	}
}

// statusFor maps an error kind to the HTTP status of the given endpoint.
// A missing target is 404 on read but 409 on delete.
func statusFor(v verb, kind storagenode.ErrorKind) int {
	switch kind {
	case storagenode.KindPathEscape, storagenode.KindForbidden:
		return http.StatusForbidden
	case storagenode.KindNotFound:
		if v == verbDelete {
			return http.StatusConflict
		}
		return http.StatusNotFound
	case storagenode.KindConflict:
		return http.StatusConflict
	case kindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, v verb, err error) {
	kind := storagenode.KindOf(err)
	status := statusFor(v, kind)

	logger := util.CtxLogger(r.Context(), "Handlers")
	ev := logger.Debug()
	if status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(err).Str("kind", string(kind)).Int("status", status).Msg("Request failed")

	writeJSON(w, status, errorResponse{Kind: kind, Detail: storagenode.Message(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func contentTypeForName(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
