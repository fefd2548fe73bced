package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jsdraven/HashMiner_GoLang/internal/logging"
	"github.com/jsdraven/HashMiner_GoLang/internal/service"
	"github.com/jsdraven/HashMiner_GoLang/pkg/mining"
)

const defaultExportCount = 100

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service and mining errors to HTTP status codes.
func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, mining.ErrInvalidArgument), errors.Is(err, service.ErrRangeTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, mining.ErrOutOfMemory):
		return http.StatusInsufficientStorage
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	logging.Annotate(r.Context(), "error", msg)
	if status == http.StatusInternalServerError {
		s.logger.Error("request_failed", "error", err, "path", r.URL.Path)
		msg = http.StatusText(status)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// badRequest wraps a decoding problem so it maps to 400.
func badRequest(arg string, err error) error {
	return &mining.ArgumentError{Arg: arg, Reason: err.Error()}
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, badRequest("body", err))
		return
	}

	// end the search before the server's write deadline does
	ctx := r.Context()
	if s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}

	resp, err := s.svc.Mine(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.Annotate(r.Context(),
		"search_status", resp.Status,
		"hashes", resp.Hashes,
		"range", req.End-req.Start)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	logging.Annotate(r.Context(), "stopped_in_flight", s.svc.InFlight())
	s.svc.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.svc.Resume()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := uintParam(q.Get("start"), 0)
	if err != nil {
		s.writeError(w, r, badRequest("start", err))
		return
	}
	count, err := uintParam(q.Get("count"), defaultExportCount)
	if err != nil {
		s.writeError(w, r, badRequest("count", err))
		return
	}

	rc, err := s.svc.Candidates(q.Get("alphabet"), start, count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()
	logging.Annotate(r.Context(), "export_start", start, "export_count", count)

	name := q.Get("name")
	if name == "" {
		name = "candidates-" + strconv.FormatUint(start, 10) + "-" + strconv.FormatUint(count, 10) + ".txt"
	}
	err = WriteAttachment(w, r, rc, AttachmentOpts{
		Filename:    name,
		ContentType: "text/plain; charset=utf-8",
		Size:        -1,
		CacheCtrl:   "no-store",
	})
	if err != nil {
		s.logger.Warn("export_aborted", "error", err)
	}
}

func uintParam(v string, def uint64) (uint64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseUint(v, 10, 64)
}
