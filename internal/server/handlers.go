package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/storage"
)

const greeting = "hello world"

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, greeting)
}

// --- Execution ---

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeFailure(w, fmt.Errorf("reading request body: %w", err))
		return
	}

	req, err := sandbox.ParseRequest(body)
	if err != nil {
		writeFailure(w, err)
		return
	}

	if err := s.policy.CheckLanguage(req.Language); err != nil {
		writeFailure(w, err)
		return
	}

	start := time.Now()
	res, err := s.sandbox.Run(r.Context(), req)
	s.recordExecution(req, res, err, time.Since(start))

	if err != nil {
		if sandbox.KindOf(err) == sandbox.KindInternal {
			s.logger.Error("execution failed", zap.Error(err))
		}
		writeFailure(w, err)
		return
	}

	writeOK(w, res)
}

// recordExecution stores execution metadata when history is enabled. Failures
// are logged and never reach the caller.
func (s *Server) recordExecution(req sandbox.Request, res *sandbox.Result, runErr error, elapsed time.Duration) {
	if s.history == nil {
		return
	}

	e := &storage.Execution{
		Language:      req.Language,
		Outcome:       storage.Outcome(sandbox.OutcomeOf(res, runErr)),
		DurationMS:    elapsed.Milliseconds(),
		CodeBytes:     len(req.Preload) + len(req.Code),
		EnableNetwork: req.EnableNetwork,
	}
	if res != nil {
		e.ID = res.ID
		e.ExitCode = res.ExitCode
	} else {
		e.ID = uuid.NewString()
		e.ExitCode = -1
	}

	// The request context may already be canceled by the time we get here.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.history.RecordExecution(ctx, e); err != nil {
		s.logger.Warn("recording execution", zap.String("execution_id", e.ID), zap.Error(err))
	}
}

// --- History ---

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "Execution history is disabled")
		return
	}

	opts := storage.ListOptions{}

	if outcome := r.URL.Query().Get("outcome"); outcome != "" {
		opts.Outcome = storage.Outcome(outcome)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	execs, err := s.history.ListExecutions(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if execs == nil {
		execs = []storage.Execution{}
	}
	writeOK(w, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "Execution history is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	e, err := s.history.GetExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Execution not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeOK(w, e)
}
