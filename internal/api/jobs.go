package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/orchestrator"
	"git.home.luguber.info/inful/exchangeset/internal/store"
)

const maxRequestBody = 1 << 20

// AcceptedResponse is returned for an accepted job.
type AcceptedResponse struct {
	JobID string `json:"job_id"`
}

// TriggerRequest optionally narrows a trigger to some data standards. An empty body
// or an empty list triggers every served standard.
type TriggerRequest struct {
	DataStandards []string `json:"data_standards,omitempty"`
}

// TriggerResponse lists the jobs a trigger accepted.
type TriggerResponse struct {
	JobIDs []string `json:"job_ids"`
}

var errInvalidBody = errors.ValidationError("invalid request body").Build()

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.Error(w, r, errInvalidBody)
		return
	}
	var req orchestrator.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.Error(w, r, errors.ValidationError("invalid request body").WithCause(err).Build())
		return
	}

	id, err := s.jobs.Accept(r.Context(), req)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+id)
	s.Success(w, http.StatusAccepted, AcceptedResponse{JobID: id})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	st, err := s.jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, st)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{Limit: 50}

	if raw := q.Get("data_standard"); raw != "" {
		ds, err := jobs.ParseDataStandard(raw)
		if err != nil {
			s.Error(w, r, err)
			return
		}
		opts.DataStandard = ds
	}
	if raw := q.Get("state"); raw != "" {
		state := jobs.State(raw)
		if !state.Valid() {
			s.Error(w, r, errors.ValidationError("unknown job state").WithContext("state", raw).Build())
			return
		}
		opts.State = state
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			s.Error(w, r, errors.ValidationError("limit must be between 1 and 500").WithContext("limit", raw).Build())
			return
		}
		opts.Limit = n
	}

	list, err := s.jobs.List(r.Context(), opts)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	s.Success(w, http.StatusOK, list)
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.jobs.Status(r.Context(), id); err != nil {
		s.Error(w, r, err)
		return
	}
	timeline, err := s.jobs.Events(r.Context(), id)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, timeline)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	dss, err := decodeTrigger(r)
	if err != nil {
		s.Error(w, r, err)
		return
	}

	var ids []string
	if len(dss) == 0 {
		ids, err = s.jobs.Trigger(r.Context())
	} else {
		ids, err = s.jobs.TriggerStandards(r.Context(), dss)
	}
	if err != nil && len(ids) == 0 {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusAccepted, TriggerResponse{JobIDs: ids})
}

// decodeTrigger returns the standards named in the body, without duplicates. Every
// entry must name a known standard.
func decodeTrigger(r *http.Request) ([]jobs.DataStandard, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, errInvalidBody
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var req TriggerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.ValidationError("invalid request body").WithCause(err).Build()
	}

	var (
		dss     []jobs.DataStandard
		invalid []string
	)
	seen := make(map[jobs.DataStandard]bool, len(req.DataStandards))
	for _, raw := range req.DataStandards {
		ds, err := jobs.ParseDataStandard(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		if !seen[ds] {
			seen[ds] = true
			dss = append(dss, ds)
		}
	}
	if len(invalid) > 0 {
		return nil, errors.ValidationError("unknown data standard").WithContext("data_standards", invalid).Build()
	}
	return dss, nil
}
