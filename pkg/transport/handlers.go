// Copyright 2025 The Lighthouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lighthouse-agents/lighthouse/pkg/auth"
	"github.com/lighthouse-agents/lighthouse/pkg/elicitation"
	"github.com/lighthouse-agents/lighthouse/pkg/event"
	"github.com/lighthouse-agents/lighthouse/pkg/eventstore"
	"github.com/lighthouse-agents/lighthouse/pkg/validation"
)

type createSessionRequest struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role,omitempty"`
}

type sessionResponse struct {
	Session *auth.Session `json:"session"`
	Token   string        `json:"token"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": "validation"})
		return
	}
	if req.Role != "" {
		if err := s.bridge.RegisterAgent(req.AgentID, auth.Role(req.Role)); err != nil {
			writeError(w, err)
			return
		}
	}
	sess, err := s.bridge.CreateSession(r.Context(), req.AgentID, r.RemoteAddr, r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Session: sess, Token: sess.Token})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	if err := s.bridge.EndSession(r.Context(), id.token, id.agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type validateRequest struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": "validation"})
		return
	}
	res, err := s.bridge.ValidateCommand(r.Context(), id.token, id.agentID, req.ToolName, req.ToolInput)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	var e event.Event
	if err := decodeBody(r, &e); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": "validation"})
		return
	}
	seq, err := s.bridge.AppendEvent(r.Context(), id.token, id.agentID, &e)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"sequence": seq})
}

type appendBatchRequest struct {
	Events []*event.Event `json:"events"`
}

func (s *Server) handleAppendBatch(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	var req appendBatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": "validation"})
		return
	}
	seqs, err := s.bridge.AppendBatch(r.Context(), id.token, id.agentID, req.Events)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string][]int64{"sequences": seqs})
}

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	q, err := queryFromParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": "validation"})
		return
	}
	res, err := s.bridge.QueryEvents(r.Context(), id.token, id.agentID, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// queryFromParams builds an event query from URL parameters.
func queryFromParams(r *http.Request) (eventstore.Query, error) {
	var q eventstore.Query
	params := r.URL.Query()

	if v := params.Get("types"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			t, err := event.ParseType(strings.TrimSpace(raw))
			if err != nil {
				return q, err
			}
			q.Filter.EventTypes = append(q.Filter.EventTypes, t)
		}
	}
	if v := params.Get("aggregate_id"); v != "" {
		q.Filter.AggregateIDs = strings.Split(v, ",")
	}
	if v := params.Get("source_agent"); v != "" {
		q.Filter.SourceAgents = strings.Split(v, ",")
	}

	var err error
	intParams := map[string]*int64{
		"after_sequence":  &q.Filter.AfterSequence,
		"before_sequence": &q.Filter.BeforeSequence,
		"after_ts":        &q.Filter.AfterTimestamp,
		"before_ts":       &q.Filter.BeforeTimestamp,
	}
	for name, dst := range intParams {
		if v := params.Get(name); v != "" {
			if *dst, err = strconv.ParseInt(v, 10, 64); err != nil {
				return q, err
			}
		}
	}
	if v := params.Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			return q, err
		}
	}
	if v := params.Get("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil {
			return q, err
		}
	}
	if v := params.Get("sort"); v != "" {
		q.SortBy = eventstore.SortField(v)
	}
	q.Descending = params.Get("desc") == "true"
	return q, nil
}

type createElicitationRequest struct {
	ToAgent  string         `json:"to_agent"`
	Message  string         `json:"message"`
	Schema   map[string]any `json:"schema,omitempty"`
	TimeoutS int            `json:"timeout_s,omitempty"`
}

func (s *Server) handleCreateElicitation(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	var req createElicitationRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": "validation"})
		return
	}
	el, err := s.bridge.CreateElicitation(r.Context(), id.token, id.agentID,
		req.ToAgent, req.Message, req.Schema, time.Duration(req.TimeoutS)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, el)
}

func (s *Server) handleGetElicitation(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	el, err := s.bridge.GetElicitation(r.Context(), id.token, id.agentID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, el)
}

type respondElicitationRequest struct {
	ResponseType string         `json:"response_type"`
	Data         map[string]any `json:"data,omitempty"`
}

func (s *Server) handleRespondElicitation(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	var req respondElicitationRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": "validation"})
		return
	}
	err := s.bridge.RespondToElicitation(r.Context(), id.token, id.agentID,
		chi.URLParam(r, "id"), elicitation.ResponseType(req.ResponseType), req.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleAwaitElicitation(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	el, err := s.bridge.AwaitElicitation(r.Context(), id.token, id.agentID, chi.URLParam(r, "id"))
	if err != nil {
		// A resolved-but-late elicitation still carries its final state.
		if el != nil {
			writeJSON(w, http.StatusOK, el)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, el)
}

type registerExpertRequest struct {
	Capabilities []string `json:"capabilities"`
	MaxInFlight  int      `json:"max_in_flight,omitempty"`
}

func (s *Server) handleRegisterExpert(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	var req registerExpertRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": "validation"})
		return
	}
	reg, err := s.bridge.RegisterExpert(r.Context(), id.token, id.agentID, req.Capabilities, req.MaxInFlight)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (s *Server) handleDeregisterExpert(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	if err := s.bridge.DeregisterExpert(r.Context(), id.token, id.agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleExpertHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	if err := s.bridge.ExpertHeartbeat(r.Context(), id.token, id.agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleNextEscalation(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	esc, err := s.bridge.NextEscalation(r.Context(), id.token, id.agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

type submitDecisionRequest struct {
	EscalationID string `json:"escalation_id"`
	Decision     string `json:"decision"`
	Confidence   string `json:"confidence"`
	Reasoning    string `json:"reasoning,omitempty"`
}

func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	id := callerOf(r)
	var req submitDecisionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error(), "kind": "validation"})
		return
	}
	err := s.bridge.SubmitDecision(r.Context(), id.token, id.agentID, req.EscalationID,
		validation.Decision(req.Decision), validation.Confidence(req.Confidence), req.Reasoning)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
