package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/deixis/steward/internal/ops"
	"github.com/deixis/steward/internal/report"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 16

type response struct {
	Status  string `json:"status"`
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message,omitempty"`
}

type firewallResponse struct {
	response
	*ops.FirewallStatus
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeBody reads a JSON request body into v. An empty body leaves v at
// its zero value.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body: %v", ops.ErrInvalidArgument, err)
	}
	return nil
}

// writeOutcome maps an operation result to the response body and status.
func writeOutcome(w http.ResponseWriter, out *ops.Outcome, err error) {
	resp := response{Status: "error"}
	if out != nil {
		resp.RunID = out.ID
		resp.Status = out.Status()
	}
	switch {
	case errors.Is(err, ops.ErrInvalidArgument):
		resp.Status = "error"
		resp.Message = err.Error()
		writeJSON(w, http.StatusBadRequest, resp)
	case err != nil:
		resp.Status = "error"
		resp.Message = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) systemUpdate(w http.ResponseWriter, r *http.Request) {
	out, err := s.Engine.Update(r.Context())
	writeOutcome(w, out, err)
}

func (s *Server) snapshotCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeOutcome(w, nil, err)
		return
	}
	out, err := s.Engine.SnapshotCreate(r.Context(), req.Description)
	writeOutcome(w, out, err)
}

func (s *Server) snapshotList(w http.ResponseWriter, r *http.Request) {
	out, err := s.Engine.SnapshotList(r.Context())
	writeOutcome(w, out, err)
}

func (s *Server) firewallStatus(w http.ResponseWriter, r *http.Request) {
	out, status, err := s.Engine.FirewallStatus(r.Context())
	if err != nil {
		writeOutcome(w, out, err)
		return
	}
	writeJSON(w, http.StatusOK, firewallResponse{
		response:       response{Status: out.Status(), RunID: out.ID},
		FirewallStatus: status,
	})
}

func (s *Server) firewallToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeOutcome(w, nil, err)
		return
	}
	out, err := s.Engine.FirewallToggle(r.Context(), req.Action)
	writeOutcome(w, out, err)
}

// portValue accepts a port given either as a JSON number or a string.
type portValue int

func (p *portValue) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*p = portValue(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("port must be a number")
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("port %q is not a number", s)
	}
	*p = portValue(n)
	return nil
}

func (s *Server) firewallPort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action   string    `json:"action"`
		Port     portValue `json:"port"`
		Protocol string    `json:"protocol"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeOutcome(w, nil, err)
		return
	}
	out, err := s.Engine.FirewallPort(r.Context(), req.Action, int(req.Port), req.Protocol)
	writeOutcome(w, out, err)
}

func (s *Server) ipManage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action    string `json:"action"`
		IPAddress string `json:"ip_address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeOutcome(w, nil, err)
		return
	}
	out, err := s.Engine.IPManage(r.Context(), req.Action, req.IPAddress)
	writeOutcome(w, out, err)
}

func (s *Server) lastRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Store.Last()
	s.writeRecord(w, r, rec, err)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Store.Load(mux.Vars(r)["id"])
	s.writeRecord(w, r, rec, err)
}

// writeRecord renders an operation record as JSON, or as plain text with
// ?format=text.
func (s *Server) writeRecord(w http.ResponseWriter, r *http.Request, rec *report.RunResult, err error) {
	switch {
	case errors.Is(err, report.ErrNotFound):
		writeJSON(w, http.StatusNotFound, response{Status: "error", Message: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, response{Status: "error", Message: err.Error()})
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, report.Format(rec))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
