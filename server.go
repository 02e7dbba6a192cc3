package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"i4.energy/across/bg95ctl/at"
	"i4.energy/across/bg95ctl/session"
)

// Publisher receives results worth forwarding, e.g. to MQTT.
type Publisher interface {
	PublishAttach(session.AttachResult) error
	PublishFix(session.Fix) error
	PublishNetwork(session.NetworkReport) error
}

// Server handles incoming HTTP requests for driving the configured modem
// session. Requests touching the modem are serialized.
type Server struct {
	Logger    *slog.Logger
	Session   *session.Session
	Publisher Publisher
	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	mu      sync.Mutex
	mux     *http.ServeMux
	muxOnce sync.Once
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.muxOnce.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /attach", s.handleAttach)
		mux.HandleFunc("POST /detach", s.handleDetach)
		mux.HandleFunc("GET /location", s.handleLocation)
		mux.HandleFunc("GET /network", s.handleNetwork)
		mux.HandleFunc("POST /http", s.handleHTTP)
		mux.HandleFunc("POST /ping", s.handlePing)
		mux.HandleFunc("POST /ntp", s.handleNTP)
		if s.Metrics != nil {
			mux.Handle("GET /metrics", s.Metrics)
		}
		s.mux = mux
	})
	s.mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	s.sendErrorCode(w, message, 0, statusCode)
}

func (s *Server) sendErrorCode(w http.ResponseWriter, message string, code at.ErrorCode, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
		// Code is the modem error code, when the modem reported one.
		Code at.ErrorCode `json:"code,omitempty"`
	}
	resp := ErrorResponse{Message: message, Code: code}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// sendFailure maps a session error to an HTTP status.
func (s *Server) sendFailure(w http.ResponseWriter, op string, err error) {
	s.Logger.Error("Operation failed", "op", op, "error", err)

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, session.ErrUnsupportedScheme):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrRegistrationDenied):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), at.CodeOf(err) == at.CodeTimeout:
		status = http.StatusGatewayTimeout
	}

	var code at.ErrorCode
	var atErr *at.Error
	if errors.As(err, &atErr) && atErr.Code >= 0 {
		code = atErr.Code
	}
	s.sendErrorCode(w, err.Error(), code, status)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.Session.Attach(r.Context())
	if err != nil {
		s.sendFailure(w, "attach", err)
		return
	}
	s.Logger.Info("Attached", "registration", res.Registration, "rssi", res.Signal.RSSI, "elapsed", res.Elapsed)
	if s.Publisher != nil {
		if err := s.Publisher.PublishAttach(res); err != nil {
			s.Logger.Warn("Failed to publish attach result", "error", err)
		}
	}
	s.sendJSON(w, res)
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.Session.Detach(r.Context()); err != nil {
		s.sendFailure(w, "detach", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fix, err := s.Session.AcquireFix(r.Context())
	if err != nil {
		s.sendFailure(w, "location", err)
		return
	}
	if s.Publisher != nil {
		if err := s.Publisher.PublishFix(fix); err != nil {
			s.Logger.Warn("Failed to publish fix", "error", err)
		}
	}
	s.sendJSON(w, fix)
}

// networkResponse carries a possibly partial report and the failed queries.
type networkResponse struct {
	session.NetworkReport
	Errors []string `json:"errors,omitempty"`
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.Session.NetworkReport(r.Context())
	resp := networkResponse{NetworkReport: report}
	if err != nil {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				resp.Errors = append(resp.Errors, e.Error())
			}
		} else {
			resp.Errors = []string{err.Error()}
		}
	}
	if s.Publisher != nil {
		if err := s.Publisher.PublishNetwork(report); err != nil {
			s.Logger.Warn("Failed to publish network report", "error", err)
		}
	}
	s.sendJSON(w, resp)
}

// handleHTTP performs an HTTP(S) request through the modem.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	type HTTPRequest struct {
		Method string `json:"method"`
		URL    string `json:"url"`
		Body   string `json:"body"`
	}
	type HTTPResponse struct {
		StatusCode    int    `json:"status_code"`
		ContentLength int    `json:"content_length"`
		Body          string `json:"body"`
	}

	var req HTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		s.sendError(w, "'url' field is required", http.StatusBadRequest)
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		s.sendError(w, "'method' must be GET or POST", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		resp session.Response
		err  error
	)
	if req.Method == http.MethodPost {
		resp, err = s.Session.Post(r.Context(), req.URL, []byte(req.Body))
	} else {
		resp, err = s.Session.Get(r.Context(), req.URL)
	}
	if err != nil {
		s.sendFailure(w, "http", err)
		return
	}

	s.Logger.Info("HTTP request completed", "method", req.Method, "url", req.URL, "status", resp.StatusCode)
	s.sendJSON(w, HTTPResponse{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		Body:          string(resp.Body),
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	type PingRequest struct {
		Host string `json:"host"`
	}

	var req PingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.Session.Ping(r.Context(), req.Host)
	if err != nil {
		s.sendFailure(w, "ping", err)
		return
	}
	s.sendJSON(w, res)
}

func (s *Server) handleNTP(w http.ResponseWriter, r *http.Request) {
	type NTPRequest struct {
		Server string `json:"server"`
	}
	type NTPResponse struct {
		Time time.Time `json:"time"`
	}

	var req NTPRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, err := s.Session.SyncTime(r.Context(), req.Server)
	if err != nil {
		s.sendFailure(w, "ntp", err)
		return
	}
	s.sendJSON(w, NTPResponse{Time: ts})
}
