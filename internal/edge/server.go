// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package edge runs the single HTTP front door every simulated AWS
// service is reached through. One listener answers for all services;
// each request is attributed to a service from its SigV4 credential
// scope or its host name and handed to that service's query handler.
package edge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"github.com/localcloud/localcloud/internal/backends"
	"github.com/localcloud/localcloud/internal/services/cloudformation"
	"github.com/localcloud/localcloud/internal/services/cloudwatch"
	"github.com/localcloud/localcloud/internal/services/core"
	"github.com/localcloud/localcloud/internal/services/ses"
	"github.com/localcloud/localcloud/version"
)

// shutdownGrace is how long in-flight requests get to finish once the
// server is told to stop.
const shutdownGrace = 5 * time.Second

// Service is one simulated AWS service mounted behind the edge.
type Service interface {
	// Name is the canonical signing name, such as "monitoring".
	Name() string
	// Handle serves one request already attributed to this service.
	Handle(w http.ResponseWriter, req *http.Request, scope core.Scope)
	// Reset drops all of the service's state.
	Reset()
}

// Server is the edge HTTP server.
type Server struct {
	logger   hclog.Logger
	router   *mux.Router
	services map[string]Service

	ses *ses.Service
}

// NewServer returns an edge server with every service mounted and
// empty state.
func NewServer(logger hclog.Logger) *Server {
	s := &Server{
		logger:   logger.Named("edge"),
		services: make(map[string]Service),
		ses:      ses.New(),
	}
	s.mount(s.ses)
	s.mount(cloudwatch.New())
	s.mount(cloudformation.New())

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/_localcloud/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/_localcloud/ses/messages", s.handleSESMessages).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(s.dispatch)
	s.router = r
	return s
}

func (s *Server) mount(svc Service) {
	s.services[svc.Name()] = svc
}

// Handler returns the server's HTTP handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until the context is canceled, then drains
// in-flight requests and returns.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("edge server listening", "addr", listener.Addr().String())

	httpServer := &http.Server{
		Handler: s.router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down edge server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		done <- httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.Serve(listener); err != http.ErrServerClosed {
		return err
	}
	return <-done
}

// dispatch routes a request to the service it targets.
func (s *Server) dispatch(w http.ResponseWriter, req *http.Request) {
	scope, ok := scopeFromRequest(req)
	if !ok {
		s.logger.Warn("request for unknown service",
			"host", req.Host,
			"authorization", req.Header.Get("Authorization") != "")
		core.WriteError(w, core.NewError("UnknownService",
			"The edge cannot attribute this request to a supported service."))
		return
	}

	svc := s.services[scope.Service]
	svc.Handle(w, req, scope)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	running := make(map[string]string, len(s.services))
	for name := range s.services {
		running[name] = "running"
	}
	writeJSON(w, map[string]any{
		"version":  version.String(),
		"services": running,
	})
}

// handleReset drops the state of every mounted service.
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	for _, svc := range s.services {
		svc.Reset()
	}
	s.logger.Info("all service state reset")
	w.WriteHeader(http.StatusOK)
}

// handleSESMessages exposes the messages SES accepted, so tests can
// assert on outbound mail without a real mailbox.
func (s *Server) handleSESMessages(w http.ResponseWriter, req *http.Request) {
	accountID := req.URL.Query().Get("accountId")
	if accountID == "" {
		accountID = backends.DefaultAccountID
	}

	type message struct {
		ID          string   `json:"id"`
		Source      string   `json:"source"`
		Subject     string   `json:"subject"`
		Body        string   `json:"body"`
		Template    string   `json:"template,omitempty"`
		Destination []string `json:"destination"`
	}
	messages := []message{}
	for _, m := range s.ses.Backend(accountID).SentMessages() {
		messages = append(messages, message{
			ID:          m.ID,
			Source:      m.Source,
			Subject:     m.Subject,
			Body:        m.Body,
			Template:    m.Template,
			Destination: append(append(append([]string{}, m.Destinations.To...), m.Destinations.Cc...), m.Destinations.Bcc...),
		})
	}
	writeJSON(w, map[string]any{"messages": messages})
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
}

// logRequests logs one line per request, at trace level so a busy
// edge stays quiet by default.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		s.logger.Trace("request",
			"method", req.Method,
			"path", req.URL.Path,
			"host", req.Host,
			"duration", time.Since(start))
	})
}
