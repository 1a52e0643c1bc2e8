package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// Server exposes the message relay over HTTP.
type Server struct {
	store  *Store
	server *http.Server
}

// NewServer wraps a store with the HTTP API.
func NewServer(store *Store) *Server {
	return &Server{store: store}
}

type sendMessageRequest struct {
	PubKey  string `json:"pub_key"`
	Message string `json:"message"`
	TTL     int64  `json:"ttl"` // milliseconds; 0 = default
}

type sendMessageResponse struct {
	Status string `json:"status"`
}

type getMessageRequest struct {
	PubKey string `json:"pub_key"`
}

type getMessageResponse struct {
	Status   string   `json:"status"`
	Messages []string `json:"messages"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}

// handleSendMessage stores a message for a recipient key.
// POST /send_message
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PubKey == "" {
		writeError(w, http.StatusBadRequest, "missing pub_key")
		return
	}

	if err := s.store.Save(req.PubKey, req.Message, time.Duration(req.TTL)*time.Millisecond); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sendMessageResponse{Status: "saved"})
}

// handleGetMessage returns the live messages for a recipient key.
// POST /get_message
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	var req getMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PubKey == "" {
		writeError(w, http.StatusBadRequest, "missing pub_key")
		return
	}

	messages, err := s.store.Retrieve(req.PubKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, getMessageResponse{Status: "ok", Messages: messages})
}

// Handler returns the routed HTTP handler (exported so tests can drive it
// without a listener).
func (s *Server) Handler() http.Handler {
	post := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.Header().Set("Allow", http.MethodPost)
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			h(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/send_message", post(s.handleSendMessage))
	mux.HandleFunc("/get_message", post(s.handleGetMessage))
	return mux
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("messenger listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Messenger listening on %s", listener.Addr())
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Messenger server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
