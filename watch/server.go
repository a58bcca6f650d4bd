package watch

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/eval-exec/go-epc/epc"
)

// Server serves the watch HTTP interface: a live SSE feed of
// CallEvents and a JSON snapshot of a registry's methods.
type Server struct {
	broker   *Broker
	registry *epc.Registry
}

// NewServer builds a Server backed by broker for events and registry
// for the /api/methods snapshot.
func NewServer(broker *Broker, registry *epc.Registry) *Server {
	return &Server{broker: broker, registry: registry}
}

// Handler returns an http.Handler exposing GET /api/events (SSE) and
// GET /api/methods (JSON).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/methods", s.handleMethods)
	return mux
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.broker.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				log.Printf("watch: marshal event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleMethods(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.List()
	type methodJSON struct {
		Name    string `json:"name"`
		ArgSpec string `json:"arg_spec,omitempty"`
		Doc     string `json:"docstring,omitempty"`
	}
	out := make([]methodJSON, 0, len(infos))
	for _, mi := range infos {
		mj := methodJSON{Name: mi.Name}
		if mi.HasSpec {
			mj.ArgSpec = mi.ArgSpec
		}
		if mi.HasDoc {
			mj.Doc = mi.Doc
		}
		out = append(out, mj)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.Printf("watch: encode methods: %v", err)
	}
}

// ListenAndServe binds addr and blocks serving the watch HTTP
// interface until the listener or server fails; Server has no method
// to shut it down.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.Handler()) //nolint:gosec // internal observability endpoint, no TLS requirement
}
