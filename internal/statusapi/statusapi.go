// Package statusapi serves the read-only HTTP status surface: a
// liveness probe, the (currently always empty) pool-manager list, and
// the ChainState snapshot augmented with queue depths. It runs on its
// own goroutine, started and stopped by the supervisor, and never
// mutates ChainState.
package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cream-project/chainwatch/internal/chainstate"
)

// Server wraps the mux router and the http.Server bound to it.
type Server struct {
	state *chainstate.ChainState
	http  *http.Server
}

// New builds a Server listening on addr (e.g. ":8080"). It does not start
// listening until Serve is called.
func New(state *chainstate.ChainState, addr string) *Server {
	s := &Server{state: state}

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	router.HandleFunc("/pool-managers/", s.handlePoolManagers).Methods(http.MethodGet)
	router.HandleFunc("/app/", s.handleApp).Methods(http.MethodGet)

	s.http = &http.Server{Addr: addr, Handler: router}
	return s
}

// Serve blocks until the server is closed; callers run it in its own
// goroutine.
func (s *Server) Serve() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the HTTP listener down; the supervisor calls this as part
// of its own shutdown sequence once the parent context is cancelled.
func (s *Server) Close() error {
	return s.http.Close()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"Hello": "World"})
}

// handlePoolManagers is a placeholder surface: this core does not track
// pool managers itself, so the list is always empty.
func (s *Server) handlePoolManagers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"pool_managers": []string{}})
}

type appResponse struct {
	chainstate.Snapshot
	FailedTransactions    int `json:"failed_transactions"`
	PendingTransactions   int `json:"pending_transactions"`
	FinalizedTransactions int `json:"finalized_transactions"`
}

func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, appResponse{
		Snapshot:              s.state.Snapshot(),
		FailedTransactions:    s.state.FailedCount(),
		PendingTransactions:   len(s.state.PendingTransactions),
		FinalizedTransactions: len(s.state.FinalizedTransactions),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
