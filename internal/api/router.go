package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter builds the route table for the verification daemon.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")
	r.HandleFunc("/time", h.GetTime).Methods("GET")
	r.HandleFunc("/verify/payload", h.PostPayload).Methods("POST")
	r.HandleFunc("/verify/scan", h.PostScan).Methods("POST")
	r.HandleFunc("/verify/sessions", h.ListSessions).Methods("GET")
	r.HandleFunc("/verify/sessions/{id}", h.GetSession).Methods("GET")
	r.HandleFunc("/verify/sessions/{id}/resolve", h.ResolveSession).Methods("POST")
	r.HandleFunc("/verify/watch", h.Watch).Methods("GET")
	return r
}
