// Package server wires HTTP handlers into a gorilla/mux router for the
// roomchat application via routing helpers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes configures and returns a router with all application routes.
func (a *App) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler)
	r.HandleFunc("/ws", a.WebSocketHandler)
	r.HandleFunc("/test", TestPageHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(a.requireAuth)
	api.HandleFunc("/stats", a.StatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{room}/users", a.RoomUsersHandler).Methods(http.MethodGet)
	api.HandleFunc("/users/{user}/rooms", a.UserRoomsHandler).Methods(http.MethodGet)
	return r
}
