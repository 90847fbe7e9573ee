// Package api serves the REST confirm endpoints next to the websocket endpoint and provides the matching client.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/filter"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/persistence"
	"github.com/tcriess/lightspeed-conference/types"
	"github.com/tcriess/lightspeed-conference/ws"
)

// UserHeader carries the caller's identity. It is trusted as is.
const UserHeader = "X-User-Id"

type Server struct {
	persister    persistence.Persister
	hub          *ws.Hub
	scheduleRule *filter.Rule
	router       *mux.Router
}

func NewServer(cfg *config.Config, persister persistence.Persister, hub *ws.Hub) (*Server, error) {
	rule, err := filter.Compile(cfg.AuthorizationConfig.ScheduleRule)
	if err != nil {
		return nil, err
	}
	s := &Server{
		persister:    persister,
		hub:          hub,
		scheduleRule: rule,
		router:       mux.NewRouter(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(logRequests)

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.health)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.hub.ServeWS)

	r.Methods(http.MethodGet).Path("/users").HandlerFunc(s.getUsers)
	r.Methods(http.MethodPut).Path("/users/{id:[0-9]+}").HandlerFunc(s.putUser)

	r.Methods(http.MethodGet).Path("/messages").HandlerFunc(s.getMessages)
	r.Methods(http.MethodPost).Path("/messages").HandlerFunc(s.postMessage)

	r.Methods(http.MethodGet).Path("/polls").HandlerFunc(s.getPolls)
	r.Methods(http.MethodPost).Path("/polls/{id:[0-9]+}/complete").HandlerFunc(s.completePoll)

	r.Methods(http.MethodGet).Path("/schedule").HandlerFunc(s.getSchedule)
	r.Methods(http.MethodPut).Path("/schedule/{id:[0-9]+}").HandlerFunc(s.putScheduleItem)
	r.Methods(http.MethodDelete).Path("/schedule/{id:[0-9]+}").HandlerFunc(s.deleteScheduleItem)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		globals.AppLogger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrAuthRequired):
		status = http.StatusUnauthorized
	default:
		globals.AppLogger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathId(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Wrap(types.ErrInvalidInput, "invalid id")
	}
	return id, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(types.ErrInvalidInput, "could not decode body: %s", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.persister.GetUsers()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// putUser merges the given (full or partial) user into the stored one and pushes the result to every session.
func (s *Server) putUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r)
	if err != nil {
		writeError(w, err)
		return
	}
	patch := make(map[string]interface{})
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.persister.MergeUser(id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.Broadcast(types.EventUserUpdated, user, nil)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.persister.GetMessages()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	message := types.Message{}
	if err := decodeBody(r, &message); err != nil {
		writeError(w, err)
		return
	}
	stored, err := s.persister.AddMessage(message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) getPolls(w http.ResponseWriter, r *http.Request) {
	polls, err := s.persister.GetPolls()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, polls)
}

func (s *Server) completePoll(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req := types.CompleteRequest{}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserId == 0 {
		writeError(w, errors.Wrap(types.ErrInvalidInput, "missing userId"))
		return
	}
	poll, _, err := s.persister.CompletePoll(id, req.UserId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poll)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	items, err := s.persister.GetSchedule()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// allowSchedule evaluates the schedule rule for the caller named in the identity header. Unknown callers are
// evaluated with an empty user.
func (s *Server) allowSchedule(r *http.Request, action string) (bool, error) {
	callerId, _ := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
	var caller *types.User
	if callerId != 0 {
		user, err := s.persister.GetUser(callerId)
		switch {
		case err == nil:
			caller = user
		case !errors.Is(err, types.ErrNotFound):
			return false, err
		}
	}
	return s.scheduleRule.Allow(filter.NewEnv(caller, action, types.CollectionSchedule)), nil
}

func (s *Server) putScheduleItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r)
	if err != nil {
		writeError(w, err)
		return
	}
	allowed, err := s.allowSchedule(r, "put")
	if err != nil {
		writeError(w, err)
		return
	}
	if !allowed {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not allowed to change the schedule"})
		return
	}
	item := types.ScheduleItem{}
	if err := decodeBody(r, &item); err != nil {
		writeError(w, err)
		return
	}
	item.Id = id
	stored, err := s.persister.StoreScheduleItem(item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) deleteScheduleItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathId(r)
	if err != nil {
		writeError(w, err)
		return
	}
	allowed, err := s.allowSchedule(r, "delete")
	if err != nil {
		writeError(w, err)
		return
	}
	if !allowed {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not allowed to change the schedule"})
		return
	}
	if err := s.persister.DeleteScheduleItem(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
