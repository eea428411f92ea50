package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ernie/rally/internal/domain"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	idStr := req.PathValue(param)
	return strconv.ParseInt(idStr, 10, 64)
}

// handleHealth reports store reachability and live arena counters
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"connections":      r.arena.Connections(),
		"rooms":            len(r.arena.Rooms()),
		"matchmaking":      r.arena.QueueLength(),
		"tournament_queue": r.tournaments.QueueLength(),
	})
}

// handleGetPlayer returns a player's progression
func (r *Router) handleGetPlayer(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id")
		return
	}

	player, err := r.store.GetPlayer(req.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	wins, err := r.store.CountTournamentWins(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"player":          player,
		"tournament_wins": wins,
	})
}

// handleGetPlayerMatches returns a player's recent ranked matches
func (r *Router) handleGetPlayerMatches(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id")
		return
	}
	matches, err := r.store.GetPlayerMatches(req.Context(), id, parseLimit(req, 20, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleGetLeaderboard returns players ordered by rank points
func (r *Router) handleGetLeaderboard(w http.ResponseWriter, req *http.Request) {
	entries, err := r.store.GetLeaderboard(req.Context(), parseLimit(req, 25, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleGetMatches returns the most recent ranked matches
func (r *Router) handleGetMatches(w http.ResponseWriter, req *http.Request) {
	matches, err := r.store.GetRecentMatches(req.Context(), parseLimit(req, 20, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleGetRooms returns live rooms
func (r *Router) handleGetRooms(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.arena.Rooms())
}

// handleListTournaments returns every running bracket
func (r *Router) handleListTournaments(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queued":      r.tournaments.QueueLength(),
		"tournaments": r.tournaments.Active(),
	})
}

// handleGetTournament returns a running bracket, or an archived one
func (r *Router) handleGetTournament(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if !validTournamentID(id) {
		writeError(w, http.StatusBadRequest, "invalid tournament id")
		return
	}

	if t, err := r.tournaments.Get(id); err == nil {
		writeJSON(w, http.StatusOK, t)
		return
	}

	t, err := r.store.GetTournament(req.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}
