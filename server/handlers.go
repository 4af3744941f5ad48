package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	power, updated := s.latestPower, s.lastUpdate
	s.mu.RUnlock()

	writeJSON(w, struct {
		InstantPower *int32    `json:"instant_power"`
		Timestamp    time.Time `json:"timestamp"`
	}{power.InstantPower, updated})
}

func (s *Server) handleEnergy(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	energy, updated := s.latestEnergy, s.lastUpdate
	s.mu.RUnlock()

	writeJSON(w, struct {
		CumulativeEnergy        *uint32   `json:"cumulative_energy"`
		CumulativeEnergyReverse *uint32   `json:"cumulative_energy_reverse"`
		EnergyUnit              *float64  `json:"energy_unit"`
		Timestamp               time.Time `json:"timestamp"`
	}{energy.CumulativeEnergy, energy.CumulativeEnergyReverse, energy.EnergyUnit, updated})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	var readings any
	if s.ring != nil {
		readings = s.ring.Recent(limit)
	} else {
		readings = []struct{}{}
	}
	writeJSON(w, readings)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	conn := s.latestConn
	s.mu.RUnlock()
	writeJSON(w, conn)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	updated := s.lastUpdate
	s.mu.RUnlock()

	historyCount := 0
	if s.ring != nil {
		historyCount = len(s.ring.Recent(0))
	}

	writeJSON(w, struct {
		Status           string    `json:"status"`
		MockMode         bool      `json:"mock_mode"`
		HistoryCount     int       `json:"history_count"`
		ConnectedClients int       `json:"connected_clients"`
		LastUpdate       time.Time `json:"last_update"`
	}{
		Status:           "ok",
		MockMode:         s.mock,
		HistoryCount:     historyCount,
		ConnectedClients: s.hub.count(),
		LastUpdate:       updated,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	settings := s.settings
	s.mu.RUnlock()
	writeJSON(w, settings)
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var in Settings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.settings = in
	s.mu.Unlock()
	writeJSON(w, in)
}

// GetSettings returns the current alert configuration; main.go's poll
// loop consults this every tick rather than caching a stale copy.
func (s *Server) GetSettings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	select {
	case s.refreshRequest <- struct{}{}:
	default:
	}
	writeJSON(w, map[string]string{"status": "refresh requested"})
}
