package api

import (
	"net/http"
	"strings"

	"github.com/skycommit/skycommit/internal/aggregate"
	"github.com/skycommit/skycommit/internal/models"
)

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.snapshots.Stations()
	if err != nil {
		writeError(w, err)
		return
	}
	if stations == nil {
		stations = []models.Station{}
	}
	writeJSON(w, http.StatusOK, stations)
}

func stationIDsParam(r *http.Request) []string {
	raw := r.URL.Query().Get("station_ids")
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Server) handleDailyObservations(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rows, err := s.snapshots.ReadObservations(start, end, stationIDsParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	daily := aggregate.DailyObservations(rows)
	if daily == nil {
		daily = []models.DailyObservation{}
	}
	writeJSON(w, http.StatusOK, daily)
}

func (s *Server) handleDailyForecasts(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rows, err := s.snapshots.ReadForecasts(start, end, stationIDsParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	daily := aggregate.DailyForecasts(rows)
	if daily == nil {
		daily = []models.DailyForecast{}
	}
	writeJSON(w, http.StatusOK, daily)
}
