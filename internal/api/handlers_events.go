package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/skycommit/skycommit/internal/metrics"
	"github.com/skycommit/skycommit/internal/models"
	"github.com/skycommit/skycommit/internal/oracle"
)

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var spec oracle.CreateEventSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event spec: " + err.Error()})
		return
	}

	ev, err := s.oracle.CreateEvent(r.Context(), &spec)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.EventsCreated.Inc()
	writeJSON(w, http.StatusCreated, eventResponse(ev))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	events, err := s.oracle.ListEvents(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, len(events))
	for i, ev := range events {
		out[i] = eventResponse(ev)
	}
	writeJSON(w, http.StatusOK, out)
}

func eventID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	ev, err := s.oracle.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse(ev))
}

func (s *Server) handleSubmitEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	var body struct {
		ExpectedObservations []models.ExpectedObservation `json:"expected_observations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid entry: " + err.Error()})
		return
	}

	entry, err := s.oracle.SubmitEntry(r.Context(), id, body.ExpectedObservations)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.EntriesSubmitted.Inc()
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	entryID, err := uuid.Parse(r.PathValue("entry_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid entry id"})
		return
	}
	entry, err := s.oracle.GetEntry(r.Context(), id, entryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSignEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	attestation, err := s.oracle.Sign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.EventsSigned.Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"event_id":              id.String(),
		"attestation_signature": base64.StdEncoding.EncodeToString(attestation),
	})
}

// eventResponse shapes an event for JSON, decoding the stored announcement
// and encoding the attestation for transport.
func eventResponse(ev *models.Event) map[string]any {
	resp := map[string]any{
		"id":                         ev.ID,
		"total_allowed_entries":      ev.TotalAllowedEntries,
		"number_of_places_win":       ev.NumberOfPlacesWin,
		"number_of_values_per_entry": ev.NumberOfValuesPerEntry,
		"signing_date":               ev.SigningDate,
		"start_observation_date":     ev.StartObservationDate,
		"end_observation_date":       ev.EndObservationDate,
		"locations":                  ev.Locations,
		"scoring_fields":             ev.ScoringFields,
		"status":                     ev.Status,
		"event_announcement":         json.RawMessage(ev.Announcement),
	}
	if ev.CoordinatorPubkey != "" {
		resp["coordinator_pubkey"] = ev.CoordinatorPubkey
	}
	if len(ev.Attestation) > 0 {
		resp["attestation_signature"] = base64.StdEncoding.EncodeToString(ev.Attestation)
	}
	if ev.Entries != nil {
		resp["entries"] = ev.Entries
	}
	if ev.Readings != nil {
		resp["weather"] = ev.Readings
	}
	return resp
}
