package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"sortctl/config"
	"sortctl/errcode"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleGetConfig returns the current timing/lanes document.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ConfigSnapshot())
}

type updateConfigRequest struct {
	TimingConfig config.TimingConfig `json:"timing_config"`
	LanesConfig  json.RawMessage     `json:"lanes_config"`
}

// handleUpdateConfig merges timing fields, replaces lanes wholesale when
// present, persists the result, and reports whether a restart is required.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	lanesPresent := len(req.LanesConfig) > 0 && string(req.LanesConfig) != "null"
	var lanes []config.LaneConfig
	if lanesPresent {
		if err := json.Unmarshal(req.LanesConfig, &lanes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid lanes_config")
			return
		}
		for _, l := range lanes {
			if err := l.Validate(); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
	}

	restart, err := s.orch.ApplyConfig(config.Document{TimingConfig: req.TimingConfig, LanesConfig: lanes}, lanesPresent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}

	msg := "Configuration saved."
	logType := "success"
	if restart {
		msg += " Restart required."
		logType = "warn"
	}
	s.orch.BroadcastLog(logType, msg)

	writeJSON(w, http.StatusOK, map[string]any{
		"message":          msg,
		"config":           s.orch.ConfigSnapshot(),
		"restart_required": restart,
	})
}

// handleSortLog returns the persisted daily counter history.
func (s *Server) handleSortLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.SortLog())
}

// handleResetMaintenance clears the latch if set, otherwise reports the
// no-op, matching the source's non-error "already clear" response.
func (s *Server) handleResetMaintenance(w http.ResponseWriter, r *http.Request) {
	if !s.orch.IsMaintenanceActive() {
		writeJSON(w, http.StatusOK, map[string]string{"message": "System is not in maintenance mode."})
		return
	}
	if err := s.orch.ResetMaintenance(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.orch.BroadcastLog("success", "Maintenance reset. Queues cleared.")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Maintenance mode reset."})
}

// handleQueueReset clears both queues, rejected while in maintenance.
func (s *Server) handleQueueReset(w http.ResponseWriter, r *http.Request) {
	if s.orch.IsMaintenanceActive() {
		writeError(w, http.StatusForbidden, "System is in maintenance mode.")
		return
	}
	s.orch.ClearAllQueues()
	s.orch.BroadcastLog("warn", "QR queue and token queue manually reset.")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Queues reset."})
}

type mockGPIORequest struct {
	LaneIndex int  `json:"lane_index"`
	State     bool `json:"state"`
}

// handleMockGPIO injects a logical sensor state, only valid against the
// mock GPIO provider. lane_index equal to the lane count addresses the
// dedicated gate-entry sensor, matching the source's is_entry_pin check.
func (s *Server) handleMockGPIO(w http.ResponseWriter, r *http.Request) {
	var req mockGPIORequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	snapshot := s.orch.Store.Snapshot()
	isEntryPin := req.LaneIndex == len(snapshot.Lanes)

	var pin int
	var name string
	if isEntryPin {
		pin = config.DefaultEntryPin
		name = "Entry gate"
	} else {
		lane, ok := s.orch.Store.Lane(req.LaneIndex)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid lane_index")
			return
		}
		pin = lane.SensorPin
		name = lane.Name
	}

	if err := s.orch.SetMockSensor(pin, req.State); err != nil {
		if errors.Is(err, errcode.NotMockProvider) {
			writeError(w, http.StatusBadRequest, "this feature is only available in mock mode")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logical := 1
	label := "INACTIVE (HIGH)"
	if req.State {
		logical = 0
		label = "ACTIVE (LOW)"
	}
	s.orch.BroadcastLog("info", fmt.Sprintf("[MOCK] Sensor pin %d -> %s (%s)", pin, label, name))
	writeJSON(w, http.StatusOK, map[string]any{"pin": pin, "state": logical, "lane": name})
}
