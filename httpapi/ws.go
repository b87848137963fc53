package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sortctl/bus"
	"sortctl/core"
)

// manualTestTimeout bounds a manual relay test or sweep so a stuck write
// can't hang a command goroutine forever.
const manualTestTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	// Every origin is accepted; no origin check is made here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHub bridges the in-process event bus to every connected websocket
// client and relays each client's inbound actions back into the
// orchestrator.
type wsHub struct {
	orch *core.Orchestrator
}

func newWSHub(orch *core.Orchestrator) *wsHub { return &wsHub{orch: orch} }

type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	// State carries the snapshot of a state_update event in the source's
	// flat shape; state_update leaves Data empty, other events use Data.
	State any `json:"state,omitempty"`
}

type wsCommand struct {
	Action      string `json:"action"`
	LaneIndex   any    `json:"lane_index"`
	RelayAction string `json:"relay_action"`
	Enabled     bool   `json:"enabled"`
}

func (h *wsHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	busConn := h.orch.Bus.NewConnection("ws-" + r.RemoteAddr)
	sub := busConn.Subscribe(bus.T("#"))
	defer busConn.Disconnect()

	// writeCh is never closed: readLoop and forwardBusMessages both exit
	// via done, so nothing sends to it once this function returns.
	writeCh := make(chan wsEvent, 32)

	snapshot := h.orch.Store.Snapshot()
	writeCh <- wsEvent{Type: "state_update", State: snapshot}

	done := make(chan struct{})
	go h.readLoop(conn, done)
	go h.forwardBusMessages(sub, writeCh, done)

	for {
		select {
		case ev, ok := <-writeCh:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *wsHub) forwardBusMessages(sub *bus.Subscription, writeCh chan<- wsEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			ev := busMessageToEvent(msg)
			select {
			case writeCh <- ev:
			case <-done:
				return
			}
		}
	}
}

func busMessageToEvent(msg *bus.Message) wsEvent {
	topic := ""
	for i, t := range msg.Topic {
		if i > 0 {
			topic += "/"
		}
		if s, ok := t.(string); ok {
			topic += s
		}
	}
	switch topic {
	case "state/update":
		return wsEvent{Type: "state_update", State: msg.Payload}
	case "maintenance/update":
		return wsEvent{Type: "maintenance_update", Data: msg.Payload}
	case "test/complete":
		return wsEvent{Type: "test_sequence_complete"}
	case "log":
		return wsEvent{Type: "log", Data: msg.Payload}
	default:
		return wsEvent{Type: topic, Data: msg.Payload}
	}
}

func (h *wsHub) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		if h.orch.IsMaintenanceActive() && cmd.Action != "reset_maintenance" {
			h.orch.BroadcastLog("error", "Action blocked: system is in maintenance mode.")
			continue
		}
		h.handleCommand(cmd)
	}
}

func (h *wsHub) handleCommand(cmd wsCommand) {
	switch cmd.Action {
	case "reset_count":
		h.handleResetCount(cmd)

	case "test_relay":
		idx, ok := laneIndexOf(cmd.LaneIndex)
		if !ok || (cmd.RelayAction != "grab" && cmd.RelayAction != "push") {
			return
		}
		lane, ok := h.orch.Store.Lane(idx)
		if !ok || !lane.IsSorting() {
			h.orch.BroadcastLog("error", "This lane has no relay to test.")
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), manualTestTimeout)
			defer cancel()
			if err := h.orch.ManualRelayTest(ctx, idx, cmd.RelayAction); err != nil {
				log.Printf("manual relay test failed: %v", err)
			}
		}()

	case "test_all_relays":
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), manualTestTimeout)
			defer cancel()
			if err := h.orch.SweepAllRelays(ctx); err != nil {
				log.Printf("relay sweep failed: %v", err)
			}
		}()

	case "toggle_auto_test":
		h.orch.ToggleAutoTest(cmd.Enabled)
		status := "disabled"
		if cmd.Enabled {
			status = "enabled"
		}
		h.orch.BroadcastLog("warn", "Auto-test mode "+status+".")

	case "reset_maintenance":
		if h.orch.IsMaintenanceActive() {
			_ = h.orch.ResetMaintenance()
			h.orch.BroadcastLog("success", "Maintenance reset. Queues cleared.")
		}
	}
}

func (h *wsHub) handleResetCount(cmd wsCommand) {
	if s, ok := cmd.LaneIndex.(string); ok && s == "all" {
		h.orch.ResetCounter(-1)
		h.orch.BroadcastLog("info", "All counters reset.")
		return
	}
	idx, ok := laneIndexOf(cmd.LaneIndex)
	if !ok {
		return
	}
	lane, ok := h.orch.Store.Lane(idx)
	if !ok {
		return
	}
	h.orch.ResetCounter(idx)
	h.orch.BroadcastLog("info", "Reset count for '"+lane.Name+"'.")
}

// laneIndexOf narrows a decoded JSON number (always float64) to an int.
func laneIndexOf(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
