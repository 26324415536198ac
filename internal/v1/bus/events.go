// Package bus defines the broadcast events games publish and the
// per-replica dispatcher that fans them out to locally-connected
// clients. Publishers (round engines, the user registry) and the
// dispatcher never call each other; they meet only on the Redis
// channel.
package bus

import (
	"encoding/json"
	"fmt"
)

// Event is a broadcast payload bound for every client in a room.
// Each variant maps to one wire `type`.
type Event interface {
	EventType() string
}

// NewGame announces that a game starts after Timer seconds.
type NewGame struct {
	Timer int `json:"timer"`
}

func (NewGame) EventType() string { return "new_game" }

// NewRound carries the question for round Round. Clients submit
// answers into the hash map named by RoundAnswerKey before Timer
// seconds elapse.
type NewRound struct {
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	RoundAnswerKey string   `json:"round_answer_key"`
	Timer          int      `json:"timer"`
	Round          int      `json:"round"`
}

func (NewRound) EventType() string { return "new_round" }

// RoundStats reports the tally of a finished round.
type RoundStats struct {
	Round         int                `json:"round"`
	Options       []string           `json:"options"`
	Stats         map[string]float64 `json:"stats"`
	CorrectAnswer string             `json:"correct_answer"`
	PlayersInGame int                `json:"players_in_game"`
}

func (RoundStats) EventType() string { return "round_stats" }

// PlayersUpdate announces a player joining or leaving a room.
type PlayersUpdate struct {
	Action   string `json:"action"` // "joined" or "left"
	Username string `json:"username"`
}

func (PlayersUpdate) EventType() string { return "players_update" }

// Info carries a human-readable notice (admission denials).
type Info struct {
	Msg string `json:"msg"`
}

func (Info) EventType() string { return "info" }

// Encode wraps an event in the wire envelope: the event's own fields
// plus `type` and `room_name`. The dispatcher strips `room_name`
// before delivery, so clients only ever see `type` and the payload.
func Encode(roomName string, ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.EventType(), err)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s event: %w", ev.EventType(), err)
	}
	fields["type"] = ev.EventType()
	fields["room_name"] = roomName

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", ev.EventType(), err)
	}
	return data, nil
}

// Decode validates an inbound envelope and splits it into its routing
// fields and the client-facing payload (envelope minus `room_name`).
func Decode(data []byte) (roomName, eventType string, payload []byte, err error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", "", nil, fmt.Errorf("malformed bus message: %w", err)
	}

	eventType, ok := fields["type"].(string)
	if !ok || eventType == "" {
		return "", "", nil, fmt.Errorf("bus message missing type")
	}
	roomName, ok = fields["room_name"].(string)
	if !ok || roomName == "" {
		return "", "", nil, fmt.Errorf("bus message missing room_name")
	}

	delete(fields, "room_name")
	payload, err = json.Marshal(fields)
	if err != nil {
		return "", "", nil, fmt.Errorf("re-marshal payload: %w", err)
	}
	return roomName, eventType, payload, nil
}
