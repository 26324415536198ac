package transport

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/metrics"
)

// Client event names.
const (
	eventRegisterClient    = "register_client"
	eventReportRoundAnswer = "report_round_answer"
)

// MissingUsernameMsg is the user-visible denial for an empty username.
const MissingUsernameMsg = "No user name provided, please provide one"

// clientMessage is the inbound event envelope.
type clientMessage struct {
	Event          string `json:"event"`
	Username       string `json:"username"`
	RoundAnswerKey string `json:"round_answer_key"`
	Answer         string `json:"answer"`
}

// registerReply answers a register_client event. RoomName is the room
// string on success and false on denial.
type registerReply struct {
	Type         string          `json:"type"`
	Username     string          `json:"username"`
	RoomName     any             `json:"room_name"`
	OtherPlayers map[string]bool `json:"other_players"`
	MinPlayers   int             `json:"min_players"`
	GameStarting bool            `json:"game_starting"`
	Reason       string          `json:"reason"`
}

// notice is a direct info/warning message to one session.
type notice struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

func (h *Hub) route(ctx context.Context, client *Client, msg clientMessage) {
	switch msg.Event {
	case eventRegisterClient:
		h.handleRegister(ctx, client, msg)
	case eventReportRoundAnswer:
		h.handleAnswer(client, msg)
	default:
		logging.Warn(ctx, "dropping unknown client event",
			zap.String("session_id", client.id), zap.String("event", msg.Event))
	}
}

func (h *Hub) handleRegister(ctx context.Context, client *Client, msg clientMessage) {
	if msg.Username == "" {
		metrics.AdmissionsTotal.WithLabelValues("missing_username").Inc()
		client.Send(mustMarshal(notice{Type: "warning", Msg: MissingUsernameMsg}))
		return
	}

	adm, err := h.coordinator.RegisterPlayer(ctx, msg.Username)
	if err != nil {
		logging.Error(ctx, "admission failed",
			zap.String("username", msg.Username), zap.Error(err))
		client.Send(mustMarshal(registerReply{
			Type:       "register_reply",
			Username:   msg.Username,
			RoomName:   false,
			MinPlayers: adm.MinPlayers,
			Reason:     "Something went wrong, please try again",
		}))
		return
	}

	if adm.RoomName == "" {
		client.Send(mustMarshal(notice{Type: "info", Msg: adm.Reason}))
		client.Send(mustMarshal(registerReply{
			Type:         "register_reply",
			Username:     adm.Username,
			RoomName:     false,
			OtherPlayers: map[string]bool{},
			MinPlayers:   adm.MinPlayers,
			Reason:       adm.Reason,
		}))
		return
	}

	h.JoinRoom(adm.RoomName, client)
	client.setJoined(adm.Username, adm.RoomName)
	h.registry.Admit(client.id, adm.Username, adm.RoomName)

	others := make(map[string]bool, len(adm.Others))
	for _, username := range adm.Others {
		others[username] = true
	}

	client.Send(mustMarshal(registerReply{
		Type:         "register_reply",
		Username:     adm.Username,
		RoomName:     adm.RoomName,
		OtherPlayers: others,
		MinPlayers:   adm.MinPlayers,
		GameStarting: adm.GameStarting,
	}))
}

// handleAnswer writes the answer into the round's answer table.
// No reply; the tally is the only acknowledgement.
func (h *Hub) handleAnswer(client *Client, msg clientMessage) {
	if msg.RoundAnswerKey == "" || msg.Username == "" {
		logging.Warn(context.Background(), "dropping malformed answer",
			zap.String("session_id", client.id))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.HashSet(ctx, msg.RoundAnswerKey, msg.Username, msg.Answer); err != nil {
			logging.Error(ctx, "failed to record answer",
				zap.String("key", msg.RoundAnswerKey),
				zap.String("username", msg.Username),
				zap.Error(err))
		}
	}()
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable with a programming error in the reply types.
		logging.Error(context.Background(), "failed to marshal reply", zap.Error(err))
		return []byte("{}")
	}
	return data
}
