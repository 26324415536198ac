// Package lobby admits players into the next game's room and decides,
// across replicas, which replica runs that game.
package lobby

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/metrics"
	"github.com/triviaroyale/server/internal/v1/store"
)

// Shared store cells coordinating admission across replicas.
const (
	NextGameRoomKey   = "next_game_room"
	NextGameServerKey = "next_game_server"
)

// DuplicateUsernameMsg is the user-visible admission denial.
const DuplicateUsernameMsg = "This username already exists, please pick another one"

// GameRunner starts a round engine for a room. Called at most once
// per room, on the replica that wins the election; implementations
// run the engine in its own goroutine.
type GameRunner func(roomName string)

// Admission is the reply to a register_player request.
type Admission struct {
	Username     string
	RoomName     string // empty when admission was denied
	Others       []string
	MinPlayers   int
	GameStarting bool
	Reason       string
}

// Coordinator performs admission control for one replica.
type Coordinator struct {
	store       *store.Service
	minPlayers  int
	replicaName string
	runGame     GameRunner

	mu      sync.Mutex
	roomSeq int
}

// NewCoordinator creates a Coordinator. runGame is invoked on this
// replica when its election claim succeeds.
func NewCoordinator(st *store.Service, minPlayers int, replicaName string, runGame GameRunner) *Coordinator {
	return &Coordinator{
		store:       st,
		minPlayers:  minPlayers,
		replicaName: replicaName,
		runGame:     runGame,
		roomSeq:     1,
	}
}

// RegisterPlayer admits a player into the next game's room.
//
// The roster-size read and threshold check are advisory: under
// concurrent admissions they can let one extra player in, which only
// makes the starting cohort slightly larger. The election claim itself
// is atomic (set-if-absent), so at most one replica ever spawns the
// engine for a room.
func (c *Coordinator) RegisterPlayer(ctx context.Context, username string) (Admission, error) {
	adm := Admission{Username: username, MinPlayers: c.minPlayers}

	room, err := c.store.GetCell(ctx, NextGameRoomKey)
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues("store_error").Inc()
		return adm, err
	}
	if room == "" {
		room, err = c.claimNextRoom(ctx)
		if err != nil {
			metrics.AdmissionsTotal.WithLabelValues("store_error").Inc()
			return adm, err
		}
	}

	taken, err := c.store.SetIsMember(ctx, room, username)
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues("store_error").Inc()
		return adm, err
	}
	if taken {
		logging.Info(ctx, "admission denied: duplicate username",
			zap.String("username", username), zap.String("room_name", room))
		metrics.AdmissionsTotal.WithLabelValues("duplicate").Inc()
		adm.Reason = DuplicateUsernameMsg
		return adm, nil
	}

	size, err := c.store.SetCard(ctx, room)
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues("store_error").Inc()
		return adm, err
	}

	if int64(c.minPlayers)-size <= 1 {
		c.tryClaimGame(ctx, room)
	}

	others, err := c.store.SetMembers(ctx, room)
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues("store_error").Inc()
		return adm, err
	}

	if err := c.store.SetAdd(ctx, room, username); err != nil {
		metrics.AdmissionsTotal.WithLabelValues("store_error").Inc()
		return adm, err
	}

	owner, err := c.store.GetCell(ctx, NextGameServerKey)
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues("store_error").Inc()
		return adm, err
	}

	metrics.AdmissionsTotal.WithLabelValues("admitted").Inc()
	logging.Info(ctx, "player admitted",
		zap.String("username", username),
		zap.String("room_name", room),
		zap.Int64("roster_size", size+1),
		zap.Bool("game_starting", owner != ""))

	adm.RoomName = room
	adm.Others = others
	adm.GameStarting = owner != ""
	return adm, nil
}

// claimNextRoom mints a room name and installs it as the next-game
// room. Two replicas racing here converge on whichever write landed
// first.
func (c *Coordinator) claimNextRoom(ctx context.Context) (string, error) {
	room := c.nextRoomName()
	won, err := c.store.SetCellIfAbsent(ctx, NextGameRoomKey, room)
	if err != nil {
		return "", err
	}
	if !won {
		return c.store.GetCell(ctx, NextGameRoomKey)
	}
	logging.Info(ctx, "opened lobby for next game", zap.String("room_name", room))
	return room, nil
}

// tryClaimGame claims game ownership with an atomic set-if-absent.
// Only the winning replica spawns the engine; losers see the cell
// populated and skip.
func (c *Coordinator) tryClaimGame(ctx context.Context, room string) {
	won, err := c.store.SetCellIfAbsent(ctx, NextGameServerKey, c.replicaName)
	if err != nil {
		logging.Error(ctx, "election claim failed", zap.String("room_name", room), zap.Error(err))
		return
	}
	if !won {
		return
	}

	logging.Info(ctx, "won game election",
		zap.String("room_name", room), zap.String("replica", c.replicaName))
	c.runGame(room)
}
