package daemon

import (
	"time"

	"github.com/jasona/mudforge-sub005/internal/proto"
)

// Game-clock geometry: an in-world day passes in one real hour.
const (
	minutesPerHour      = 60
	hoursPerDay         = 24
	realMSPerGameMinute = 2500
)

// GameTime is the in-world clock daemon. Epoch counts game minutes since
// world creation and only ever moves forward.
type GameTime struct {
	epoch int64 // game minutes
	accum time.Duration
}

func NewGameTime() *GameTime { return &GameTime{} }

func (g *GameTime) ID() string         { return "gametime" }
func (g *GameTime) ResetOnError() bool { return true }

// Advance accumulates real time and rolls the clock forward.
func (g *GameTime) Advance(dt time.Duration) {
	g.accum += dt
	step := time.Duration(realMSPerGameMinute) * time.Millisecond
	for g.accum >= step {
		g.accum -= step
		g.epoch++
	}
}

// Payload builds the GAMETIME frame body.
func (g *GameTime) Payload() proto.GameTimePayload {
	return proto.GameTimePayload{
		Epoch:  g.epoch,
		Day:    int(g.epoch / (minutesPerHour * hoursPerDay)),
		Hour:   int(g.epoch / minutesPerHour % hoursPerDay),
		Minute: int(g.epoch % minutesPerHour),
	}
}

// IsNight reports the dark half of the game day.
func (g *GameTime) IsNight() bool {
	h := g.Payload().Hour
	return h < 6 || h >= 20
}

func (g *GameTime) Serialize() map[string]any {
	return map[string]any{"epoch": g.epoch}
}

func (g *GameTime) Restore(data map[string]any) error {
	switch v := data["epoch"].(type) {
	case float64:
		g.epoch = int64(v)
	case int64:
		g.epoch = v
	}
	return nil
}
