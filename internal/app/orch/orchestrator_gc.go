package orch

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// SweepStaleRooms deletes rooms whose host is offline and which have not been
// updated within StaleAfter. It returns how many rooms were deleted.
func (o *Orchestrator) SweepStaleRooms(ctx context.Context) int {
	deleted := 0
	for _, room := range o.Rooms.Stale(o.Now().Add(-o.StaleAfter)) {
		if o.Presence.IsOnline(room.Host) {
			continue
		}
		if o.deleteRoom(ctx, room.ID) {
			deleted++
		}
	}
	if deleted > 0 {
		log.Info().Str("module", "orch.gc").Int("rooms", deleted).Msg("stale rooms deleted")
	}
	return deleted
}

// ScheduleRoomGC registers the stale room sweep on a cron spec such as "@every 10m".
// The caller starts and stops the returned scheduler.
func (o *Orchestrator) ScheduleRoomGC(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, func() { o.SweepStaleRooms(context.Background()) }); err != nil {
		return nil, err
	}
	return c, nil
}
