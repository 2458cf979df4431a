package collab

import (
	"time"

	"CollabProject/logger"
)

// janitor is the periodic garbage-collection sweep. It reclaims rooms
// whose membership bookkeeping drifted and presence entries whose
// deferred grace check was lost (a restart drops pending timers). It
// never broadcasts.
func (c *Coordinator) janitor() {
	t := time.NewTicker(c.conf.JanitorEvery)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.sweepOnce()
		}
	}
}

func (c *Coordinator) sweepOnce() {
	rooms := c.rooms.SweepIdle(c.conf.RoomIdleTTL)
	for _, roomID := range rooms {
		c.ops.DropRoom(roomID)
	}

	users := c.presence.SweepOffline(c.conf.GraceWindow)
	for _, userID := range users {
		c.cancelTimer("grace:" + userID)
		for _, roomID := range c.rooms.RemoveUser(userID) {
			c.ops.DropRoom(roomID)
		}
	}

	if len(rooms) > 0 || len(users) > 0 {
		logger.Infof("[janitor] swept rooms=%d presence=%d", len(rooms), len(users))
	}
}
