package events

import "crashgame/internal/game"

// Fanout delivers every event to each of its sinks in order.
type Fanout []game.Broadcaster

func (f Fanout) Broadcast(e game.Event) {
	for _, s := range f {
		s.Broadcast(e)
	}
}

func (f Fanout) SendToUser(userID string, e game.Event) {
	for _, s := range f {
		s.SendToUser(userID, e)
	}
}
