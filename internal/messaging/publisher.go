package messaging

import "fmt"

// PlayerPublisher delivers engine events to individual player NATS subjects.
type PlayerPublisher struct {
	server *NatsServer
}

// NewPlayerPublisher wraps a NatsServer for per-player message delivery.
func NewPlayerPublisher(server *NatsServer) *PlayerPublisher {
	return &PlayerPublisher{server: server}
}

// NotifyPlayer sends data to one player's subject.
func (p *PlayerPublisher) NotifyPlayer(player string, data []byte) error {
	return p.server.Publish(PlayerSubject(player), data)
}

// Broadcast sends data to every target player's subject, skipping excluded
// ids. The first delivery error is returned after all targets are attempted.
func (p *PlayerPublisher) Broadcast(targets []string, exclude []string, data []byte) error {
	excludeSet := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excludeSet[id] = true
	}

	var firstErr error
	for _, id := range targets {
		if excludeSet[id] {
			continue
		}
		if err := p.server.Publish(PlayerSubject(id), data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PlayerSubject is the NATS subject carrying one player's notifications.
func PlayerSubject(id string) string {
	return fmt.Sprintf("player.%s", id)
}
