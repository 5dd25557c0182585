package messenger

import (
	"time"

	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
)

// typingState tracks what the peer was last told about local typing.
type typingState struct {
	active bool
	peer   models.ID
	gen    int
	timer  *time.Timer
}

// InputChanged reports a keystroke in the compose box. The peer sees typing
// until the box has been idle for the debounce interval.
func (m *Messenger) InputChanged() {
	m.post(m.inputChanged)
}

func (m *Messenger) inputChanged() {
	peer := m.openPeer.ID
	if peer.IsZero() {
		return
	}

	t := &m.outgoing
	if !t.active || t.peer != peer {
		t.active = true
		t.peer = peer
		m.sendBestEffort(protocol.TypingFrame(m.self.ID, peer, true))
	}

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(m.debounce, func() {
		m.post(func() {
			if m.outgoing.gen == gen {
				m.stopTyping()
			}
		})
	})
}

// stopTyping sends stop_typing if the peer was told about typing.
func (m *Messenger) stopTyping() {
	t := &m.outgoing
	m.stopTypingTimer()
	if !t.active {
		return
	}
	t.active = false
	m.sendBestEffort(protocol.TypingFrame(m.self.ID, t.peer, false))
}

func (m *Messenger) stopTypingTimer() {
	t := &m.outgoing
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
