package chat

import (
	"encoding/json"
	"sync"
	"time"

	"community-chat/internal/models"
	"community-chat/pkg/logger"
)

// roomState is the per-room serialization point. Everything behind mu is
// mutated concurrently by connection goroutines; store I/O is never
// performed while holding mu (thread creation excepted, see threads.go).
type roomState struct {
	id int64

	seqMu     sync.Mutex
	seqLoaded bool

	mu sync.Mutex

	// nextSeq is the next message id to allocate; nextDeliver is the next
	// id whose broadcast may go out. Fan-out strictly follows id order even
	// when persists complete out of order.
	nextSeq     int64
	nextDeliver int64
	pending     map[int64][]byte
	abandoned   map[int64]bool

	// presence: userID -> sessionID -> session. A user is online while at
	// least one connection is registered.
	presence map[int64]map[string]*Session
	users    map[int64]*models.User

	lastSent   map[int64]time.Time
	typing     map[int64]*typingEntry
	mod        map[int64]map[ActionKind]*moderationRecord
	threads    map[int64]int64
	countdowns map[string]*countdown
}

type typingEntry struct {
	timer *time.Timer
	gen   int64
}

type countdown struct {
	id      string
	title   string
	endTime time.Time
	timer   *time.Timer
}

func newRoomState(id int64) *roomState {
	return &roomState{
		id:         id,
		pending:    make(map[int64][]byte),
		abandoned:  make(map[int64]bool),
		presence:   make(map[int64]map[string]*Session),
		users:      make(map[int64]*models.User),
		lastSent:   make(map[int64]time.Time),
		typing:     make(map[int64]*typingEntry),
		mod:        make(map[int64]map[ActionKind]*moderationRecord),
		threads:    make(map[int64]int64),
		countdowns: make(map[string]*countdown),
	}
}

func marshalFrame(event models.EventType, payload interface{}) ([]byte, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Error marshaling %s payload: %v", event, err)
		return nil, false
	}
	frame, err := json.Marshal(models.Frame{Type: string(event), Payload: raw})
	if err != nil {
		logger.Error("Error marshaling %s frame: %v", event, err)
		return nil, false
	}
	return frame, true
}

// sessionsLocked returns every session currently present in the room.
func (r *roomState) sessionsLocked() []*Session {
	var out []*Session
	for _, conns := range r.presence {
		for _, sess := range conns {
			out = append(out, sess)
		}
	}
	return out
}

func (r *roomState) userSessionsLocked(userID int64) []*Session {
	var out []*Session
	for _, sess := range r.presence[userID] {
		out = append(out, sess)
	}
	return out
}

// fanoutLocked sends one pre-marshaled frame to all present sessions.
// Enqueue is non-blocking so this is safe under the room lock.
func (r *roomState) fanoutLocked(frame []byte) {
	for _, conns := range r.presence {
		for _, sess := range conns {
			sess.enqueueFrame(frame)
		}
	}
}

// broadcastLocked marshals once and fans out to the whole room.
func (r *roomState) broadcastLocked(event models.EventType, payload interface{}) {
	frame, ok := marshalFrame(event, payload)
	if !ok {
		return
	}
	r.fanoutLocked(frame)
}

// allocSeqLocked hands out the room's next message id.
func (r *roomState) allocSeqLocked() int64 {
	seq := r.nextSeq
	r.nextSeq++
	return seq
}

// releaseSeqLocked undoes a failed allocation. If a newer id was already
// handed out the seq is recorded as abandoned so the sequencer skips it.
func (r *roomState) releaseSeqLocked(seq int64) {
	if r.nextSeq == seq+1 {
		r.nextSeq--
		return
	}
	r.abandoned[seq] = true
	r.flushLocked()
}

// deliverLocked queues seq's frame and flushes everything now in order.
func (r *roomState) deliverLocked(seq int64, frame []byte) {
	r.pending[seq] = frame
	r.flushLocked()
}

func (r *roomState) flushLocked() {
	for {
		if r.abandoned[r.nextDeliver] {
			delete(r.abandoned, r.nextDeliver)
			r.nextDeliver++
			continue
		}
		frame, ok := r.pending[r.nextDeliver]
		if !ok {
			return
		}
		delete(r.pending, r.nextDeliver)
		r.fanoutLocked(frame)
		r.nextDeliver++
	}
}

// stopTimersLocked cancels every outstanding timer. Used on service stop so
// no callback outlives the room.
func (r *roomState) stopTimersLocked() {
	for _, entry := range r.typing {
		entry.timer.Stop()
	}
	for _, records := range r.mod {
		for _, rec := range records {
			if rec.timer != nil {
				rec.timer.Stop()
			}
		}
	}
	for _, cd := range r.countdowns {
		cd.timer.Stop()
	}
}
