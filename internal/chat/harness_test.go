package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"community-chat/internal/config"
	"community-chat/internal/database"
	"community-chat/internal/models"
)

// memStore is an in-memory database.Store for tests.
type memStore struct {
	mu               sync.Mutex
	rooms            map[int64]*models.Room
	roomMembers      map[[2]int64]bool // (userID, roomID)
	communityMembers map[[2]int64]bool // (userID, communityID)
	admins           map[[2]int64]bool // (userID, roomID)
	messages         map[int64]map[int64]*models.Message
	reactions        map[string]bool
	threads          map[int64]*models.Thread
	threadByParent   map[[2]int64]int64
	nextThreadID     int64
	deletedMedia     []string

	failNextPersist bool
}

func newMemStore() *memStore {
	return &memStore{
		rooms:            make(map[int64]*models.Room),
		roomMembers:      make(map[[2]int64]bool),
		communityMembers: make(map[[2]int64]bool),
		admins:           make(map[[2]int64]bool),
		messages:         make(map[int64]map[int64]*models.Message),
		reactions:        make(map[string]bool),
		threads:          make(map[int64]*models.Thread),
		threadByParent:   make(map[[2]int64]int64),
	}
}

func reactionKey(r *models.Reaction) string {
	return fmt.Sprintf("%d/%d/%d/%s", r.RoomID, r.MessageID, r.UserID, r.Kind)
}

func (m *memStore) GetRoomByID(_ context.Context, id int64) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return room, nil
}

func (m *memStore) IsMember(_ context.Context, userID, roomID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomMembers[[2]int64{userID, roomID}], nil
}

func (m *memStore) IsCommunityMember(_ context.Context, userID, communityID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.communityMembers[[2]int64{userID, communityID}], nil
}

func (m *memStore) AddMembership(_ context.Context, userID, roomID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomMembers[[2]int64{userID, roomID}] = true
	return nil
}

func (m *memStore) RemoveMembership(_ context.Context, userID, roomID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roomMembers, [2]int64{userID, roomID})
	return nil
}

func (m *memStore) HasAdminCapability(_ context.Context, userID, roomID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admins[[2]int64{userID, roomID}], nil
}

func (m *memStore) PersistMessage(_ context.Context, msg *models.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextPersist {
		m.failNextPersist = false
		return 0, fmt.Errorf("simulated store failure")
	}
	room, ok := m.messages[msg.RoomID]
	if !ok {
		room = make(map[int64]*models.Message)
		m.messages[msg.RoomID] = room
	}
	clone := *msg
	room[msg.ID] = &clone
	return msg.ID, nil
}

func (m *memStore) GetMessage(_ context.Context, roomID, messageID int64) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[roomID][messageID]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *msg
	return &clone, nil
}

func (m *memStore) UpdateMessageBody(_ context.Context, roomID, messageID int64, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[roomID][messageID]
	if !ok {
		return database.ErrNotFound
	}
	msg.Body = body
	return nil
}

func (m *memStore) DeleteMessage(_ context.Context, roomID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages[roomID], messageID)
	return nil
}

func (m *memStore) LoadRecentMessages(_ context.Context, roomID, beforeID int64, limit int) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for _, msg := range m.messages[roomID] {
		if beforeID == 0 || msg.ID < beforeID {
			clone := *msg
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) LastMessageID(_ context.Context, roomID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last int64
	for id := range m.messages[roomID] {
		if id > last {
			last = id
		}
	}
	return last, nil
}

func (m *memStore) IncrementReplyCount(_ context.Context, roomID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[roomID][messageID]
	if !ok {
		return database.ErrNotFound
	}
	msg.ReplyCount++
	return nil
}

func (m *memStore) AddReaction(_ context.Context, r *models.Reaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reactionKey(r)
	if m.reactions[key] {
		return false, nil
	}
	m.reactions[key] = true
	return true, nil
}

func (m *memStore) RemoveReaction(_ context.Context, r *models.Reaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reactionKey(r)
	if !m.reactions[key] {
		return false, nil
	}
	delete(m.reactions, key)
	return true, nil
}

func (m *memStore) DeleteReactionsForMessage(_ context.Context, roomID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("%d/%d/", roomID, messageID)
	for key := range m.reactions {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(m.reactions, key)
		}
	}
	return nil
}

func (m *memStore) GetThread(_ context.Context, threadID int64) (*models.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread, ok := m.threads[threadID]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *thread
	return &clone, nil
}

func (m *memStore) GetThreadByParent(_ context.Context, roomID, parentMessageID int64) (*models.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.threadByParent[[2]int64{roomID, parentMessageID}]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *m.threads[id]
	return &clone, nil
}

func (m *memStore) CreateThread(_ context.Context, roomID, parentMessageID int64) (*models.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{roomID, parentMessageID}
	if id, ok := m.threadByParent[key]; ok {
		clone := *m.threads[id]
		return &clone, nil
	}
	m.nextThreadID++
	thread := &models.Thread{ID: m.nextThreadID, ParentMessageID: parentMessageID, RoomID: roomID}
	m.threads[thread.ID] = thread
	m.threadByParent[key] = thread.ID
	clone := *thread
	return &clone, nil
}

func (m *memStore) LoadThreadMessages(_ context.Context, threadID int64) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for _, room := range m.messages {
		for _, msg := range room {
			if msg.ThreadID == threadID {
				clone := *msg
				out = append(out, &clone)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeleteMedia(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedMedia = append(m.deletedMedia, ref)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) hasReaction(r *models.Reaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reactions[reactionKey(r)]
}

// fakeAuth resolves pre-registered tokens to user snapshots.
type fakeAuth struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{users: make(map[string]*models.User)}
}

func (a *fakeAuth) register(token string, user *models.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[token] = user
}

func (a *fakeAuth) UserFromToken(token string) (*models.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[token]
	if !ok {
		return nil, fmt.Errorf("unknown token")
	}
	return user, nil
}

// fakeSink records every frame a session would have sent to its connection.
type fakeSink struct {
	mu     sync.Mutex
	frames []models.Frame
	closed bool
}

func (f *fakeSink) Enqueue(data []byte) bool {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		panic(fmt.Sprintf("malformed frame enqueued: %v", err))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// payloads returns the raw payloads of every frame of the given type, in
// arrival order.
func (f *fakeSink) payloads(event models.EventType) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, frame := range f.frames {
		if frame.Type == string(event) {
			out = append(out, frame.Payload)
		}
	}
	return out
}

func (f *fakeSink) count(event models.EventType) int {
	return len(f.payloads(event))
}

// waitFor polls until the sink has at least n frames of the given type.
func (f *fakeSink) waitFor(t *testing.T, event models.EventType, n int) []json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.payloads(event); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, have %d", n, event, f.count(event))
	return nil
}

func decodePayload(t *testing.T, raw json.RawMessage, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("failed to decode payload %s: %v", raw, err)
	}
}

// env wires an isolated service instance with fakes and a virtual clock for
// slow-mode arithmetic. Expiry timers stay real; tests use short durations.
type env struct {
	t     *testing.T
	store *memStore
	auth  *fakeAuth
	svc   *Service

	clockMu sync.Mutex
	clock   time.Time

	tokenSeq int
}

func newEnv(t *testing.T) *env {
	e := &env{
		t:     t,
		store: newMemStore(),
		auth:  newFakeAuth(),
		clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	e.svc = New(e.store, e.auth, config.ChatConfig{
		TypingWindow: 40 * time.Millisecond,
		HistoryLimit: 20,
		SendBuffer:   64,
	})
	e.svc.now = e.now
	t.Cleanup(e.svc.Stop)
	return e
}

func (e *env) now() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	return e.clock
}

func (e *env) advance(d time.Duration) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	e.clock = e.clock.Add(d)
}

func (e *env) addRoom(roomID, communityID int64) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.rooms[roomID] = &models.Room{
		ID:          roomID,
		CommunityID: communityID,
		Name:        fmt.Sprintf("room-%d", roomID),
		Kind:        models.RoomKindText,
	}
}

func (e *env) addMember(userID, roomID int64) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.roomMembers[[2]int64{userID, roomID}] = true
	if room, ok := e.store.rooms[roomID]; ok {
		e.store.communityMembers[[2]int64{userID, room.CommunityID}] = true
	}
}

func (e *env) addCommunityMember(userID, communityID int64) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.communityMembers[[2]int64{userID, communityID}] = true
}

func (e *env) addModerator(userID, roomID int64) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.admins[[2]int64{userID, roomID}] = true
}

func user(id int64, name string) *models.User {
	return &models.User{ID: id, Username: name, Role: models.RoleMember}
}

// connect opens a fake connection for the user and returns its session and
// sink.
func (e *env) connect(u *models.User) (*Session, *fakeSink) {
	e.t.Helper()
	e.tokenSeq++
	token := fmt.Sprintf("token-%d-%d", u.ID, e.tokenSeq)
	e.auth.register(token, u)

	sink := &fakeSink{}
	sess, err := e.svc.Connect(sink, token)
	if err != nil {
		e.t.Fatalf("Connect() failed: %v", err)
	}
	return sess, sink
}

// join is connect + JoinRoom for an already seeded member.
func (e *env) join(sess *Session, roomID int64) {
	e.t.Helper()
	if err := e.svc.JoinRoom(context.Background(), sess, roomID); err != nil {
		e.t.Fatalf("JoinRoom(%d) failed: %v", roomID, err)
	}
}

func sendReq(roomID int64, body string) *models.SendMessageRequest {
	return &models.SendMessageRequest{RoomID: roomID, Body: body}
}
