package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"teamchat/internal/models"
	"teamchat/internal/repo"
)

// fakeRepo 是测试用的内存 Repository 实现，可按需注入失败。
type fakeRepo struct {
	mu           sync.Mutex
	users        map[uint]*models.User
	participants map[[2]uint]bool // (conversation, user)
	messages     map[uint]*models.Message
	nextMsgID    uint
	polls        map[uint]*models.Poll
	nextPollID   uint
	votes        map[[2]uint]string // (poll, user) -> option ids json
	calls        map[string]*models.CallSession
	reactions    map[[2]uint]string
	presence     map[uint]string
	lastRead     map[[2]uint]uint

	failMessage bool
	failPoll    bool
	failVote    bool
	failCall    bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:        make(map[uint]*models.User),
		participants: make(map[[2]uint]bool),
		messages:     make(map[uint]*models.Message),
		polls:        make(map[uint]*models.Poll),
		votes:        make(map[[2]uint]string),
		calls:        make(map[string]*models.CallSession),
		reactions:    make(map[[2]uint]string),
		presence:     make(map[uint]string),
		lastRead:     make(map[[2]uint]uint),
	}
}

func (f *fakeRepo) addUser(id, orgID uint, username string, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &models.User{ID: id, OrgID: orgID, Username: username, Role: "member", IsActive: active}
}

func (f *fakeRepo) addParticipant(convID, userID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[[2]uint{convID, userID}] = true
}

func (f *fakeRepo) FindUser(id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) FindParticipant(conversationID, userID uint) (*models.ConversationParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.participants[[2]uint{conversationID, userID}] {
		return &models.ConversationParticipant{ConversationID: conversationID, UserID: userID, IsActive: true}, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) ListUserConversationIDs(userID uint) ([]uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uint
	for key, ok := range f.participants {
		if ok && key[1] == userID {
			ids = append(ids, key[0])
		}
	}
	return ids, nil
}

func (f *fakeRepo) CreateMessage(msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMessage {
		return errFake
	}
	f.nextMsgID++
	msg.ID = f.nextMsgID
	msg.CreatedAt = time.Now()
	cp := *msg
	f.messages[msg.ID] = &cp
	return nil
}

func (f *fakeRepo) FindMessage(id uint) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[id]; ok {
		return m, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) UpdateMessageStatus(messageID uint, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[messageID]; ok {
		m.Status = status
	}
	return nil
}

func (f *fakeRepo) UpdateLastRead(conversationID, userID, messageID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRead[[2]uint{conversationID, userID}] = messageID
	return nil
}

func (f *fakeRepo) UpdateConversationActivity(conversationID uint, at time.Time) error { return nil }

func (f *fakeRepo) SaveReaction(r *models.MessageReaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions[[2]uint{r.MessageID, r.UserID}] = r.Reaction
	return nil
}

func (f *fakeRepo) CreatePoll(p *models.Poll) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPoll {
		return errFake
	}
	f.nextPollID++
	p.ID = f.nextPollID
	cp := *p
	f.polls[p.ID] = &cp
	return nil
}

func (f *fakeRepo) FindPoll(id uint) (*models.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.polls[id]; ok {
		return p, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) SavePollVote(v *models.PollVote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failVote {
		return errFake
	}
	f.votes[[2]uint{v.PollID, v.UserID}] = v.OptionIDs
	return nil
}

func (f *fakeRepo) EndPoll(pollID uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.polls[pollID]; ok {
		p.Status = "ended"
	}
	return nil
}

func (f *fakeRepo) CreateCallSession(cs *models.CallSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCall {
		return errFake
	}
	cp := *cs
	f.calls[cs.ID] = &cp
	return nil
}

func (f *fakeRepo) FindCallSession(id string) (*models.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cs, ok := f.calls[id]; ok {
		return cs, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRepo) EndCallSession(id, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cs, ok := f.calls[id]; ok {
		cs.Status = "ended"
		cs.EndReason = reason
	}
	return nil
}

func (f *fakeRepo) UpdateUserPresence(userID uint, status, customStatus string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence[userID] = status
	return nil
}

var errFake = &fakeError{}

type fakeError struct{}

func (*fakeError) Error() string { return "fake failure" }

// recorder 记录全部广播，作为 Broadcaster 的测试替身。
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	Room    string
	Event   string
	Payload interface{}
	Exclude string
}

func (r *recorder) Broadcast(room, event string, payload interface{}, excludeSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{Room: room, Event: event, Payload: payload, Exclude: excludeSessionID})
}

func (r *recorder) byEvent(event string) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recorded
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) count(event string) int { return len(r.byEvent(event)) }

func newTestSession(id string, userID uint) *Session {
	return newSession(id, userID, 1, "member", "user-"+id, nil, nil, 64)
}

// recvOutbound 从会话发送队列取下一条事件，超时视为失败。
func recvOutbound(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case b := <-s.send:
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal outbound: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound event")
		return Envelope{}
	}
}

// tryRecv 非阻塞读取一条事件，队列为空返回 false。
func tryRecv(s *Session) (Envelope, bool) {
	select {
	case b := <-s.send:
		var env Envelope
		_ = json.Unmarshal(b, &env)
		return env, true
	default:
		return Envelope{}, false
	}
}
