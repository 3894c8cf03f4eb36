package ws

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"teamchat/internal/models"
	"teamchat/internal/repo"

	"github.com/rs/zerolog/log"
)

// PollOption 是投票的一个选项。
type PollOption struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// PollInfo 是对外广播的投票数据。
type PollInfo struct {
	ID             uint         `json:"id"`
	ConversationID uint         `json:"conversation_id"`
	CreatorID      uint         `json:"creator_id"`
	Question       string       `json:"question"`
	Options        []PollOption `json:"options"`
	AllowMultiple  bool         `json:"allow_multiple"`
	IsAnonymous    bool         `json:"is_anonymous"`
	Status         string       `json:"status"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
}

// Tally 是某一时刻从完整投票集合重算出的计票结果。
type Tally struct {
	PollID      uint            `json:"poll_id"`
	Counts      map[int]int     `json:"counts"`
	Percentages map[int]float64 `json:"percentages"`
	TotalVoters int             `json:"total_voters"`
	Winners     []int           `json:"winners,omitempty"`
}

type pollState struct {
	mu             sync.Mutex
	id             uint
	conversationID uint
	creatorID      uint
	question       string
	options        []PollOption
	allowMultiple  bool
	isAnonymous    bool
	expiresAt      *time.Time
	votes          map[uint][]int // userID -> 选项 ID 列表，重复投票覆盖
	timer          *time.Timer
	ended          bool
}

// PollEngine 管理投票生命周期。锁粒度到单个投票，互不相关的投票并发互不影响。
type PollEngine struct {
	mu     sync.RWMutex
	polls  map[uint]*pollState
	repo   repo.Repository
	router Broadcaster
	now    func() time.Time
}

func NewPollEngine(r repo.Repository, b Broadcaster) *PollEngine {
	return &PollEngine{
		polls:  make(map[uint]*pollState),
		repo:   r,
		router: b,
		now:    time.Now,
	}
}

// Create 校验并持久化新投票，注册到期计时器并广播 poll:created。
// 持久化失败直接返回错误，绝不返回伪造数据。
func (e *PollEngine) Create(conversationID, creatorID uint, question string, options []string, allowMultiple, isAnonymous bool, expiresAt *time.Time) (*PollInfo, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, validation("poll question is required")
	}
	if len(options) < 2 {
		return nil, validation("poll needs at least two options")
	}
	opts := make([]PollOption, len(options))
	for i, text := range options {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, validation("poll option text is required")
		}
		opts[i] = PollOption{ID: i, Text: text}
	}
	optJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, internalError("encode poll options")
	}

	row := &models.Poll{
		ConversationID: conversationID,
		CreatorID:      creatorID,
		Question:       question,
		Options:        string(optJSON),
		AllowMultiple:  allowMultiple,
		IsAnonymous:    isAnonymous,
		Status:         "active",
		ExpiresAt:      expiresAt,
	}
	if err := e.repo.CreatePoll(row); err != nil {
		log.Error().Err(err).Uint("conversation_id", conversationID).Msg("create poll")
		return nil, sendFailed("could not create poll")
	}

	st := &pollState{
		id:             row.ID,
		conversationID: conversationID,
		creatorID:      creatorID,
		question:       question,
		options:        opts,
		allowMultiple:  allowMultiple,
		isAnonymous:    isAnonymous,
		expiresAt:      expiresAt,
		votes:          make(map[uint][]int),
	}
	if expiresAt != nil {
		d := expiresAt.Sub(e.now())
		if d < 0 {
			d = 0
		}
		pollID := row.ID
		st.timer = time.AfterFunc(d, func() {
			if _, err := e.End(pollID); err != nil {
				log.Warn().Err(err).Uint("poll_id", pollID).Msg("poll expiry")
			}
		})
	}
	e.mu.Lock()
	e.polls[row.ID] = st
	e.mu.Unlock()

	info := e.info(st, "active")
	e.router.Broadcast(ConversationRoom(conversationID), EvPollCreated, info, "")
	return info, nil
}

// Vote 记录或覆盖用户的投票并广播最新计票。
func (e *PollEngine) Vote(pollID, userID uint, optionIDs []int) (*Tally, error) {
	st := e.get(pollID)
	if st == nil {
		// 结束的投票已从内存退场，以库里的行判定是已结束还是不存在。
		if row, err := e.repo.FindPoll(pollID); err == nil && row.Status == "ended" {
			return nil, validation("poll is not active")
		}
		return nil, notFound("poll not found")
	}
	if len(optionIDs) == 0 {
		return nil, validation("at least one option is required")
	}

	st.mu.Lock()
	if st.ended {
		st.mu.Unlock()
		return nil, validation("poll is not active")
	}
	if !st.allowMultiple && len(optionIDs) > 1 {
		st.mu.Unlock()
		return nil, validation("poll allows a single choice")
	}
	for _, id := range optionIDs {
		if id < 0 || id >= len(st.options) {
			st.mu.Unlock()
			return nil, validation("unknown poll option")
		}
	}

	idJSON, _ := json.Marshal(optionIDs)
	if err := e.repo.SavePollVote(&models.PollVote{PollID: pollID, UserID: userID, OptionIDs: string(idJSON)}); err != nil {
		st.mu.Unlock()
		log.Error().Err(err).Uint("poll_id", pollID).Uint("user_id", userID).Msg("save vote")
		return nil, sendFailed("could not record vote")
	}
	st.votes[userID] = append([]int(nil), optionIDs...)
	tally := st.tallyLocked(false)
	convID := st.conversationID
	st.mu.Unlock()

	e.router.Broadcast(ConversationRoom(convID), EvPollUpdated, tally, "")
	return tally, nil
}

// End 结束投票并广播含获胜选项的最终计票。重复结束是无操作。
// 平票时返回全部并列领先的选项。结束后内存态即退场，长期运行不积压。
func (e *PollEngine) End(pollID uint) (*Tally, error) {
	st := e.get(pollID)
	if st == nil {
		row, err := e.repo.FindPoll(pollID)
		if err != nil {
			return nil, notFound("poll not found")
		}
		if row.Status != "ended" {
			// 进程重启后内存态丢失，只落库不广播。
			if perr := e.repo.EndPoll(pollID, e.now()); perr != nil {
				log.Error().Err(perr).Uint("poll_id", pollID).Msg("end poll")
			}
		}
		return nil, nil
	}

	st.mu.Lock()
	if st.ended {
		st.mu.Unlock()
		return nil, nil
	}
	st.ended = true
	if st.timer != nil {
		st.timer.Stop()
	}
	tally := st.tallyLocked(true)
	convID := st.conversationID
	st.mu.Unlock()

	if err := e.repo.EndPoll(pollID, e.now()); err != nil {
		log.Error().Err(err).Uint("poll_id", pollID).Msg("end poll")
	}
	e.router.Broadcast(ConversationRoom(convID), EvPollEnded, tally, "")

	e.mu.Lock()
	delete(e.polls, pollID)
	e.mu.Unlock()
	return tally, nil
}

// Get 返回投票的当前视图。活跃投票走内存，已结束的回读库里的行。
func (e *PollEngine) Get(pollID uint) (*PollInfo, error) {
	st := e.get(pollID)
	if st == nil {
		row, err := e.repo.FindPoll(pollID)
		if err != nil {
			return nil, notFound("poll not found")
		}
		var opts []PollOption
		if err := json.Unmarshal([]byte(row.Options), &opts); err != nil {
			return nil, internalError("decode poll options")
		}
		return &PollInfo{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			CreatorID:      row.CreatorID,
			Question:       row.Question,
			Options:        opts,
			AllowMultiple:  row.AllowMultiple,
			IsAnonymous:    row.IsAnonymous,
			Status:         row.Status,
			ExpiresAt:      row.ExpiresAt,
		}, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	status := "active"
	if st.ended {
		status = "ended"
	}
	return e.info(st, status), nil
}

func (e *PollEngine) get(pollID uint) *pollState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.polls[pollID]
}

func (e *PollEngine) info(st *pollState, status string) *PollInfo {
	return &PollInfo{
		ID:             st.id,
		ConversationID: st.conversationID,
		CreatorID:      st.creatorID,
		Question:       st.question,
		Options:        st.options,
		AllowMultiple:  st.allowMultiple,
		IsAnonymous:    st.isAnonymous,
		Status:         status,
		ExpiresAt:      st.expiresAt,
	}
}

// tallyLocked 从权威投票集合整体重算计票，从不做增量累加。
func (st *pollState) tallyLocked(withWinners bool) *Tally {
	counts := make(map[int]int, len(st.options))
	for _, opt := range st.options {
		counts[opt.ID] = 0
	}
	for _, optionIDs := range st.votes {
		for _, id := range optionIDs {
			counts[id]++
		}
	}
	total := len(st.votes)
	pct := make(map[int]float64, len(counts))
	for id, c := range counts {
		if total == 0 {
			pct[id] = 0
			continue
		}
		pct[id] = float64(c) / float64(total) * 100
	}
	t := &Tally{PollID: st.id, Counts: counts, Percentages: pct, TotalVoters: total}
	if withWinners {
		max := 0
		for _, c := range counts {
			if c > max {
				max = c
			}
		}
		if max > 0 {
			for id, c := range counts {
				if c == max {
					t.Winners = append(t.Winners, id)
				}
			}
			sort.Ints(t.Winners)
		}
	}
	return t
}
