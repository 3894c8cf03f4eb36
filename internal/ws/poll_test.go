package ws

import (
	"testing"
	"time"
)

func newTestPollEngine(failPoll, failVote bool) (*PollEngine, *recorder, *fakeRepo) {
	rec := &recorder{}
	fr := newFakeRepo()
	fr.failPoll = failPoll
	fr.failVote = failVote
	return NewPollEngine(fr, rec), rec, fr
}

func mustCreatePoll(t *testing.T, e *PollEngine, allowMultiple bool) *PollInfo {
	t.Helper()
	info, err := e.Create(1, 100, "lunch?", []string{"A", "B"}, allowMultiple, false, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return info
}

func TestPoll_Create(t *testing.T) {
	e, rec, fr := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, false)

	if info.Status != "active" || len(info.Options) != 2 {
		t.Errorf("Create() = %+v, want active poll with 2 options", info)
	}
	if rec.count(EvPollCreated) != 1 {
		t.Errorf("poll:created broadcasts = %d, want 1", rec.count(EvPollCreated))
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.polls) != 1 {
		t.Errorf("persisted polls = %d, want 1", len(fr.polls))
	}
}

func TestPoll_CreateValidation(t *testing.T) {
	e, _, _ := newTestPollEngine(false, false)

	tests := []struct {
		name     string
		question string
		options  []string
	}{
		{"empty question", "  ", []string{"A", "B"}},
		{"one option", "q", []string{"A"}},
		{"blank option", "q", []string{"A", " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Create(1, 100, tt.question, tt.options, false, false, nil)
			we, ok := err.(*Error)
			if !ok || we.Code != CodeValidation {
				t.Errorf("Create() error = %v, want VALIDATION", err)
			}
		})
	}
}

func TestPoll_CreatePersistenceFailure(t *testing.T) {
	e, rec, _ := newTestPollEngine(true, false)
	_, err := e.Create(1, 100, "q", []string{"A", "B"}, false, false, nil)
	if err == nil {
		t.Fatal("Create() = nil error on persistence failure, want error")
	}
	// 持久化失败不得返回伪造数据，也不得广播
	if rec.count(EvPollCreated) != 0 {
		t.Error("poll:created broadcast despite persistence failure")
	}
}

func TestPoll_SingleChoiceRevoteReplaces(t *testing.T) {
	// 会话 1 投 A，会话 2 投 B，会话 1 改投 B → {A:0, B:2}
	e, _, _ := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, false)

	if _, err := e.Vote(info.ID, 1, []int{0}); err != nil {
		t.Fatalf("vote 1 error = %v", err)
	}
	if _, err := e.Vote(info.ID, 2, []int{1}); err != nil {
		t.Fatalf("vote 2 error = %v", err)
	}
	tally, err := e.Vote(info.ID, 1, []int{1})
	if err != nil {
		t.Fatalf("re-vote error = %v", err)
	}

	if tally.Counts[0] != 0 || tally.Counts[1] != 2 {
		t.Errorf("tally = %v, want {0:0, 1:2}", tally.Counts)
	}
	if tally.TotalVoters != 2 {
		t.Errorf("TotalVoters = %d, want 2", tally.TotalVoters)
	}
}

func TestPoll_SingleChoiceRejectsMultiple(t *testing.T) {
	e, _, _ := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, false)

	_, err := e.Vote(info.ID, 1, []int{0, 1})
	we, ok := err.(*Error)
	if !ok || we.Code != CodeValidation {
		t.Errorf("Vote() error = %v, want VALIDATION", err)
	}
}

func TestPoll_AllowMultiple(t *testing.T) {
	e, _, _ := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, true)

	tally, err := e.Vote(info.ID, 1, []int{0, 1})
	if err != nil {
		t.Fatalf("Vote() error = %v", err)
	}
	if tally.Counts[0] != 1 || tally.Counts[1] != 1 || tally.TotalVoters != 1 {
		t.Errorf("tally = %+v, want both options counted for one voter", tally)
	}
}

func TestPoll_VoteValidation(t *testing.T) {
	e, _, _ := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, false)

	if _, err := e.Vote(info.ID, 1, []int{5}); err == nil {
		t.Error("Vote() with unknown option should fail")
	}
	if _, err := e.Vote(info.ID, 1, nil); err == nil {
		t.Error("Vote() with no options should fail")
	}
	if _, err := e.Vote(999, 1, []int{0}); err == nil {
		t.Error("Vote() on unknown poll should fail")
	}
}

func TestPoll_VotePersistenceFailure(t *testing.T) {
	e, rec, _ := newTestPollEngine(false, true)
	info := mustCreatePoll(t, e, false)

	_, err := e.Vote(info.ID, 1, []int{0})
	if err == nil {
		t.Fatal("Vote() = nil error on persistence failure")
	}
	if rec.count(EvPollUpdated) != 0 {
		t.Error("poll:updated broadcast despite persistence failure")
	}
	// 内存计票不得被失败的投票污染
	tally, _ := e.End(info.ID)
	if tally.TotalVoters != 0 {
		t.Errorf("TotalVoters = %d after failed vote, want 0", tally.TotalVoters)
	}
}

func TestPoll_EndIdempotent(t *testing.T) {
	e, rec, _ := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, false)
	e.Vote(info.ID, 1, []int{0})

	t1, err := e.End(info.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if t1.TotalVoters != 1 {
		t.Errorf("TotalVoters = %d, want 1", t1.TotalVoters)
	}
	t2, err := e.End(info.ID)
	if err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if t2 != nil {
		t.Error("second End() returned a tally, want silent no-op")
	}
	if rec.count(EvPollEnded) != 1 {
		t.Errorf("poll:ended broadcasts = %d, want 1", rec.count(EvPollEnded))
	}
	if _, err := e.Vote(info.ID, 2, []int{1}); err == nil {
		t.Error("Vote() on ended poll should fail")
	}
}

func TestPoll_EndEvictsState(t *testing.T) {
	e, _, _ := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, false)
	e.Vote(info.ID, 1, []int{0})
	e.End(info.ID)

	// 结束后内存态退场，视图从库里回读
	e.mu.RLock()
	_, live := e.polls[info.ID]
	e.mu.RUnlock()
	if live {
		t.Error("ended poll still held in memory")
	}
	got, err := e.Get(info.ID)
	if err != nil {
		t.Fatalf("Get() after end error = %v", err)
	}
	if got.Status != "ended" {
		t.Errorf("status = %q, want ended", got.Status)
	}
	if len(got.Options) != 2 {
		t.Errorf("options = %d, want 2", len(got.Options))
	}
}

func TestPoll_WinnerSingle(t *testing.T) {
	e, _, _ := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, false)
	e.Vote(info.ID, 1, []int{1})
	e.Vote(info.ID, 2, []int{1})
	e.Vote(info.ID, 3, []int{0})

	tally, _ := e.End(info.ID)
	if len(tally.Winners) != 1 || tally.Winners[0] != 1 {
		t.Errorf("Winners = %v, want [1]", tally.Winners)
	}
}

func TestPoll_WinnerTieReturnsAll(t *testing.T) {
	e, _, _ := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, false)
	e.Vote(info.ID, 1, []int{0})
	e.Vote(info.ID, 2, []int{1})

	tally, _ := e.End(info.ID)
	if len(tally.Winners) != 2 {
		t.Errorf("Winners = %v, want both tied options", tally.Winners)
	}
}

func TestPoll_NoVotesNoWinner(t *testing.T) {
	e, _, _ := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, false)
	tally, _ := e.End(info.ID)
	if len(tally.Winners) != 0 {
		t.Errorf("Winners = %v for poll with no votes, want none", tally.Winners)
	}
}

func TestPoll_ExpiryTimer(t *testing.T) {
	e, rec, _ := newTestPollEngine(false, false)
	exp := time.Now().Add(40 * time.Millisecond)
	info, err := e.Create(1, 100, "q", []string{"A", "B"}, false, false, &exp)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	if rec.count(EvPollEnded) != 1 {
		t.Errorf("poll:ended after expiry = %d, want 1", rec.count(EvPollEnded))
	}
	got, _ := e.Get(info.ID)
	if got.Status != "ended" {
		t.Errorf("poll status = %q after expiry, want ended", got.Status)
	}
}

func TestPoll_EarlyEndCancelsTimer(t *testing.T) {
	e, rec, _ := newTestPollEngine(false, false)
	exp := time.Now().Add(40 * time.Millisecond)
	info, _ := e.Create(1, 100, "q", []string{"A", "B"}, false, false, &exp)

	e.End(info.ID)
	time.Sleep(120 * time.Millisecond)

	// 提前结束后到期计时器不得再次触发
	if rec.count(EvPollEnded) != 1 {
		t.Errorf("poll:ended = %d, want 1 (no double fire)", rec.count(EvPollEnded))
	}
}

func TestPoll_Percentages(t *testing.T) {
	e, _, _ := newTestPollEngine(false, false)
	info := mustCreatePoll(t, e, false)
	e.Vote(info.ID, 1, []int{0})
	e.Vote(info.ID, 2, []int{0})
	e.Vote(info.ID, 3, []int{1})

	tally, _ := e.End(info.ID)
	if tally.Percentages[0] < 66 || tally.Percentages[0] > 67 {
		t.Errorf("Percentages[0] = %f, want ~66.7", tally.Percentages[0])
	}
}
