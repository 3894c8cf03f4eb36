package ws

import (
	"encoding/json"
	"testing"
)

func newTestCallRelay(fr *fakeRepo) (*CallRelay, *Router) {
	router := NewRouter(allowAll)
	return NewCallRelay(fr, router), router
}

func TestCall_Start(t *testing.T) {
	fr := newFakeRepo()
	relay, router := newTestCallRelay(fr)
	s := newTestSession("s1", 10)
	router.Join(s, ConversationRoom(1))

	info, err := relay.Start(s, CallStartPayload{ConversationID: 1, CallType: "video", ParticipantIDs: []uint{20}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if info.Type != "video" || info.Status != "initiated" || info.ID == "" {
		t.Errorf("Start() = %+v", info)
	}

	env := recvOutbound(t, s)
	if env.Event != EvCallStarted {
		t.Errorf("event = %q, want %s", env.Event, EvCallStarted)
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.calls) != 1 {
		t.Errorf("persisted call sessions = %d, want 1", len(fr.calls))
	}
}

func TestCall_StartDefaultsToAudio(t *testing.T) {
	fr := newFakeRepo()
	relay, router := newTestCallRelay(fr)
	s := newTestSession("s1", 10)
	router.Join(s, ConversationRoom(1))

	info, err := relay.Start(s, CallStartPayload{ConversationID: 1, CallType: "hologram"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if info.Type != "audio" {
		t.Errorf("call type = %q, want audio", info.Type)
	}
}

func TestCall_StartNotInRoom(t *testing.T) {
	relay, _ := newTestCallRelay(newFakeRepo())
	s := newTestSession("s1", 10)
	_, err := relay.Start(s, CallStartPayload{ConversationID: 1})
	we, ok := err.(*Error)
	if !ok || we.Code != CodeAccessDenied {
		t.Errorf("Start() error = %v, want ACCESS_DENIED", err)
	}
}

func TestCall_StartPersistenceFailure(t *testing.T) {
	fr := newFakeRepo()
	fr.failCall = true
	relay, router := newTestCallRelay(fr)
	s := newTestSession("s1", 10)
	router.Join(s, ConversationRoom(1))

	// 持久化失败返回错误，绝不返回伪造的通话数据
	info, err := relay.Start(s, CallStartPayload{ConversationID: 1})
	if err == nil || info != nil {
		t.Errorf("Start() = (%v, %v), want error and nil info", info, err)
	}
	if _, ok := tryRecv(s); ok {
		t.Error("call:started broadcast despite persistence failure")
	}
}

func TestCall_SignalForwardedVerbatim(t *testing.T) {
	fr := newFakeRepo()
	relay, router := newTestCallRelay(fr)
	caller := newTestSession("s1", 10)
	// 目标用户的两个并发会话都要收到
	target1 := newTestSession("s2", 20)
	target2 := newTestSession("s3", 20)
	router.Join(caller, ConversationRoom(1))
	router.Join(target1, UserRoom(20))
	router.Join(target2, UserRoom(20))

	info, _ := relay.Start(caller, CallStartPayload{ConversationID: 1})
	recvOutbound(t, caller) // call:started

	opaque := json.RawMessage(`{"sdp":"v=0 o=- 46117 2","type":"offer","nested":{"k":[1,2,3]}}`)
	if err := relay.Signal(caller, CallSignalPayload{CallID: info.ID, TargetUserID: 20, Signal: opaque}); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}

	for _, s := range []*Session{target1, target2} {
		env := recvOutbound(t, s)
		if env.Event != EvCallSignalOut {
			t.Fatalf("event = %q, want %s", env.Event, EvCallSignalOut)
		}
		var got SignalEvent
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		raw, _ := json.Marshal(got.Signal)
		var want, have interface{}
		json.Unmarshal(opaque, &want)
		json.Unmarshal(raw, &have)
		wantJSON, _ := json.Marshal(want)
		haveJSON, _ := json.Marshal(have)
		if string(wantJSON) != string(haveJSON) {
			t.Errorf("signal payload altered: got %s, want %s", haveJSON, wantJSON)
		}
		if got.FromUserID != 10 {
			t.Errorf("FromUserID = %d, want 10", got.FromUserID)
		}
	}
}

func TestCall_SignalUnknownCall(t *testing.T) {
	relay, _ := newTestCallRelay(newFakeRepo())
	s := newTestSession("s1", 10)
	err := relay.Signal(s, CallSignalPayload{CallID: "nope", TargetUserID: 20})
	we, ok := err.(*Error)
	if !ok || we.Code != CodeNotFound {
		t.Errorf("Signal() error = %v, want NOT_FOUND", err)
	}
}

func TestCall_EndIdempotent(t *testing.T) {
	fr := newFakeRepo()
	relay, router := newTestCallRelay(fr)
	s := newTestSession("s1", 10)
	router.Join(s, ConversationRoom(1))

	info, _ := relay.Start(s, CallStartPayload{ConversationID: 1})
	recvOutbound(t, s) // call:started

	if err := relay.End(s, CallEndPayload{CallID: info.ID, Reason: "hangup"}); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	env := recvOutbound(t, s)
	if env.Event != EvCallEnded {
		t.Fatalf("event = %q, want %s", env.Event, EvCallEnded)
	}
	var ended CallInfo
	json.Unmarshal(env.Data, &ended)
	if ended.Status != "ended" || ended.EndReason != "hangup" {
		t.Errorf("ended call = %+v", ended)
	}

	fr.mu.Lock()
	if fr.calls[info.ID].Status != "ended" {
		t.Error("call session not marked ended in repository")
	}
	fr.mu.Unlock()

	// 重复结束是无操作，不再广播
	if err := relay.End(s, CallEndPayload{CallID: info.ID, Reason: "again"}); err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if _, ok := tryRecv(s); ok {
		t.Error("second End() produced a broadcast")
	}
	// 已结束的通话拒绝继续转发信令
	if err := relay.Signal(s, CallSignalPayload{CallID: info.ID, TargetUserID: 20}); err == nil {
		t.Error("Signal() on ended call should fail")
	}
}

func TestCall_EndEvictsState(t *testing.T) {
	fr := newFakeRepo()
	relay, router := newTestCallRelay(fr)
	s := newTestSession("s1", 10)
	router.Join(s, ConversationRoom(1))

	info, _ := relay.Start(s, CallStartPayload{ConversationID: 1})
	relay.End(s, CallEndPayload{CallID: info.ID})

	// 结束后内存态退场，幂等性靠库里的行兜底
	relay.mu.RLock()
	_, live := relay.calls[info.ID]
	relay.mu.RUnlock()
	if live {
		t.Error("ended call still held in memory")
	}
	if err := relay.End(s, CallEndPayload{CallID: info.ID}); err != nil {
		t.Errorf("End() after eviction error = %v, want no-op", err)
	}
	err := relay.End(s, CallEndPayload{CallID: "missing"})
	we, ok := err.(*Error)
	if !ok || we.Code != CodeNotFound {
		t.Errorf("End() on unknown call error = %v, want NOT_FOUND", err)
	}
}
