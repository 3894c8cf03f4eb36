package ws

import (
	"github.com/rs/zerolog/log"
)

// InsightSink 是消息派发成功后的下游分析钩子。
type InsightSink interface {
	MessageDispatched(msg MessageInfo)
}

// LogInsight 是默认的钩子实现，只记审计日志。接外部分析服务时替换。
type LogInsight struct{}

func (LogInsight) MessageDispatched(msg MessageInfo) {
	log.Debug().Uint("message_id", msg.ID).Uint("conversation_id", msg.ConversationID).Msg("message dispatched")
}

// AsyncInsight 把钩子调用从派发路径上解耦：投递永不阻塞，
// 队列打满时丢弃并计日志，下游慢或者挂掉都影响不到消息投递。
type AsyncInsight struct {
	ch   chan MessageInfo
	stop chan struct{}
}

func NewAsyncInsight(sink InsightSink, buffer int) *AsyncInsight {
	a := &AsyncInsight{
		ch:   make(chan MessageInfo, buffer),
		stop: make(chan struct{}),
	}
	go a.run(sink)
	return a
}

func (a *AsyncInsight) run(sink InsightSink) {
	for {
		select {
		case <-a.stop:
			return
		case msg := <-a.ch:
			a.deliver(sink, msg)
		}
	}
}

func (a *AsyncInsight) deliver(sink InsightSink, msg MessageInfo) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Uint("message_id", msg.ID).Msg("insight sink panic")
		}
	}()
	sink.MessageDispatched(msg)
}

// Dispatch 非阻塞投递一条已派发消息。
func (a *AsyncInsight) Dispatch(msg MessageInfo) {
	if a == nil {
		return
	}
	select {
	case a.ch <- msg:
	default:
		log.Warn().Uint("message_id", msg.ID).Msg("insight queue full, dropping")
	}
}

// Stop 停止后台 worker。
func (a *AsyncInsight) Stop() {
	if a == nil {
		return
	}
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
}
