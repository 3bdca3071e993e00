package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearXs/Violet/internal/agent"
	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/sandbox"
)

func collect(t *testing.T, s *Stream) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream did not finish, got %d events", len(out))
		}
	}
}

func kinds(evs []Event) []Kind {
	out := make([]Kind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind)
	}
	return out
}

func TestStreamPreservesOrderAndEndsWithDone(t *testing.T) {
	r := NewResponder(nil, 1)
	reply := message.New("agent-1", message.RoleAssistant, "hello")
	res := sandbox.Result{Status: sandbox.StatusSuccess, ReturnValue: "42"}

	s := r.Run(context.Background(), "agent-1", func(ctx context.Context, sink agent.EventSink) (*agent.UsageStatistics, error) {
		for _, ev := range []agent.Event{
			{Kind: agent.EventStep, AgentID: "agent-1", Step: 1},
			{Kind: agent.EventToolResult, AgentID: "agent-1", Step: 1, ToolName: "calc", Result: &res},
			{Kind: agent.EventStep, AgentID: "agent-1", Step: 2},
			{Kind: agent.EventDelta, AgentID: "agent-1", Step: 2, Message: &reply},
		} {
			if err := sink(ctx, ev); err != nil {
				return nil, err
			}
		}
		return &agent.UsageStatistics{StepCount: 2, Messages: []message.Message{reply}}, nil
	})

	evs := collect(t, s)
	assert.Equal(t, []Kind{KindStep, KindToolResult, KindStep, KindDelta, KindDone}, kinds(evs))
	assert.Equal(t, "42", evs[1].Text)
	assert.Equal(t, "hello", evs[3].Text)

	final := s.Wait()
	assert.Equal(t, KindDone, final.Kind)
	assert.Equal(t, "hello", final.Text)
	assert.Equal(t, 2, final.Usage.StepCount)
}

func TestStreamReportsError(t *testing.T) {
	r := NewResponder(nil, 0)
	boom := errors.New("provider down")
	s := r.Run(context.Background(), "agent-1", func(ctx context.Context, sink agent.EventSink) (*agent.UsageStatistics, error) {
		_ = sink(ctx, agent.Event{Kind: agent.EventStep, Step: 1})
		return nil, boom
	})

	evs := collect(t, s)
	require.Len(t, evs, 2)
	last := evs[len(evs)-1]
	assert.Equal(t, KindError, last.Kind)
	assert.ErrorIs(t, last.Err, boom)
	assert.True(t, last.Terminal())
	assert.ErrorIs(t, s.Wait().Err, boom)
}

func TestStreamCloseCancelsProducer(t *testing.T) {
	r := NewResponder(nil, 1)
	var stopped atomic.Bool
	s := r.Run(context.Background(), "agent-1", func(ctx context.Context, sink agent.EventSink) (*agent.UsageStatistics, error) {
		defer stopped.Store(true)
		for i := 1; ; i++ {
			if err := sink(ctx, agent.Event{Kind: agent.EventStep, Step: i}); err != nil {
				return nil, err
			}
		}
	})

	first := <-s.Events()
	assert.Equal(t, KindStep, first.Kind)
	s.Close()
	s.Close()

	evs := collect(t, s)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, KindCancelled, last.Kind)
	assert.ErrorIs(t, last.Err, context.Canceled)
	for _, ev := range evs[:len(evs)-1] {
		assert.False(t, ev.Terminal())
	}
	assert.Equal(t, KindCancelled, s.Wait().Kind)
	assert.True(t, stopped.Load())
}

func TestWaitAfterCloseWithoutReading(t *testing.T) {
	r := NewResponder(nil, 1)
	s := r.Run(context.Background(), "agent-1", func(ctx context.Context, sink agent.EventSink) (*agent.UsageStatistics, error) {
		for i := 1; i <= 100; i++ {
			if err := sink(ctx, agent.Event{Kind: agent.EventStep, Step: i}); err != nil {
				return nil, err
			}
		}
		return &agent.UsageStatistics{}, nil
	})
	s.Close()

	done := make(chan Event, 1)
	go func() { done <- s.Wait() }()
	select {
	case ev := <-done:
		assert.Equal(t, KindCancelled, ev.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Close")
	}

	// 终止事件仍然是 channel 中的最后一个
	evs := collect(t, s)
	require.NotEmpty(t, evs)
	assert.Equal(t, KindCancelled, evs[len(evs)-1].Kind)
}
