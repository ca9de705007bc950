package syncloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wainbox/internal/model"
	"wainbox/internal/view"
)

const waitFor = 2 * time.Second
const pollEvery = 5 * time.Millisecond

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu      sync.Mutex
	threads []model.Thread
	calls   int
	gates   map[int]chan struct{}
	errs    map[int]error
}

func newFakeFetcher(threads ...model.Thread) *fakeFetcher {
	return &fakeFetcher{
		threads: threads,
		gates:   map[int]chan struct{}{},
		errs:    map[int]error{},
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]model.Thread, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	gate := f.gates[call]
	err := f.errs[call]
	threads := cloneThreads(f.threads)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return threads, nil
}

func (f *fakeFetcher) set(threads ...model.Thread) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads = threads
}

func (f *fakeFetcher) gate(call int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[call] = gate
	return gate
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSender struct {
	mu    sync.Mutex
	gate  chan struct{}
	err   error
	next  model.ExternalID
	onOK  func(key model.ConversationKey, text string, id model.ExternalID)
	texts []string
}

func (s *fakeSender) Send(ctx context.Context, key model.ConversationKey, text string) (model.ExternalID, error) {
	s.mu.Lock()
	gate, err, id, onOK := s.gate, s.err, s.next, s.onOK
	s.texts = append(s.texts, text)
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if onOK != nil {
		onOK(key, text, id)
	}
	return id, nil
}

func cloneThreads(threads []model.Thread) []model.Thread {
	out := make([]model.Thread, len(threads))
	for i := range threads {
		out[i] = model.Thread{
			Conversation: threads[i].Conversation,
			Messages:     append([]model.Message{}, threads[i].Messages...),
		}
	}
	return out
}

func inbound(id string, body string, at time.Time) model.Message {
	return model.Message{
		ExternalID: model.ExternalID(id), ConversationKey: "111", Direction: model.DirectionInbound,
		Kind: model.KindText, Body: &body, OccurredAt: at, Status: model.MessageStatusReceived, SenderKey: "111",
	}
}

func outbound(id string, body string, at time.Time) model.Message {
	return model.Message{
		ExternalID: model.ExternalID(id), ConversationKey: "111", Direction: model.DirectionOutbound,
		Kind: model.KindText, Body: &body, OccurredAt: at, Status: model.MessageStatusSent, SenderKey: "918329446654",
	}
}

func thread(key model.ConversationKey, messages ...model.Message) model.Thread {
	last := base
	for _, m := range messages {
		if m.OccurredAt.After(last) {
			last = m.OccurredAt
		}
	}
	return model.Thread{
		Conversation: model.Conversation{ConversationKey: key, LastActivityAt: last, CreatedAt: base},
		Messages:     messages,
	}
}

func newTestLoop(t *testing.T, fetcher Fetcher, sender Sender) *Loop {
	t.Helper()

	loop := New(fetcher, sender, Options{
		Interval:     time.Hour,
		RefreshDelay: time.Millisecond,
		Now:          func() time.Time { return base.Add(10 * time.Minute) },
	})
	loop.Start(context.Background())
	t.Cleanup(loop.Stop)
	return loop
}

func focusedIDs(state State) []string {
	if state.Focused == nil {
		return nil
	}
	ids := make([]string, 0, len(state.Focused.Messages))
	for _, m := range state.Focused.Messages {
		if m.TempID != "" && m.ExternalID == "" {
			ids = append(ids, m.TempID)
			continue
		}
		ids = append(ids, string(m.ExternalID))
	}
	return ids
}

func waitLoaded(t *testing.T, loop *Loop) {
	t.Helper()
	require.Eventually(t, func() bool {
		state := loop.Snapshot()
		return !state.Loading && !state.Refreshing
	}, waitFor, pollEvery)
}

func TestTwoTicksKeepDraftAndAppendNewMessage(t *testing.T) {
	assert := assert.New(t)
	fetcher := newFakeFetcher(thread("111", inbound("m1", "hi", base.Add(time.Minute))))
	loop := newTestLoop(t, fetcher, &fakeSender{})
	waitLoaded(t, loop)

	loop.Focus("111")
	loop.SetDraft("half typed")
	assert.Equal([]string{"m1"}, focusedIDs(loop.Snapshot()))

	fetcher.set(thread("111",
		inbound("m1", "hi", base.Add(time.Minute)),
		inbound("m2", "are you there?", base.Add(6*time.Minute)),
	))
	loop.Refresh()

	require.Eventually(t, func() bool {
		return len(focusedIDs(loop.Snapshot())) == 2
	}, waitFor, pollEvery)

	state := loop.Snapshot()
	assert.Equal([]string{"m1", "m2"}, focusedIDs(state))
	assert.Equal("half typed", state.Draft)
	assert.Equal("are you there?", state.Focused.Preview)
	assert.Equal(2, state.Focused.UnreadCount)
}

func TestFocusFollowsKeyWhenOrderChanges(t *testing.T) {
	fetcher := newFakeFetcher(
		thread("111", inbound("m1", "one", base.Add(2*time.Minute))),
		thread("222", inbound("x1", "two", base.Add(time.Minute))),
	)
	loop := newTestLoop(t, fetcher, &fakeSender{})
	waitLoaded(t, loop)
	loop.Focus("222")

	fetcher.set(
		thread("111", inbound("m1", "one", base.Add(2*time.Minute))),
		thread("222", inbound("x1", "two", base.Add(time.Minute)), inbound("x2", "three", base.Add(3*time.Minute))),
	)
	loop.Refresh()

	require.Eventually(t, func() bool {
		state := loop.Snapshot()
		return len(state.Conversations) == 2 && state.Conversations[0].ConversationKey == "222"
	}, waitFor, pollEvery)
	state := loop.Snapshot()
	require.NotNil(t, state.Focused)
	assert.Equal(t, model.ConversationKey("222"), state.Focused.ConversationKey)
	assert.Equal(t, "three", state.Focused.Preview)
}

func TestLoadingThenRefreshing(t *testing.T) {
	assert := assert.New(t)
	fetcher := newFakeFetcher(thread("111"))
	first := fetcher.gate(1)
	second := fetcher.gate(2)

	loop := newTestLoop(t, fetcher, &fakeSender{})
	state := loop.Snapshot()
	assert.True(state.Loading)
	assert.False(state.Refreshing)

	close(first)
	waitLoaded(t, loop)

	loop.Refresh()
	require.Eventually(t, func() bool { return loop.Snapshot().Refreshing }, waitFor, pollEvery)
	state = loop.Snapshot()
	assert.False(state.Loading)
	assert.Len(state.Conversations, 1)

	close(second)
	waitLoaded(t, loop)
}

func TestFetchErrorKeepsLastGoodState(t *testing.T) {
	assert := assert.New(t)
	fetcher := newFakeFetcher(thread("111", inbound("m1", "hi", base)))
	fetcher.errs[2] = errors.New("connection refused")

	loop := newTestLoop(t, fetcher, &fakeSender{})
	waitLoaded(t, loop)

	loop.Refresh()
	require.Eventually(t, func() bool { return loop.Snapshot().Err != nil }, waitFor, pollEvery)
	state := loop.Snapshot()
	assert.Len(state.Conversations, 1)
	assert.False(state.Loading)

	loop.Refresh()
	require.Eventually(t, func() bool { return loop.Snapshot().Err == nil }, waitFor, pollEvery)
}

func TestStaleFetchIsDropped(t *testing.T) {
	fetcher := newFakeFetcher(thread("111", inbound("m1", "old", base)))
	loop := newTestLoop(t, fetcher, &fakeSender{})
	waitLoaded(t, loop)
	loop.Focus("111")

	slow := fetcher.gate(2)
	loop.Refresh()
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, waitFor, pollEvery)

	fetcher.set(thread("111", inbound("m1", "old", base), inbound("m2", "new", base.Add(time.Minute))))
	loop.Refresh()
	require.Eventually(t, func() bool { return len(focusedIDs(loop.Snapshot())) == 2 }, waitFor, pollEvery)

	close(slow)
	waitLoaded(t, loop)
	assert.Equal(t, []string{"m1", "m2"}, focusedIDs(loop.Snapshot()))
}

func TestOptimisticSendIsReplacedNotDuplicated(t *testing.T) {
	assert := assert.New(t)
	fetcher := newFakeFetcher(thread("111", inbound("m1", "hi", base)))
	gate := make(chan struct{})
	sender := &fakeSender{gate: gate, next: "ext-1"}
	sender.onOK = func(key model.ConversationKey, text string, id model.ExternalID) {
		fetcher.set(thread("111", inbound("m1", "hi", base), outbound(string(id), text, base.Add(10*time.Minute))))
	}

	loop := newTestLoop(t, fetcher, sender)
	waitLoaded(t, loop)
	loop.Focus("111")
	loop.SetDraft("hello")

	tempID, err := loop.SubmitDraft()
	require.NoError(t, err)
	assert.Contains(tempID, "temp-")

	state := loop.Snapshot()
	assert.Equal("", state.Draft)
	assert.Equal([]string{"m1", tempID}, focusedIDs(state))
	last := state.Focused.Messages[len(state.Focused.Messages)-1]
	assert.Equal(model.MessageStatusSending, last.Status)
	assert.True(last.Outbound)
	assert.Equal("hello", state.Focused.Preview)

	close(gate)

	require.Eventually(t, func() bool {
		state := loop.Snapshot()
		if state.Focused == nil || len(state.Focused.Messages) != 2 {
			return false
		}
		return state.Focused.Messages[1].TempID == ""
	}, waitFor, pollEvery)

	state = loop.Snapshot()
	assert.Equal([]string{"m1", "ext-1"}, focusedIDs(state))
	assert.Equal(model.MessageStatusSent, state.Focused.Messages[1].Status)
}

func TestSendFailureIsLocalized(t *testing.T) {
	assert := assert.New(t)
	fetcher := newFakeFetcher(
		thread("111", inbound("m1", "hi", base)),
		thread("222", inbound("x1", "yo", base)),
	)
	sender := &fakeSender{err: model.ErrorUnknownConversation}

	loop := newTestLoop(t, fetcher, sender)
	waitLoaded(t, loop)
	loop.Focus("111")

	tempID, err := loop.Send("hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state := loop.Snapshot()
		n := len(state.Focused.Messages)
		return state.Focused.Messages[n-1].Status == model.MessageStatusFailed
	}, waitFor, pollEvery)

	state := loop.Snapshot()
	assert.Len(state.Conversations, 2)
	assert.Nil(state.Err)
	assert.Equal([]string{"m1", tempID}, focusedIDs(state))
	assert.Equal(model.MessageStatusReceived, state.Focused.Messages[0].Status)

	sender.mu.Lock()
	sender.err = nil
	sender.next = "ext-2"
	sender.mu.Unlock()

	retryID, err := loop.Retry(tempID)
	require.NoError(t, err)
	assert.NotEqual(tempID, retryID)
	require.Eventually(t, func() bool {
		state := loop.Snapshot()
		n := len(state.Focused.Messages)
		return state.Focused.Messages[n-1].Status == model.MessageStatusSent
	}, waitFor, pollEvery)

	_, err = loop.Retry("temp-unknown")
	assert.ErrorIs(err, model.ErrorMessageNotFound)
}

func TestSendRequiresFocusAndText(t *testing.T) {
	loop := newTestLoop(t, newFakeFetcher(), &fakeSender{})

	_, err := loop.Send("hello")
	assert.ErrorIs(t, err, ErrorNoFocus)

	loop.Focus("111")
	_, err = loop.Send("   ")
	assert.ErrorIs(t, err, model.ErrorSendRejected)
}

func TestStopReleasesEverything(t *testing.T) {
	fetcher := newFakeFetcher(thread("111"))
	fetcher.gate(1)
	sender := &fakeSender{gate: make(chan struct{})}

	loop := New(fetcher, sender, Options{Interval: time.Millisecond})
	loop.Start(context.Background())
	loop.Focus("111")
	_, err := loop.Send("hello")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("stop did not return")
	}

	loop.Stop()
	_, err = loop.Send("again")
	assert.ErrorIs(t, err, ErrorNotRunning)
}

func TestParentCancellationEndsLoop(t *testing.T) {
	fetcher := newFakeFetcher(thread("111"))
	loop := New(fetcher, &fakeSender{}, Options{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	require.Eventually(t, func() bool { return fetcher.callCount() > 2 }, waitFor, pollEvery)
	cancel()

	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("stop did not return")
	}

	calls := fetcher.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount())
}

func TestOnChangeSeesLatestState(t *testing.T) {
	var mu sync.Mutex
	var states []State
	fetcher := newFakeFetcher(thread("111", inbound("m1", "hi", base)))

	loop := New(fetcher, &fakeSender{}, Options{
		Interval: time.Hour,
		OnChange: func(state State) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, state)
		},
	})
	loop.Start(context.Background())
	defer loop.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && len(states[len(states)-1].Conversations) == 1
	}, waitFor, pollEvery)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, states[0].Loading)
	assert.Equal(t, []view.ChatView(nil), states[0].Conversations)
}

func TestRestartAfterStopWithWorkInFlight(t *testing.T) {
	assert := assert.New(t)
	fetcher := newFakeFetcher(thread("111"))
	sender := &fakeSender{gate: make(chan struct{}), next: "ext-9"}

	loop := newTestLoop(t, fetcher, sender)
	waitLoaded(t, loop)
	loop.Focus("111")

	tempID, err := loop.Send("hello")
	require.NoError(t, err)
	fetcher.gate(2)
	loop.Refresh()
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, waitFor, pollEvery)

	loop.Stop()
	loop.Start(context.Background())
	require.Eventually(t, func() bool { return fetcher.callCount() >= 3 }, waitFor, pollEvery)
	waitLoaded(t, loop)

	state := loop.Snapshot()
	assert.False(state.Refreshing)
	require.NotNil(t, state.Focused)
	require.Len(t, state.Focused.Messages, 1)
	assert.Equal(tempID, state.Focused.Messages[0].TempID)
	assert.Equal(model.MessageStatusFailed, state.Focused.Messages[0].Status)

	sender.mu.Lock()
	sender.gate = nil
	sender.mu.Unlock()

	_, err = loop.Retry(tempID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ids := focusedIDs(loop.Snapshot())
		return len(ids) == 1 && ids[0] == "ext-9"
	}, waitFor, pollEvery)
}

func TestLateFetchErrorDoesNotOverrideNewerState(t *testing.T) {
	fetcher := newFakeFetcher(thread("111", inbound("m1", "old", base)))
	loop := newTestLoop(t, fetcher, &fakeSender{})
	waitLoaded(t, loop)
	loop.Focus("111")

	slow := fetcher.gate(2)
	fetcher.errs[2] = errors.New("timeout")
	loop.Refresh()
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, waitFor, pollEvery)

	fetcher.set(thread("111", inbound("m1", "old", base), inbound("m2", "new", base.Add(time.Minute))))
	loop.Refresh()
	require.Eventually(t, func() bool { return len(focusedIDs(loop.Snapshot())) == 2 }, waitFor, pollEvery)

	close(slow)
	waitLoaded(t, loop)
	state := loop.Snapshot()
	assert.Nil(t, state.Err)
	assert.Equal(t, []string{"m1", "m2"}, focusedIDs(state))
}

func TestRetryKeepsFailedEntryWhenStopped(t *testing.T) {
	assert := assert.New(t)
	fetcher := newFakeFetcher(thread("111"))
	sender := &fakeSender{err: errors.New("offline")}

	loop := newTestLoop(t, fetcher, sender)
	waitLoaded(t, loop)
	loop.Focus("111")

	tempID, err := loop.Send("hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		state := loop.Snapshot()
		return len(state.Focused.Messages) == 1 && state.Focused.Messages[0].Status == model.MessageStatusFailed
	}, waitFor, pollEvery)

	loop.Stop()
	_, err = loop.Retry(tempID)
	assert.ErrorIs(err, ErrorNotRunning)
	assert.Equal([]string{tempID}, focusedIDs(loop.Snapshot()))

	sender.mu.Lock()
	sender.err = nil
	sender.next = "ext-3"
	sender.mu.Unlock()

	loop.Start(context.Background())
	_, err = loop.Retry(tempID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ids := focusedIDs(loop.Snapshot())
		return len(ids) == 1 && ids[0] == "ext-3"
	}, waitFor, pollEvery)
}
