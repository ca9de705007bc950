package syncloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"

	"wainbox/internal/model"
	"wainbox/internal/view"
)

const (
	DefaultInterval     = 5 * time.Second
	DefaultRefreshDelay = 500 * time.Millisecond
)

var (
	ErrorNotRunning = errors.New("sync loop not running")
	ErrorNoFocus    = errors.New("no conversation focused")
)

type Fetcher interface {
	Fetch(ctx context.Context) ([]model.Thread, error)
}

type Sender interface {
	Send(ctx context.Context, key model.ConversationKey, text string) (model.ExternalID, error)
}

type Options struct {
	Interval     time.Duration
	RefreshDelay time.Duration
	Now          func() time.Time
	// OnChange receives every new state. Calls are serialized; it must not
	// call back into methods of the loop other than Snapshot.
	OnChange func(State)
}

// State is what a view renders. Loading is only true until the first fetch
// completes; later fetches surface through Refreshing.
type State struct {
	Loading       bool
	Refreshing    bool
	Conversations []view.ChatView
	FocusKey      model.ConversationKey
	Focused       *view.ChatView
	Draft         string
	Err           error
}

type pending struct {
	tempID      string
	key         model.ConversationKey
	text        string
	submittedAt time.Time
	status      model.MessageStatus
	externalID  model.ExternalID
	retrying    bool
}

// Loop polls the store on a fixed interval and keeps a projected view of it,
// with sends overlaid until the store reports them.
type Loop struct {
	fetcher Fetcher
	sender  Sender
	opts    Options

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	loaded   bool
	inflight int
	seq      uint64
	applied  uint64
	threads  []model.Thread
	chats    []view.ChatView
	err      error
	focus    model.ConversationKey
	draft    string
	pending  []*pending
	refresh  chan struct{}

	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

func New(fetcher Fetcher, sender Sender, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = DefaultRefreshDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loop{
		fetcher: fetcher,
		sender:  sender,
		opts:    opts,
		refresh: make(chan struct{}, 1),
	}
}

// Start fetches immediately and then on every interval until Stop is called or
// ctx is done.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.running = true
	runCtx := l.ctx
	l.wg.Add(1)
	l.mu.Unlock()

	l.notify()
	go l.run(runCtx)
}

// Stop cancels the loop, its fetches and its sends, and waits for them.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		case <-l.refresh:
			l.tick(ctx)
		}
	}
}

// tick starts one fetch. Fetches run concurrently so a stalled one only holds
// back its own result; a result older than one already applied is dropped.
func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.inflight++
	l.mu.Unlock()
	l.notify()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		threads, err := l.fetcher.Fetch(ctx)
		if ctx.Err() != nil {
			l.mu.Lock()
			l.inflight--
			l.mu.Unlock()
			return
		}
		l.apply(seq, threads, err)
	}()
}

func (l *Loop) apply(seq uint64, threads []model.Thread, err error) {
	l.mu.Lock()
	l.inflight--
	l.loaded = true
	switch {
	case seq <= l.applied:
		log.Debugf("syncloop: fetch %d older than applied %d dropped", seq, l.applied)
	case err != nil:
		log.Warnf("syncloop: fetch %d: %v", seq, err)
		l.err = err
	default:
		l.applied = seq
		l.err = nil
		l.threads = threads
		l.chats = view.ProjectAll(threads, l.opts.Now())
		l.dropConfirmed()
	}
	l.mu.Unlock()
	l.notify()
}

// dropConfirmed removes overlay entries whose external id the last fetch
// contains. Callers hold l.mu.
func (l *Loop) dropConfirmed() {
	if len(l.pending) == 0 {
		return
	}
	known := make(map[model.ExternalID]bool)
	for i := range l.threads {
		for j := range l.threads[i].Messages {
			known[l.threads[i].Messages[j].ExternalID] = true
		}
	}
	kept := l.pending[:0]
	for _, p := range l.pending {
		if p.externalID != "" && known[p.externalID] {
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(l.pending); i++ {
		l.pending[i] = nil
	}
	l.pending = kept
}

// Refresh asks for a fetch now. Requests made while one is queued coalesce.
func (l *Loop) Refresh() {
	select {
	case l.refresh <- struct{}{}:
	default:
	}
}

func (l *Loop) Focus(key model.ConversationKey) {
	l.mu.Lock()
	l.focus = key
	l.mu.Unlock()
	l.notify()
}

func (l *Loop) Unfocus() {
	l.Focus("")
}

func (l *Loop) SetDraft(text string) {
	l.mu.Lock()
	l.draft = text
	l.mu.Unlock()
	l.notify()
}

// SubmitDraft sends the draft to the focused conversation and clears it.
func (l *Loop) SubmitDraft() (string, error) {
	l.mu.Lock()
	text := l.draft
	l.mu.Unlock()

	tempID, err := l.Send(text)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	if l.draft == text {
		l.draft = ""
	}
	l.mu.Unlock()
	l.notify()
	return tempID, nil
}

// Send overlays text on the focused conversation as a sending message and
// dispatches it in the background. It returns the overlay's temporary id.
func (l *Loop) Send(text string) (string, error) {
	l.mu.Lock()
	key := l.focus
	l.mu.Unlock()
	if key == "" {
		return "", ErrorNoFocus
	}
	return l.SendTo(key, text)
}

func (l *Loop) SendTo(key model.ConversationKey, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty message", model.ErrorSendRejected)
	}

	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return "", ErrorNotRunning
	}
	ctx := l.ctx
	p := &pending{
		tempID:      "temp-" + cuid2.Generate(),
		key:         key,
		text:        text,
		submittedAt: l.opts.Now(),
		status:      model.MessageStatusSending,
	}
	l.pending = append(l.pending, p)
	l.wg.Add(1)
	l.mu.Unlock()
	l.notify()

	go l.dispatch(ctx, p)
	return p.tempID, nil
}

func (l *Loop) dispatch(ctx context.Context, p *pending) {
	defer l.wg.Done()

	externalID, err := l.sender.Send(ctx, p.key, p.text)
	if ctx.Err() != nil {
		// Outcome unknown; leave it retryable.
		l.mu.Lock()
		p.status, _ = model.Advance(p.status, model.MessageStatusFailed)
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	if err != nil {
		log.Warnf("syncloop: send %s to %s: %v", p.tempID, p.key, err)
		p.status, _ = model.Advance(p.status, model.MessageStatusFailed)
	} else {
		p.status, _ = model.Advance(p.status, model.MessageStatusSent)
		p.externalID = externalID
		l.dropConfirmed()
	}
	l.mu.Unlock()
	l.notify()

	if err != nil {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(l.opts.RefreshDelay):
		l.Refresh()
	}
}

// Retry resends a failed overlay entry as a new send. The failed entry is
// only replaced once the new send has been accepted.
func (l *Loop) Retry(tempID string) (string, error) {
	l.mu.Lock()
	var found *pending
	for _, p := range l.pending {
		if p.tempID == tempID && p.status == model.MessageStatusFailed && !p.retrying {
			found = p
			break
		}
	}
	if found == nil {
		l.mu.Unlock()
		return "", fmt.Errorf("retrying %s: %w", tempID, model.ErrorMessageNotFound)
	}
	found.retrying = true
	l.mu.Unlock()

	newID, err := l.SendTo(found.key, found.text)

	l.mu.Lock()
	if err != nil {
		found.retrying = false
	} else {
		l.remove(found)
	}
	l.mu.Unlock()
	l.notify()

	if err != nil {
		return "", fmt.Errorf("retrying %s: %w", tempID, err)
	}
	return newID, nil
}

// remove drops p from the overlay. Callers hold l.mu.
func (l *Loop) remove(p *pending) {
	for i := range l.pending {
		if l.pending[i] == p {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return
		}
	}
}

// Dismiss drops a failed overlay entry.
func (l *Loop) Dismiss(tempID string) {
	l.mu.Lock()
	kept := l.pending[:0]
	for _, p := range l.pending {
		if p.tempID == tempID && p.status == model.MessageStatusFailed {
			continue
		}
		kept = append(kept, p)
	}
	l.pending = kept
	l.mu.Unlock()
	l.notify()
}

// Snapshot returns the current state. The returned views must be treated as
// read-only.
func (l *Loop) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := State{
		Loading:       l.running && !l.loaded,
		Refreshing:    l.loaded && l.inflight > 0,
		Conversations: append([]view.ChatView(nil), l.chats...),
		FocusKey:      l.focus,
		Draft:         l.draft,
		Err:           l.err,
	}
	if l.focus == "" {
		return state
	}
	for i := range l.chats {
		if l.chats[i].ConversationKey != l.focus {
			continue
		}
		focused := l.chats[i].Append(l.overlay(l.focus)...)
		state.Focused = &focused
		break
	}
	return state
}

func (l *Loop) overlay(key model.ConversationKey) []view.MessageView {
	var rows []view.MessageView
	loc := l.opts.Now().Location()
	for _, p := range l.pending {
		if p.key != key {
			continue
		}
		rows = append(rows, view.MessageView{
			TempID:     p.tempID,
			ExternalID: p.externalID,
			Text:       p.text,
			Outbound:   true,
			Time:       p.submittedAt.In(loc).Format(view.ClockLayout),
			Status:     p.status,
			OccurredAt: p.submittedAt,
		})
	}
	return rows
}

func (l *Loop) notify() {
	if l.opts.OnChange == nil {
		return
	}
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	l.opts.OnChange(l.Snapshot())
}
