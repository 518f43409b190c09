package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/guzus/dr-manhattan-sub000/internal/model"
	"github.com/guzus/dr-manhattan-sub000/internal/state"
)

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	subs       []model.SubscribeMessage
	texts      []string

	messages chan TimestampedMessage
	errs     chan error
	closed   chan struct{}
	once     sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages: make(chan TimestampedMessage, 16),
		errs:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Close() error {
	f.once.Do(func() {
		close(f.closed)
		close(f.messages) // the worker exits on a closed message channel
	})
	return nil
}

func (f *fakeClient) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var sub model.SubscribeMessage
	if err := json.Unmarshal(data, &sub); err != nil {
		return err
	}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) SendText(text string) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }

func (f *fakeClient) Errors() <-chan error { return f.errs }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) subscriptions() []model.SubscribeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.SubscribeMessage, len(f.subs))
	copy(out, f.subs)
	return out
}

type nullDispatcher struct{}

func (nullDispatcher) DispatchRaw(raw []byte) {}

// clientFactory hands out fake clients in order and records them.
type clientFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	prep    func(i int, c *fakeClient)
}

func (cf *clientFactory) next() Client {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	c := newFakeClient()
	if cf.prep != nil {
		cf.prep(len(cf.clients), c)
	}
	cf.clients = append(cf.clients, c)
	return c
}

func (cf *clientFactory) count() int {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return len(cf.clients)
}

func (cf *clientFactory) client(i int) *fakeClient {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.clients[i]
}

func metasFor(ids ...string) map[string]model.AssetMeta {
	m := make(map[string]model.AssetMeta, len(ids))
	for _, id := range ids {
		m[id] = model.AssetMeta{AssetID: id}
	}
	return m
}

func testManager(st *state.State, cf *clientFactory) *Manager {
	m := NewManager(ManagerConfig{
		FeedURL:        "wss://example.com/ws",
		PingInterval:   time.Hour, // keepalive not under test
		ReconnectDelay: 5 * time.Millisecond,
		IdleWait:       5 * time.Millisecond,
		DriftPoll:      5 * time.Millisecond,
		StopTimeout:    time.Second,
	}, st, nullDispatcher{}, nil)
	m.newClient = cf.next
	return m
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestManagerSubscribesDesiredSet(t *testing.T) {
	st := state.New(0, 0)
	st.ReplaceDesired(metasFor("a", "b"))

	cf := &clientFactory{}
	m := testManager(st, cf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return cf.count() >= 1 && len(cf.client(0).subscriptions()) >= 1 }, "no subscription sent")

	sub := cf.client(0).subscriptions()[0]
	if sub.Type != "MARKET" {
		t.Errorf("sub.Type = %q, want MARKET", sub.Type)
	}
	ids := append([]string(nil), sub.AssetsIDs...)
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("subscribed ids = %v, want [a b]", ids)
	}

	cancel()
	<-done
}

func TestManagerRollsOnDrift(t *testing.T) {
	st := state.New(0, 0)
	st.ReplaceDesired(metasFor("a"))

	cf := &clientFactory{}
	m := testManager(st, cf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return cf.count() >= 1 && len(cf.client(0).subscriptions()) >= 1 }, "first generation never came up")

	// Desired set changes; the manager must roll a new generation carrying
	// the full replacement watch set.
	st.ReplaceDesired(metasFor("a", "b"))

	waitFor(t, func() bool { return cf.count() >= 2 && len(cf.client(1).subscriptions()) >= 1 }, "no rollover after drift")

	sub := cf.client(1).subscriptions()[0]
	ids := append([]string(nil), sub.AssetsIDs...)
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("rollover subscription = %v, want full set [a b]", ids)
	}

	// The old generation is retired only after the new one is live.
	waitFor(t, func() bool {
		select {
		case <-cf.client(0).closed:
			return true
		default:
			return false
		}
	}, "previous generation never stopped")

	cancel()
	<-done
}

func TestManagerReconnectsAfterDeath(t *testing.T) {
	st := state.New(0, 0)
	st.ReplaceDesired(metasFor("a"))

	cf := &clientFactory{}
	m := testManager(st, cf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return cf.count() >= 1 && len(cf.client(0).subscriptions()) >= 1 }, "first generation never came up")

	// Simulate the feed dropping the connection.
	cf.client(0).errs <- errors.New("connection reset")

	waitFor(t, func() bool { return cf.count() >= 2 && len(cf.client(1).subscriptions()) >= 1 }, "no reconnect after connection death")

	cancel()
	<-done
}

func TestManagerBacksOffAfterConnectFailure(t *testing.T) {
	st := state.New(0, 0)
	st.ReplaceDesired(metasFor("a"))

	cf := &clientFactory{
		prep: func(i int, c *fakeClient) {
			if i == 0 {
				c.connectErr = errors.New("dial refused")
			}
		},
	}
	m := testManager(st, cf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// The failed generation is retried with a fresh client.
	waitFor(t, func() bool { return cf.count() >= 2 && len(cf.client(1).subscriptions()) >= 1 }, "no retry after connect failure")

	cancel()
	<-done
}

func TestManagerIdlesOnEmptyDesiredSet(t *testing.T) {
	st := state.New(0, 0)

	cf := &clientFactory{}
	m := testManager(st, cf)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if cf.count() != 0 {
		t.Errorf("clients created = %d, want 0 while desired set is empty", cf.count())
	}

	// Assets appear; the manager wakes and subscribes.
	st.ReplaceDesired(metasFor("a"))
	waitFor(t, func() bool { return cf.count() >= 1 }, "manager never woke from idle")

	cancel()
	<-done
}
