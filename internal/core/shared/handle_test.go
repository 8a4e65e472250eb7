package shared

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/sharemesh-go/internal/bus/memory"
	"github.com/yndnr/sharemesh-go/internal/storage"
	"github.com/yndnr/sharemesh-go/internal/telemetry/logger"
)

type user struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

// recordingBus counts publications per topic and can be made to fail.
type recordingBus struct {
	*memory.Bus

	mu          sync.Mutex
	published   map[string]int
	failPublish atomic.Bool
}

func newRecordingBus() *recordingBus {
	return &recordingBus{Bus: memory.New(), published: make(map[string]int)}
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.failPublish.Load() {
		return errors.New("bus down")
	}
	b.mu.Lock()
	b.published[topic]++
	b.mu.Unlock()
	return b.Bus.Publish(ctx, topic, payload)
}

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[topic]
}

// faultyStore fails Get or Set on demand.
type faultyStore struct {
	storage.Store
	getErr error
	setErr error
}

func (s *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, key, value)
}

type countingMetrics struct {
	mu       sync.Mutex
	opened   int
	closed   int
	events   map[string]int
	failures int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{events: make(map[string]int)}
}

func (m *countingMetrics) HandleOpened(string) {
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
}

func (m *countingMetrics) HandleClosed(string) {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
}

func (m *countingMetrics) PersistFailed(string) {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

func (m *countingMetrics) HandleEvent(_, event string) {
	m.mu.Lock()
	m.events[event]++
	m.mu.Unlock()
}

func newHandle[T any](t *testing.T, b *recordingBus, opts ...Option[T]) *Handle[T] {
	t.Helper()
	opts = append([]Option[T]{WithLogger[T](logger.Discard())}, opts...)
	h, err := New(context.Background(), b, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(h.Destroy)
	return h
}

func mustGet[T any](t *testing.T, h *Handle[T]) T {
	t.Helper()
	v, ok := h.Get()
	if !ok {
		t.Fatalf("handle %s: value undefined", h.ID())
	}
	return v
}

func publish(t *testing.T, b *recordingBus, topic string, payload string) {
	t.Helper()
	if err := b.Publish(context.Background(), topic, []byte(payload)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestHandle_JoinSyncsFromPeer(t *testing.T) {
	b := newRecordingBus()
	waradu := user{Name: "Waradu", Age: 31}

	a := newHandle(t, b, WithKey[user]("user"), WithInitialData(waradu))
	bh := newHandle(t, b, WithKey[user]("user"))

	if got := mustGet(t, bh); got != waradu {
		t.Errorf("B value = %+v, want %+v", got, waradu)
	}
	if !bh.IsSynced() {
		t.Error("B should be synced after the handshake")
	}
	if a.IsSynced() {
		t.Error("A received no sync response and should stay unsynced")
	}
	if initial, ok := bh.InitialData(); !ok || initial != waradu {
		t.Errorf("B initial = (%+v, %v), want A's initial data", initial, ok)
	}
	if bh.LastUpdated().IsZero() {
		t.Error("B LastUpdated not set by the sync response")
	}
}

func TestHandle_Convergence(t *testing.T) {
	b := newRecordingBus()
	a := newHandle(t, b, WithInitialData(1))
	h2 := newHandle[int](t, b)
	h3 := newHandle[int](t, b)

	if err := a.Set(context.Background(), 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for _, h := range []*Handle[int]{a, h2, h3} {
		if got := mustGet(t, h); got != 2 {
			t.Errorf("%s = %d, want 2", h.ID(), got)
		}
	}

	if err := h3.Set(context.Background(), 3); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for _, h := range []*Handle[int]{a, h2, h3} {
		if got := mustGet(t, h); got != 3 {
			t.Errorf("%s = %d, want 3", h.ID(), got)
		}
	}
}

func TestHandle_RemoteUpdateNotRebroadcast(t *testing.T) {
	b := newRecordingBus()
	a := newHandle(t, b, WithInitialData("light"))
	newHandle[string](t, b)
	newHandle[string](t, b)

	before := b.count(UpdateTopic(DefaultKey))
	if err := a.Set(context.Background(), "dark"); err != nil {
		t.Fatal(err)
	}
	if got := b.count(UpdateTopic(DefaultKey)) - before; got != 1 {
		t.Errorf("update publications = %d, want 1", got)
	}
}

func TestHandle_IgnoresOwnMessages(t *testing.T) {
	b := newRecordingBus()
	received := 0
	h := newHandle(t, b, WithInitialData(1), WithHooks(Hooks[int]{
		UpdateReceived: func(int) { received++ },
		SyncReceived:   func(int) { received++ },
	}))

	own, _ := json.Marshal(Envelope[int]{ID: h.ID(), Data: ptr(99)})
	publish(t, b, UpdateTopic(DefaultKey), string(own))
	h.onSyncResponse(own)
	h.onSyncRequest(own)

	if got := mustGet(t, h); got != 1 {
		t.Errorf("value = %d, want 1", got)
	}
	if received != 0 {
		t.Errorf("hooks fired %d times for own messages", received)
	}
	if h.IsSynced() {
		t.Error("own sync response must not mark the handle synced")
	}
}

func TestHandle_SyncResponseIdempotent(t *testing.T) {
	b := newRecordingBus()
	syncs := 0
	h := newHandle(t, b, WithInitialData(1), WithHooks(Hooks[int]{
		SyncReceived: func(int) { syncs++ },
	}))

	resp, _ := json.Marshal(Envelope[int]{ID: "shv-peer", Data: ptr(5), InitialData: ptr(4)})
	h.onSyncResponse(resp)
	h.onSyncResponse(resp)

	if got := mustGet(t, h); got != 5 {
		t.Errorf("value = %d, want 5", got)
	}
	if initial, _ := h.InitialData(); initial != 4 {
		t.Errorf("initial = %d, want 4", initial)
	}
	if syncs != 1 {
		t.Errorf("SyncReceived fired %d times, want 1", syncs)
	}
	if !h.IsSynced() {
		t.Error("handle should be synced")
	}
}

func TestHandle_SyncResponseDoesNotBroadcast(t *testing.T) {
	b := newRecordingBus()
	newHandle(t, b, WithInitialData(7))

	before := b.count(UpdateTopic(DefaultKey))
	newHandle[int](t, b)
	if got := b.count(UpdateTopic(DefaultKey)) - before; got != 0 {
		t.Errorf("update publications during join = %d, want 0", got)
	}
}

func TestHandle_UndefinedPeerDoesNotAnswer(t *testing.T) {
	b := newRecordingBus()
	a := newHandle[int](t, b)
	h := newHandle[int](t, b)

	if _, ok := h.Get(); ok {
		t.Error("value should stay undefined")
	}
	if h.IsSynced() || a.IsSynced() {
		t.Error("no handle should be synced")
	}
	if got := b.count(ResponseTopic(DefaultKey, h.ID())); got != 0 {
		t.Errorf("responses = %d, want 0", got)
	}
}

func TestHandle_Reset(t *testing.T) {
	b := newRecordingBus()
	a := newHandle(t, b, WithInitialData(user{Name: "Waradu", Age: 31}))
	peer := newHandle[user](t, b)
	ctx := context.Background()

	if err := a.Update(ctx, func(u user) user { u.Age++; return u }); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, peer); got.Age != 32 {
		t.Fatalf("peer age = %d, want 32", got.Age)
	}

	before := b.count(UpdateTopic(DefaultKey))
	if err := a.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := b.count(UpdateTopic(DefaultKey)) - before; got != 1 {
		t.Errorf("broadcasts after reset = %d, want 1", got)
	}
	want := user{Name: "Waradu", Age: 31}
	if got := mustGet(t, a); got != want {
		t.Errorf("a = %+v, want %+v", got, want)
	}
	if got := mustGet(t, peer); got != want {
		t.Errorf("peer = %+v, want %+v", got, want)
	}
}

func TestHandle_ResetWithoutInitial(t *testing.T) {
	b := newRecordingBus()
	h := newHandle[int](t, b)
	ctx := context.Background()

	h.Set(ctx, 3)
	before := b.count(UpdateTopic(DefaultKey))
	if err := h.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, h); got != 3 {
		t.Errorf("value = %d, want 3", got)
	}
	if b.count(UpdateTopic(DefaultKey)) != before {
		t.Error("reset without initial value must not broadcast")
	}
}

func TestHandle_Destroy(t *testing.T) {
	b := newRecordingBus()
	m := newCountingMetrics()
	a := newHandle(t, b, WithInitialData(1))
	h := newHandle[int](t, b, WithMetrics[int](m))
	ctx := context.Background()

	var watched []int
	h.Watch(func(newV, _ int) { watched = append(watched, newV) })

	h.Destroy()
	h.Destroy()

	if m.opened != 1 || m.closed != 1 {
		t.Errorf("opened/closed = %d/%d, want 1/1", m.opened, m.closed)
	}
	if n := b.Subscribers(UpdateTopic(DefaultKey)); n != 1 {
		t.Errorf("update subscribers = %d, want 1 (only a)", n)
	}

	a.Set(ctx, 2)
	if got := mustGet(t, h); got != 1 {
		t.Errorf("destroyed handle applied update: %d", got)
	}
	publish(t, b, UpdateTopic(DefaultKey), `{"id":"shv-peer","data":9}`)
	if got := mustGet(t, h); got != 1 {
		t.Errorf("destroyed handle applied update: %d", got)
	}

	before := b.count(UpdateTopic(DefaultKey))
	if err := h.Set(ctx, 5); err != nil {
		t.Fatalf("local Set after Destroy: %v", err)
	}
	if got := mustGet(t, h); got != 5 {
		t.Errorf("local value = %d, want 5", got)
	}
	if b.count(UpdateTopic(DefaultKey)) != before {
		t.Error("destroyed handle must not broadcast")
	}
	if !reflect.DeepEqual(watched, []int{5}) {
		t.Errorf("watched = %v, want [5]", watched)
	}
	if err := h.Sync(ctx); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Sync after Destroy err = %v, want %v", err, ErrDestroyed)
	}
	if got := mustGet(t, a); got != 9 {
		t.Errorf("a = %d, want 9 from the peer update", got)
	}
}

func TestHandle_StorePrecedence(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.Set(ctx, "user", []byte(`{"name":"Stored","age":40}`))

	b := newRecordingBus()
	waradu := user{Name: "Waradu", Age: 31}
	h := newHandle(t, b, WithKey[user]("user"), WithInitialData(waradu), WithStore[user](store))

	if got := mustGet(t, h); got != (user{Name: "Stored", Age: 40}) {
		t.Errorf("value = %+v, want stored value", got)
	}
	if initial, _ := h.InitialData(); initial != waradu {
		t.Errorf("initial = %+v, want constructor data", initial)
	}
}

func TestHandle_StoreMissingKeepsInitial(t *testing.T) {
	b := newRecordingBus()
	h := newHandle(t, b, WithInitialData("a"), WithStore[string](storage.NewMemoryStore()))

	if got := mustGet(t, h); got != "a" {
		t.Errorf("value = %q, want %q", got, "a")
	}
}

func TestHandle_StoreReadError(t *testing.T) {
	store := &faultyStore{Store: storage.NewMemoryStore(), getErr: errors.New("disk gone")}
	b := newRecordingBus()

	_, err := New(context.Background(), b, WithStore[int](store), WithLogger[int](logger.Discard()))
	if !errors.Is(err, ErrStoreRead) {
		t.Fatalf("New err = %v, want %v", err, ErrStoreRead)
	}
	if n := b.Topics(); n != 0 {
		t.Errorf("failed construction left %d topics subscribed", n)
	}
}

func TestHandle_UndecodableStoredValue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.Set(ctx, DefaultKey, []byte("not json"))

	h := newHandle(t, newRecordingBus(), WithInitialData(3), WithStore[int](store))
	if got := mustGet(t, h); got != 3 {
		t.Errorf("value = %d, want 3", got)
	}
}

func TestHandle_Persists(t *testing.T) {
	ctx := context.Background()
	b := newRecordingBus()
	storeA := storage.NewMemoryStore()
	storeB := storage.NewMemoryStore()

	a := newHandle(t, b, WithKey[user]("user"), WithInitialData(user{Name: "A"}), WithStore[user](storeA))
	newHandle(t, b, WithKey[user]("user"), WithStore[user](storeB))

	raw, err := storeB.Get(ctx, "user")
	if err != nil {
		t.Fatalf("sync response not persisted: %v", err)
	}
	if string(raw) != `{"name":"A","age":0}` {
		t.Errorf("persisted = %s", raw)
	}

	a.Set(ctx, user{Name: "A2"})
	raw, _ = storeA.Get(ctx, "user")
	if string(raw) != `{"name":"A2","age":0}` {
		t.Errorf("broadcast not persisted: %s", raw)
	}
}

func TestHandle_PersistFailureSwallowed(t *testing.T) {
	store := &faultyStore{Store: storage.NewMemoryStore(), setErr: errors.New("read-only")}
	m := newCountingMetrics()
	sent := 0
	h := newHandle(t, newRecordingBus(),
		WithStore[int](store),
		WithMetrics[int](m),
		WithDebug[int](true),
		WithHooks(Hooks[int]{UpdateSent: func(int) { sent++ }}))

	if err := h.Set(context.Background(), 1); err != nil {
		t.Fatalf("Set returned persistence error: %v", err)
	}
	if m.failures != 1 {
		t.Errorf("persist failures = %d, want 1", m.failures)
	}
	if sent != 1 {
		t.Errorf("UpdateSent = %d, want 1", sent)
	}
}

func TestHandle_PublishError(t *testing.T) {
	b := newRecordingBus()
	h := newHandle[int](t, b)

	b.failPublish.Store(true)
	err := h.Set(context.Background(), 1)
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("Set err = %v, want %v", err, ErrPublish)
	}
	if got := mustGet(t, h); got != 1 {
		t.Errorf("value = %d, want 1 (local write kept)", got)
	}
	if !h.LastUpdated().IsZero() {
		t.Error("failed broadcast must not update LastUpdated")
	}
}

func TestHandle_MalformedPayloadsIgnored(t *testing.T) {
	b := newRecordingBus()
	m := newCountingMetrics()
	h := newHandle(t, b, WithInitialData(1), WithMetrics[int](m))

	for _, payload := range []string{
		``,
		`null`,
		`{`,
		`{"data":5}`,
		`{"id":"shv-peer"}`,
		`{"id":"shv-peer","data":"five"}`,
	} {
		publish(t, b, UpdateTopic(DefaultKey), payload)
	}

	if got := mustGet(t, h); got != 1 {
		t.Errorf("value = %d, want 1", got)
	}
	if m.events[EventDropped] != 5 {
		t.Errorf("dropped = %d, want 5", m.events[EventDropped])
	}
}

func TestHandle_Hooks(t *testing.T) {
	b := newRecordingBus()
	var calls []string
	hooks := func(name string) Hooks[int] {
		return Hooks[int]{
			UpdateSent:     func(v int) { calls = append(calls, name+":update_sent") },
			UpdateReceived: func(v int) { calls = append(calls, name+":update_received") },
			SyncSent:       func(v int) { calls = append(calls, name+":sync_sent") },
			SyncReceived:   func(v int) { calls = append(calls, name+":sync_received") },
		}
	}

	a := newHandle(t, b, WithInitialData(1), WithHooks(hooks("a")))
	newHandle(t, b, WithHooks(hooks("b")))
	a.Set(context.Background(), 2)

	// Hooks run after the publish that triggered them returns, so the
	// receiver's hook fires first on a synchronous bus.
	want := []string{
		"b:sync_received",
		"a:sync_sent",
		"b:update_received",
		"a:update_sent",
	}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestHandle_NoopRemoteWriteDoesNotSuppressNextLocalWrite(t *testing.T) {
	b := newRecordingBus()
	a := newHandle(t, b, WithInitialData(1))
	h := newHandle[int](t, b)

	// Same value as h already holds: the cell does not change.
	publish(t, b, UpdateTopic(DefaultKey), `{"id":"shv-peer","data":1}`)

	if err := h.Set(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, a); got != 2 {
		t.Errorf("a = %d, want 2: local write after a no-op remote update was not broadcast", got)
	}
}

func TestHandle_WatchMayReenter(t *testing.T) {
	b := newRecordingBus()
	a := newHandle(t, b, WithInitialData(0))
	h := newHandle[int](t, b)
	ctx := context.Background()

	// Clamp every value h sees to at most 10, from inside the watcher.
	h.Watch(func(newV, _ int) {
		if newV > 10 {
			if err := h.Set(ctx, 10); err != nil {
				t.Errorf("Set from watcher: %v", err)
			}
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Set(ctx, 50)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock: Set from watcher did not return")
	}

	if got := mustGet(t, h); got != 10 {
		t.Errorf("h = %d, want 10", got)
	}
	if got := mustGet(t, a); got != 10 {
		t.Errorf("a = %d, want 10", got)
	}
}

func TestHandle_LastUpdatedUsesClock(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := newHandle(t, newRecordingBus(), WithClock[int](func() time.Time { return now }))

	if !h.LastUpdated().IsZero() {
		t.Fatal("LastUpdated should be zero before any update")
	}
	h.Set(context.Background(), 1)
	if got := h.LastUpdated(); !got.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", got, now)
	}
}

func TestHandle_KeysAreIndependent(t *testing.T) {
	b := newRecordingBus()
	theme := newHandle(t, b, WithKey[string]("theme"), WithInitialData("dark"))
	lang := newHandle(t, b, WithKey[string]("lang"), WithInitialData("en"))
	themePeer := newHandle(t, b, WithKey[string]("theme"))

	lang.Set(context.Background(), "de")

	if got := mustGet(t, theme); got != "dark" {
		t.Errorf("theme = %q, want dark", got)
	}
	if got := mustGet(t, themePeer); got != "dark" {
		t.Errorf("theme peer = %q, want dark", got)
	}
}

func TestHandle_ExplicitSync(t *testing.T) {
	b := newRecordingBus()
	h := newHandle[int](t, b)
	ctx := context.Background()

	if err := h.Sync(ctx); err != nil {
		t.Fatalf("Sync on undefined value: %v", err)
	}
	if b.count(UpdateTopic(DefaultKey)) != 0 {
		t.Error("Sync with undefined value must not publish")
	}

	h.Set(ctx, 1)
	if err := h.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if got := b.count(UpdateTopic(DefaultKey)); got != 2 {
		t.Errorf("update publications = %d, want 2", got)
	}
}

func TestNew_InvalidKey(t *testing.T) {
	_, err := New(context.Background(), newRecordingBus(), WithKey[int](""))
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("err = %v, want %v", err, ErrInvalidKey)
	}
}

func TestNew_PublishError(t *testing.T) {
	b := newRecordingBus()
	b.failPublish.Store(true)

	_, err := New(context.Background(), b, WithLogger[int](logger.Discard()))
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("err = %v, want %v", err, ErrPublish)
	}
	if n := b.Topics(); n != 0 {
		t.Errorf("failed construction left %d topics subscribed", n)
	}
}

func TestHandle_ConcurrentSets(t *testing.T) {
	b := newRecordingBus()
	a := newHandle(t, b, WithInitialData(0))
	h := newHandle[int](t, b)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if v%2 == 0 {
				a.Set(ctx, v)
			} else {
				h.Set(ctx, v)
			}
		}(i)
	}
	wg.Wait()

	// Last-write-wins: both sides must agree once everything settled.
	a.Set(ctx, 100)
	if got := mustGet(t, h); got != 100 {
		t.Errorf("h = %d, want 100", got)
	}
}

// gatedBus holds the first armed publish on topic until release is closed.
type gatedBus struct {
	*memory.Bus
	topic   string
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == b.topic && b.armed.CompareAndSwap(true, false) {
		close(b.entered)
		<-b.release
	}
	return b.Bus.Publish(ctx, topic, payload)
}

func TestHandle_SlowPublishKeepsWriteOrder(t *testing.T) {
	ctx := context.Background()
	b := &gatedBus{
		Bus:     memory.New(),
		topic:   UpdateTopic(DefaultKey),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := storage.NewMemoryStore()

	a, err := New(ctx, b, WithLogger[int](logger.Discard()), WithInitialData(0), WithStore[int](store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Destroy()
	peer, err := New(ctx, b, WithLogger[int](logger.Discard()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer peer.Destroy()

	b.armed.Store(true)
	first := make(chan error, 1)
	go func() { first <- a.Set(ctx, 1) }()
	<-b.entered

	second := make(chan error, 1)
	go func() { second <- a.Set(ctx, 2) }()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if v, _ := a.Get(); v == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second Set never wrote the value")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-second:
		t.Fatal("second Set finished while the first was still publishing")
	default:
	}

	close(b.release)
	for _, ch := range []chan error{first, second} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("Set: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Set did not return")
		}
	}

	if got := mustGet(t, a); got != 2 {
		t.Errorf("a = %d, want 2", got)
	}
	if got := mustGet(t, peer); got != 2 {
		t.Errorf("peer = %d, want 2", got)
	}
	raw, err := store.Get(ctx, DefaultKey)
	if err != nil {
		t.Fatalf("store Get: %v", err)
	}
	if string(raw) != "2" {
		t.Errorf("stored = %s, want 2", raw)
	}
}

func TestHandle_NullValueStaysLocal(t *testing.T) {
	ctx := context.Background()
	b := newRecordingBus()
	a := newHandle(t, b, WithInitialData[any]("x"))

	before := b.count(UpdateTopic(DefaultKey))
	if err := a.Set(ctx, nil); err != nil {
		t.Fatalf("Set(nil): %v", err)
	}
	if err := a.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := b.count(UpdateTopic(DefaultKey)); got != before {
		t.Errorf("updates = %d, want %d", got, before)
	}
	if v, ok := a.Get(); !ok || v != nil {
		t.Errorf("a = %v (defined %v), want nil", v, ok)
	}

	h := newHandle[any](t, b)
	if got := b.count(ResponseTopic(DefaultKey, h.ID())); got != 0 {
		t.Errorf("responses = %d, want 0", got)
	}
	if h.IsSynced() {
		t.Error("joiner synced from a null value")
	}

	if err := a.Set(ctx, "y"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := mustGet(t, h); got != "y" {
		t.Errorf("h = %v, want y", got)
	}
}

func ptr[T any](v T) *T { return &v }
