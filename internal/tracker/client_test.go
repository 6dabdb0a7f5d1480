package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m1ndfucker/autotracker/internal/resilience"
	"github.com/m1ndfucker/autotracker/internal/state"
)

// fakeConn is a scriptable transport. Closing the inbound channel
// simulates the peer dropping the connection.
type fakeConn struct {
	inbound chan []byte
	writes  chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		writes:  make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal inbound: %v", err)
	}
	f.inbound <- data
}

func (f *fakeConn) pushRaw(data []byte) { f.inbound <- data }

func (f *fakeConn) drop() { close(f.inbound) }

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-f.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case f.writes <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("no connection available")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastBackoff() resilience.Backoff {
	return resilience.Backoff{BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func startClient(t *testing.T, dialer *fakeDialer, store *state.Store, password string, onDisconnect func()) *Client {
	t.Helper()
	c, err := New(Config{
		ServerURL:    "wss://tracker.example/ws",
		Profile:      "hunter",
		Password:     password,
		Store:        store,
		OnDisconnect: onDisconnect,
		Dialer:       dialer.dial,
		Backoff:      fastBackoff(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		c.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
	return c
}

func waitWrite(t *testing.T, conn *fakeConn) map[string]any {
	t.Helper()
	select {
	case data := <-conn.writes:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal write: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func expectNoWrite(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case data := <-conn.writes:
		t.Fatalf("unexpected outbound message: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitState(t *testing.T, c *Client, want ConnState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("client state = %v, want %v", c.State(), want)
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

func TestEndpointURL(t *testing.T) {
	got, err := endpointURL("wss://tracker.example/ws", "night hunter")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "bloodborne=true") || !strings.Contains(got, "profile=night+hunter") {
		t.Errorf("endpointURL = %q", got)
	}
}

func TestAutoAuthExactlyOncePerConnection(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	store := state.New()
	c := startClient(t, dialer, store, "secret", nil)

	// Snapshot without edit rights triggers exactly one auth request.
	conn.push(t, stateMessage{Type: msgState, Deaths: intPtr(3), CanEdit: boolPtr(false)})

	msg := waitWrite(t, conn)
	if msg["type"] != msgAuth {
		t.Fatalf("first write type = %v, want %s", msg["type"], msgAuth)
	}
	if msg["password"] != "secret" {
		t.Errorf("auth password = %v", msg["password"])
	}

	// Snapshot merged even while unauthenticated.
	if snap := store.Snapshot(); snap.Deaths != 3 {
		t.Errorf("deaths = %d, want 3 before auth completes", snap.Deaths)
	}

	conn.push(t, authResultMessage{Type: msgAuthResult, Success: true})
	waitState(t, c, StateAuthenticated)
	if snap := store.Snapshot(); !snap.CanEdit {
		t.Error("canEdit should be true after successful auth")
	}

	// Another right-less snapshot must not re-trigger auth.
	conn.push(t, stateMessage{Type: msgState, Deaths: intPtr(4), CanEdit: boolPtr(false)})
	expectNoWrite(t, conn)
}

func TestAnonymousEditRights(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := startClient(t, dialer, state.New(), "secret", nil)

	// Edit rights granted up front: no auth message goes out.
	conn.push(t, stateMessage{Type: msgState, CanEdit: boolPtr(true)})
	waitState(t, c, StateAuthenticated)
	expectNoWrite(t, conn)
}

func TestNoPasswordNoAuth(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	startClient(t, dialer, state.New(), "", nil)

	conn.push(t, stateMessage{Type: msgState, CanEdit: boolPtr(false)})
	expectNoWrite(t, conn)
}

func TestCommandsDroppedWhileUnauthenticated(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := startClient(t, dialer, state.New(), "", nil)

	waitState(t, c, StateConnected)
	if c.Dispatch(Command{Type: CmdDeath}) {
		t.Error("Dispatch should report drop while unauthenticated")
	}
	expectNoWrite(t, conn)
}

func TestCommandSentWhileAuthenticated(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := startClient(t, dialer, state.New(), "secret", nil)

	conn.push(t, stateMessage{Type: msgState, CanEdit: boolPtr(true)})
	waitState(t, c, StateAuthenticated)

	if !c.Dispatch(Command{Type: CmdBossVictory, Name: "Gascoigne"}) {
		t.Fatal("Dispatch should accept while authenticated")
	}
	msg := waitWrite(t, conn)
	if msg["type"] != string(CmdBossVictory) || msg["name"] != "Gascoigne" {
		t.Errorf("outbound = %v", msg)
	}
}

func TestConcurrentDispatchBothSent(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := startClient(t, dialer, state.New(), "secret", nil)

	conn.push(t, stateMessage{Type: msgState, CanEdit: boolPtr(true)})
	waitState(t, c, StateAuthenticated)

	var wg sync.WaitGroup
	for _, cmd := range []Command{{Type: CmdDeath}, {Type: CmdBossDeath}} {
		wg.Add(1)
		go func(cmd Command) {
			defer wg.Done()
			c.Dispatch(cmd)
		}(cmd)
	}
	wg.Wait()

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		msg := waitWrite(t, conn)
		got[msg["type"].(string)]++
	}
	if got[string(CmdDeath)] != 1 || got[string(CmdBossDeath)] != 1 {
		t.Errorf("sent commands = %v, want one of each", got)
	}
}

func TestMalformedInboundDiscardedConnectionAlive(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	store := state.New()
	startClient(t, dialer, store, "", nil)

	conn.pushRaw([]byte("{not json"))
	conn.pushRaw([]byte(`{"type":"bb-state","deaths":"not a number"}`))
	conn.push(t, stateMessage{Type: msgState, Deaths: intPtr(9)})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Snapshot().Deaths == 9 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("valid snapshot after malformed frames was not merged")
}

func TestTransportDropClearsFlagsOnceAndReconnects(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	store := state.New()

	transitions := map[state.Key]int{}
	var transitionsMu sync.Mutex
	store.Subscribe(func(k state.Key, v any) {
		if v == false {
			transitionsMu.Lock()
			transitions[k]++
			transitionsMu.Unlock()
		}
	})

	disconnects := make(chan struct{}, 4)
	c := startClient(t, dialer, store, "secret", func() { disconnects <- struct{}{} })

	first.push(t, stateMessage{Type: msgState, CanEdit: boolPtr(true)})
	waitState(t, c, StateAuthenticated)

	first.drop()

	select {
	case <-disconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not invoked")
	}

	// Exactly one reconnect gets scheduled and lands on the second conn.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && dialer.dialCount() < 2 {
		time.Sleep(time.Millisecond)
	}
	if got := dialer.dialCount(); got != 2 {
		t.Fatalf("dial count = %d, want 2", got)
	}
	waitState(t, c, StateConnected)

	transitionsMu.Lock()
	defer transitionsMu.Unlock()
	if transitions[state.KeyCanEdit] != 1 {
		t.Errorf("canEdit cleared %d times, want 1", transitions[state.KeyCanEdit])
	}
}

func TestCloseIsIdempotentAndTerminal(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := startClient(t, dialer, state.New(), "", nil)

	waitState(t, c, StateConnected)
	c.Close()
	c.Close() // second close is a no-op

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && c.State() != StateDisconnected {
		time.Sleep(time.Millisecond)
	}
	if c.State() != StateDisconnected {
		t.Errorf("state after Close = %v, want disconnected", c.State())
	}
	// No reconnect after a deliberate close.
	time.Sleep(50 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dial count after Close = %d, want 1", got)
	}
}
