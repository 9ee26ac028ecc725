package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluffypony/universe/pkg/logging"
)

func TestTypeCategory(t *testing.T) {
	assert.Equal(t, "wallet", WalletBalanceChanged.Category())
	assert.Equal(t, "p2pool", P2PoolStatsUpdate.Category())
	assert.Equal(t, "unknown", Type("nodot").Category())
	assert.True(t, MiningBlockFound.Valid())
	assert.False(t, Type("mining.exploded").Valid())
	assert.Len(t, AllTypes, 11)
}

func TestNewEvent(t *testing.T) {
	e := New(MiningModeChanged, nil)
	assert.NotEmpty(t, e.ID)
	assert.NotNil(t, e.Data)
	assert.NotZero(t, e.Timestamp)
	assert.Equal(t, "", e.Severity())

	errEvent := New(AppError, map[string]interface{}{"severity": "warning"})
	assert.Equal(t, "warning", errEvent.Severity())
}

func TestFilterMatch(t *testing.T) {
	modeChanged := New(MiningModeChanged, map[string]interface{}{"new_mode": "eco"})
	balance := New(WalletBalanceChanged, map[string]interface{}{"available": "1.000000"})
	info := New(AppError, map[string]interface{}{"severity": "info"})
	fatal := New(AppError, map[string]interface{}{"severity": "error"})

	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{"default accepts all", DefaultFilter(), balance, true},
		{"category match", Filter{Categories: []string{"mining"}}, modeChanged, true},
		{"category mismatch", Filter{Categories: []string{"mining"}}, balance, false},
		{"event type restricts", Filter{Categories: []string{"all"}, EventTypes: []string{"mining.block_found"}}, modeChanged, false},
		{"event type selects", Filter{EventTypes: []string{"mining.mode_changed"}}, modeChanged, true},
		{"severity below minimum", Filter{MinSeverity: "warning"}, info, false},
		{"severity above minimum", Filter{MinSeverity: "warning"}, fatal, true},
		{"severity ignores other types", Filter{MinSeverity: "error"}, balance, true},
		{"expression true", Filter{Expression: `data.new_mode == "eco"`}, modeChanged, true},
		{"expression false", Filter{Expression: `category == "wallet"`}, modeChanged, false},
		{"expression missing key", Filter{Expression: `data.missing == "x"`}, modeChanged, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.filter.Compile()
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match(tt.event))
		})
	}
}

func TestFilterCompileErrors(t *testing.T) {
	bad := []Filter{
		{Categories: []string{"weather"}},
		{EventTypes: []string{"wallet.exploded"}},
		{MinSeverity: "panic"},
		{Expression: "type +"},
		{Expression: `"not a bool"`},
	}
	for _, f := range bad {
		_, err := f.Compile()
		assert.Error(t, err, "%+v", f)
	}
}

func mustMatcher(t *testing.T, f Filter) *Matcher {
	t.Helper()
	m, err := f.Compile()
	require.NoError(t, err)
	return m
}

func TestBusDelivers(t *testing.T) {
	bus := NewBus(4)
	mining := bus.Subscribe(mustMatcher(t, Filter{Categories: []string{"mining"}}))
	all := bus.Subscribe(mustMatcher(t, DefaultFilter()))
	assert.Equal(t, 2, bus.Subscribers())

	bus.Publish(New(MiningStatusChanged, nil))
	bus.Publish(New(WalletBalanceChanged, nil))

	assert.Len(t, mining.C, 1)
	assert.Len(t, all.C, 2)
	assert.Equal(t, uint64(1), mining.Delivered())

	mining.Close()
	// the buffered event survives the close
	e, open := <-mining.C
	assert.True(t, open)
	assert.Equal(t, MiningStatusChanged, e.Type)
	_, open = <-mining.C
	assert.False(t, open)
	assert.Equal(t, 1, bus.Subscribers())

	published, dropped := bus.Stats()
	assert.Equal(t, uint64(2), published)
	assert.Zero(t, dropped)
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	var hooked int
	bus := NewBus(2, WithDropHook(func(Event) { hooked++ }))
	sub := bus.Subscribe(mustMatcher(t, DefaultFilter()))

	for i := 0; i < 5; i++ {
		bus.Publish(New(AppStatusUpdate, nil))
	}

	assert.Equal(t, uint64(2), sub.Delivered())
	assert.Equal(t, uint64(3), sub.Dropped())
	assert.Equal(t, 3, hooked)
	_, dropped := bus.Stats()
	assert.Equal(t, uint64(3), dropped)
}

func TestBusCloseIsIdempotentWithSubscriptionClose(t *testing.T) {
	bus := NewBus(1)
	sub := bus.Subscribe(mustMatcher(t, DefaultFilter()))
	bus.Close()
	sub.Close()
	assert.Zero(t, bus.Subscribers())
}

func TestSubscriptionSetMatcher(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe(mustMatcher(t, Filter{Categories: []string{"wallet"}}))

	bus.Publish(New(NodeConnectionChanged, nil))
	assert.Len(t, sub.C, 0)

	sub.SetMatcher(mustMatcher(t, Filter{Categories: []string{"node"}}))
	bus.Publish(New(NodeConnectionChanged, nil))
	assert.Len(t, sub.C, 1)
}

type streamFixture struct {
	bus  *Bus
	srv  *httptest.Server
	conn *ws.Conn
	ctx  context.Context
}

func newStreamFixture(t *testing.T, opts ...StreamOption) *streamFixture {
	t.Helper()
	bus := NewBus(16)
	opts = append([]StreamOption{WithStreamLogger(logging.Nop())}, opts...)
	srv := httptest.NewServer(NewStreamServer(bus, opts...))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := ws.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(ws.StatusNormalClosure, "") })

	return &streamFixture{bus: bus, srv: srv, conn: conn, ctx: ctx}
}

func (f *streamFixture) send(t *testing.T, msg interface{}) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, f.conn.Write(f.ctx, ws.MessageText, data))
}

func (f *streamFixture) recv(t *testing.T) ServerMessage {
	t.Helper()
	_, data, err := f.conn.Read(f.ctx)
	require.NoError(t, err)
	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestStreamSubscribeAndReceive(t *testing.T) {
	f := newStreamFixture(t)

	f.send(t, map[string]interface{}{
		"type":   "subscribe",
		"filter": map[string]interface{}{"categories": []string{"mining"}},
	})
	reply := f.recv(t)
	require.Equal(t, MsgSubscribed, reply.Type)
	assert.NotEmpty(t, reply.ClientID)
	require.NotNil(t, reply.Filter)
	assert.Equal(t, []string{"mining"}, reply.Filter.Categories)

	require.Eventually(t, func() bool { return f.bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	f.bus.Publish(New(WalletBalanceChanged, nil))
	f.bus.Publish(New(MiningModeChanged, map[string]interface{}{"new_mode": "custom"}))

	msg := f.recv(t)
	require.Equal(t, MsgEvent, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, MiningModeChanged, msg.Event.Type)
	assert.Equal(t, "custom", msg.Event.Data["new_mode"])

	f.send(t, map[string]string{"type": "get_status"})
	status := f.recv(t)
	require.Equal(t, MsgStatus, status.Type)
	require.NotNil(t, status.Subscription)
	require.NotNil(t, status.EventsReceived)
	assert.Equal(t, uint64(1), *status.EventsReceived)

	f.send(t, map[string]string{"type": "unsubscribe"})
	assert.Equal(t, MsgUnsubscribed, f.recv(t).Type)
	assert.Equal(t, 0, f.bus.Subscribers())
}

func TestStreamControlMessages(t *testing.T) {
	f := newStreamFixture(t)

	f.send(t, map[string]string{"type": "ping"})
	assert.Equal(t, MsgPong, f.recv(t).Type)

	f.send(t, map[string]interface{}{"type": "update_filter", "filter": DefaultFilter()})
	reply := f.recv(t)
	assert.Equal(t, MsgError, reply.Type)
	assert.Equal(t, ErrCodeNotSubscribed, reply.Code)

	f.send(t, map[string]interface{}{"type": "subscribe", "filter": map[string]interface{}{"expression": "type +"}})
	reply = f.recv(t)
	assert.Equal(t, MsgError, reply.Type)
	assert.Equal(t, ErrCodeBadFilter, reply.Code)

	f.send(t, map[string]string{"type": "dance"})
	reply = f.recv(t)
	assert.Equal(t, ErrCodeUnknownMessage, reply.Code)

	require.NoError(t, f.conn.Write(f.ctx, ws.MessageText, []byte("{not json")))
	reply = f.recv(t)
	assert.Equal(t, ErrCodeBadMessage, reply.Code)
}

func TestStreamRejectsHost(t *testing.T) {
	bus := NewBus(1)
	stream := NewStreamServer(bus, WithStreamLogger(logging.Nop()), WithHostCheck(func(string) bool { return false }))
	srv := httptest.NewServer(stream)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, uint64(1), stream.Rejected())
}

func TestStreamServeLifecycle(t *testing.T) {
	stream := NewStreamServer(NewBus(1), WithStreamLogger(logging.Nop()))
	require.Nil(t, stream.Addr())
	require.NoError(t, stream.Listen("127.0.0.1:0"))
	require.NotNil(t, stream.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestStreamRefusesWhileUnavailable(t *testing.T) {
	stream := NewStreamServer(NewBus(1), WithStreamLogger(logging.Nop()), WithAvailability(func() bool { return false }))
	srv := httptest.NewServer(stream)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, uint64(1), stream.Rejected())
}

func TestStreamWithholdsEventsWhileUnavailable(t *testing.T) {
	var available atomic.Bool
	var checks atomic.Int64
	available.Store(true)
	f := newStreamFixture(t, WithAvailability(func() bool {
		v := available.Load()
		checks.Add(1)
		return v
	}))

	f.send(t, map[string]string{"type": "subscribe"})
	require.Equal(t, MsgSubscribed, f.recv(t).Type)
	require.Eventually(t, func() bool { return f.bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	available.Store(false)
	before := checks.Load()
	f.bus.Publish(New(WalletBalanceChanged, map[string]interface{}{"available": "123"}))
	// the forwarder has looked at the event and withheld it
	require.Eventually(t, func() bool { return checks.Load() > before }, time.Second, 5*time.Millisecond)

	f.send(t, map[string]string{"type": "subscribe"})
	reply := f.recv(t)
	assert.Equal(t, MsgError, reply.Type)
	assert.Equal(t, ErrCodeUnavailable, reply.Code)

	available.Store(true)
	f.bus.Publish(New(MiningStatusChanged, nil))
	msg := f.recv(t)
	require.Equal(t, MsgEvent, msg.Type)
	assert.Equal(t, MiningStatusChanged, msg.Event.Type)
}

func TestStreamDisconnect(t *testing.T) {
	bus := NewBus(4)
	stream := NewStreamServer(bus, WithStreamLogger(logging.Nop()))
	srv := httptest.NewServer(stream)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(ws.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return stream.Clients() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, stream.Disconnect("going away"))

	_, _, err = conn.Read(ctx)
	assert.Equal(t, ws.StatusPolicyViolation, ws.CloseStatus(err))
	require.Eventually(t, func() bool { return stream.Clients() == 0 }, time.Second, 10*time.Millisecond)
}
