// ABOUTME: Tests for the websocket relay
// ABOUTME: Drives a fake player through httptest and a real websocket client
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/chunkplay/pkg/chunkplay"
)

type fakePlayer struct {
	mu       sync.Mutex
	handlers map[chunkplay.EventName][]func(chunkplay.Event)
	calls    []string
	status   chunkplay.Status
	failWith error
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		handlers: make(map[chunkplay.EventName][]func(chunkplay.Event)),
		status: chunkplay.Status{
			State:   chunkplay.Ready,
			Mode:    chunkplay.ModeChunked,
			TrackID: "track-1",
			Volume:  80,
		},
	}
}

func (f *fakePlayer) On(name chunkplay.EventName, h func(chunkplay.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], h)
	idx := len(f.handlers[name]) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers[name][idx] = nil
	}
}

func (f *fakePlayer) fire(ev chunkplay.Event) {
	f.mu.Lock()
	hs := append([]func(chunkplay.Event){}, f.handlers[ev.Name]...)
	f.mu.Unlock()
	for _, h := range hs {
		if h != nil {
			h(ev)
		}
	}
}

func (f *fakePlayer) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failWith
}

func (f *fakePlayer) Play() error  { return f.record("play") }
func (f *fakePlayer) Pause() error { return f.record("pause") }
func (f *fakePlayer) Seek(t float64) error {
	return f.record("seek:" + jsonNumber(t))
}
func (f *fakePlayer) SetMode(ctx context.Context, m chunkplay.Mode, preset string) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline")
	}
	return f.record("mode:" + string(m) + "/" + preset)
}
func (f *fakePlayer) SetPreset(ctx context.Context, preset string) error {
	return f.record("preset:" + preset)
}
func (f *fakePlayer) SetVolume(v int) error {
	return f.record("volume:" + jsonNumber(float64(v)))
}
func (f *fakePlayer) Status() chunkplay.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakePlayer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func jsonNumber(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

type rig struct {
	player *fakePlayer
	relay  *Server
	http   *httptest.Server
}

func newRig(t *testing.T) *rig {
	t.Helper()
	player := newFakePlayer()
	relay := New(Config{}, player)
	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	return &rig{player: player, relay: relay, http: srv}
}

func (r *rig) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.http.URL, "http") + Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func readHello(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	msg := readMessage(t, conn)
	if msg.Type != TypeHello {
		t.Fatalf("expected %s, got %s", TypeHello, msg.Type)
	}
	var hello map[string]any
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		t.Fatalf("bad hello: %v", err)
	}
	return hello
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmd Command) Result {
	t.Helper()
	if err := conn.WriteJSON(Message{Type: TypeCommand, Payload: cmd}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != TypeResult {
		t.Fatalf("expected %s, got %s", TypeResult, msg.Type)
	}
	var res Result
	if err := json.Unmarshal(msg.Payload, &res); err != nil {
		t.Fatalf("bad result: %v", err)
	}
	return res
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHelloCarriesStatus(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)

	hello := readHello(t, conn)
	if id, _ := hello["client_id"].(string); len(id) != 36 {
		t.Errorf("expected uuid client id, got %v", hello["client_id"])
	}
	status, _ := hello["status"].(map[string]any)
	if status["state"] != "ready" || status["track_id"] != "track-1" || status["mode"] != "chunked" {
		t.Errorf("unexpected status %v", status)
	}
}

func TestCommands(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)
	readHello(t, conn)

	cmds := []Command{
		{ID: "1", Command: CommandPlay},
		{ID: "2", Command: CommandSeek, Position: 42.5},
		{ID: "3", Command: CommandVolume, Volume: 30},
		{ID: "4", Command: CommandSetMode, Mode: chunkplay.ModeEnhanced, Preset: "warm"},
		{ID: "5", Command: CommandSetPreset, Preset: "bright"},
		{ID: "6", Command: CommandPause},
	}
	for _, cmd := range cmds {
		res := sendCommand(t, conn, cmd)
		if !res.OK || res.ID != cmd.ID || res.Command != cmd.Command {
			t.Errorf("command %s: result %+v", cmd.Command, res)
		}
	}

	want := []string{"play", "seek:42.5", "volume:30", "mode:enhanced/warm", "preset:bright", "pause"}
	got := r.player.Calls()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestCommandErrors(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)
	readHello(t, conn)

	res := sendCommand(t, conn, Command{Command: "rewind"})
	if res.OK || !strings.Contains(res.Error, "unknown command") {
		t.Errorf("unknown command result %+v", res)
	}

	res = sendCommand(t, conn, Command{Command: CommandSetMode, Mode: "hls"})
	if res.OK || !strings.Contains(res.Error, "unknown mode") {
		t.Errorf("bad mode result %+v", res)
	}

	r.player.mu.Lock()
	r.player.failWith = chunkplay.ErrNoTrack
	r.player.mu.Unlock()
	res = sendCommand(t, conn, Command{Command: CommandPlay})
	if res.OK || res.Error != chunkplay.ErrNoTrack.Error() {
		t.Errorf("player error result %+v", res)
	}
}

func TestStatusCommand(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)
	readHello(t, conn)

	res := sendCommand(t, conn, Command{ID: "s", Command: CommandStatus})
	if !res.OK || res.Status == nil {
		t.Fatalf("status result %+v", res)
	}
	if res.Status.Volume != 80 || res.Status.TrackID != "track-1" {
		t.Errorf("status = %+v", res.Status)
	}
}

func TestInvalidMessage(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)
	readHello(t, conn)

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if msg := readMessage(t, conn); msg.Type != TypeError {
		t.Errorf("expected %s, got %s", TypeError, msg.Type)
	}

	conn.WriteJSON(Message{Type: "something/else"})
	if msg := readMessage(t, conn); msg.Type != TypeError {
		t.Errorf("expected %s, got %s", TypeError, msg.Type)
	}
}

func TestBroadcastEvents(t *testing.T) {
	r := newRig(t)
	a := r.dial(t)
	b := r.dial(t)
	readHello(t, a)
	readHello(t, b)
	waitFor(t, func() bool { return r.relay.ClientCount() == 2 })

	r.player.fire(chunkplay.Event{Name: chunkplay.EventStateChange, Old: chunkplay.Ready, New: chunkplay.Playing})
	r.player.fire(chunkplay.Event{Name: chunkplay.EventError, Err: errors.New("chunk 4 failed")})
	r.player.fire(chunkplay.Event{Name: chunkplay.EventTimeUpdate, CurrentTime: 0, Duration: 95})

	for _, conn := range []*websocket.Conn{a, b} {
		var events []map[string]any
		for i := 0; i < 3; i++ {
			msg := readMessage(t, conn)
			if msg.Type != TypeEvent {
				t.Fatalf("expected %s, got %s", TypeEvent, msg.Type)
			}
			var ev map[string]any
			json.Unmarshal(msg.Payload, &ev)
			events = append(events, ev)
		}

		if events[0]["name"] != "statechange" || events[0]["old"] != "ready" || events[0]["new"] != "playing" {
			t.Errorf("statechange = %v", events[0])
		}
		if events[1]["name"] != "error" || events[1]["error"] != "chunk 4 failed" {
			t.Errorf("error = %v", events[1])
		}
		if _, ok := events[2]["current_time"]; !ok || events[2]["duration"] != 95.0 {
			t.Errorf("timeupdate = %v", events[2])
		}
	}
}

func TestDisconnectRemovesClient(t *testing.T) {
	r := newRig(t)
	conn := r.dial(t)
	readHello(t, conn)
	waitFor(t, func() bool { return r.relay.ClientCount() == 1 })

	conn.Close()
	waitFor(t, func() bool { return r.relay.ClientCount() == 0 })

	// Broadcasting with no clients must not block or panic
	r.player.fire(chunkplay.Event{Name: chunkplay.EventEnded})
}

func TestCloseUnsubscribes(t *testing.T) {
	player := newFakePlayer()
	relay := New(Config{}, player)
	if err := relay.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	player.mu.Lock()
	defer player.mu.Unlock()
	for name, hs := range player.handlers {
		for _, h := range hs {
			if h != nil {
				t.Errorf("handler for %s still registered", name)
			}
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	r := newRig(t)

	resp, err := http.Get(r.http.URL + StatusPath)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if st.TrackID != "track-1" || st.Volume != 80 || st.State != chunkplay.Ready {
		t.Errorf("status = %+v", st)
	}
}

func TestHTTPCommands(t *testing.T) {
	r := newRig(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantOK   bool
	}{
		{"seek", `{"id":"a","command":"seek","position":12}`, http.StatusOK, true},
		{"unknown", `{"id":"b","command":"rewind"}`, http.StatusUnprocessableEntity, false},
		{"bad json", `{"command":`, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(r.http.URL+CommandsPath, "application/json", bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode == http.StatusBadRequest {
				return
			}
			var res Result
			if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if res.OK != tt.wantOK {
				t.Errorf("result = %+v", res)
			}
		})
	}

	if got := r.player.Calls(); len(got) != 1 || got[0] != "seek:12" {
		t.Errorf("calls = %v", got)
	}
}

func TestHTTPMethodNotAllowed(t *testing.T) {
	r := newRig(t)

	resp, err := http.Post(r.http.URL+StatusPath, "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d", resp.StatusCode)
	}
}
