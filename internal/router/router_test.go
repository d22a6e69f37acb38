package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"xrlink/internal/history"
	"xrlink/internal/presence"
	"xrlink/internal/websocket"
	"xrlink/pkg/types"
)

var testUpgrader = gorillaws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// rig wires a registry, history buffer, notifier, and router around a
// real WebSocket server so routing is exercised over actual sockets.
// Frames are injected through HandleFrame with the server-side
// connection as the sender, exactly as the read pump would.
type rig struct {
	registry *websocket.Registry
	hist     *history.Buffer
	router   *Router
	server   *httptest.Server
	connCh   chan *websocket.Connection
}

func newRig(t *testing.T) *rig {
	registry := websocket.NewRegistry()
	hist := history.NewBuffer(100)
	notifier := presence.NewNotifier(registry, zerolog.Nop())

	rg := &rig{
		registry: registry,
		hist:     hist,
		router:   NewRouter(registry, hist, notifier, types.DefaultRoleMap(), zerolog.Nop()),
		connCh:   make(chan *websocket.Connection, 16),
	}

	rg.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgraded, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		conn := websocket.NewConnection(upgraded, 100, time.Second)
		if err := registry.Admit(conn); err != nil {
			t.Errorf("Admit failed: %v", err)
			return
		}
		rg.connCh <- conn
	}))
	t.Cleanup(rg.server.Close)

	return rg
}

// client pairs the dialer-side socket with its server-side connection.
type client struct {
	sock *gorillaws.Conn
	conn *websocket.Connection
}

func (r *rig) connect(t *testing.T) *client {
	t.Helper()

	url := "ws" + strings.TrimPrefix(r.server.URL, "http")
	sock, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { sock.Close() })

	select {
	case conn := <-r.connCh:
		t.Cleanup(func() { conn.Close() })
		return &client{sock: sock, conn: conn}
	case <-time.After(2 * time.Second):
		t.Fatal("Server connection not established")
		return nil
	}
}

func (r *rig) identify(t *testing.T, c *client, deviceName, xrID string) {
	t.Helper()
	frame := fmt.Sprintf(`{"type":"identification","deviceName":%q,"xrId":%q}`, deviceName, xrID)
	r.router.HandleFrame(c.conn, []byte(frame))
}

// readFrame returns the next frame delivered to the client.
func readFrame(t *testing.T, c *client) map[string]interface{} {
	t.Helper()

	c.sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.sock.ReadMessage()
	if err != nil {
		t.Fatalf("Expected a frame, got %v", err)
	}

	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Frame not decodable: %v", err)
	}
	return frame
}

// expectType reads the next frame and asserts its type. Per-recipient
// ordering is guaranteed, so tests drain expected frames strictly.
func expectType(t *testing.T, c *client, want string) map[string]interface{} {
	t.Helper()
	frame := readFrame(t, c)
	if frame["type"] != want {
		t.Fatalf("Expected frame type %q, got %v", want, frame["type"])
	}
	return frame
}

// expectSilence asserts no frame arrives. Only used as a client's final
// read: a deadline error leaves the socket unusable for further reads.
func expectSilence(t *testing.T, c *client) {
	t.Helper()

	c.sock.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := c.sock.ReadMessage(); err == nil {
		t.Fatalf("Expected no frame, got %s", data)
	}
}

func TestRouter_IdentificationBroadcastsDeviceList(t *testing.T) {
	rg := newRig(t)
	a := rg.connect(t)

	rg.identify(t, a, "Desktop App", "C-1")

	list := expectType(t, a, "device_list")
	devices := list["devices"].([]interface{})
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	entry := devices[0].(map[string]interface{})
	if entry["name"] != "Desktop App" || entry["xrId"] != "C-1" {
		t.Errorf("Unexpected device entry: %v", entry)
	}
}

func TestRouter_DeviceListSentToUnidentifiedToo(t *testing.T) {
	rg := newRig(t)
	a := rg.connect(t)
	b := rg.connect(t)

	rg.identify(t, a, "Desktop App", "C-1")

	// Both the identified sender and the still-unidentified b receive
	// the snapshot; the snapshot itself lists only identified devices.
	listA := expectType(t, a, "device_list")
	listB := expectType(t, b, "device_list")
	if len(listA["devices"].([]interface{})) != 1 {
		t.Error("Snapshot should list exactly the identified connection")
	}
	if len(listB["devices"].([]interface{})) != 1 {
		t.Error("Unidentified connections still receive the snapshot")
	}
}

func TestRouter_ReidentificationLastWriteWins(t *testing.T) {
	rg := newRig(t)
	a := rg.connect(t)

	rg.identify(t, a, "XR Display", "D-1")
	expectType(t, a, "device_list")

	rg.identify(t, a, "XR Display", "D-2")
	list := expectType(t, a, "device_list")

	devices := list["devices"].([]interface{})
	if len(devices) != 1 {
		t.Fatalf("Re-identification must not add an entry, got %d", len(devices))
	}
	if devices[0].(map[string]interface{})["xrId"] != "D-2" {
		t.Errorf("Expected last-written xrId D-2, got %v", devices[0])
	}
}

// setupTrio connects a control (a), a display (b), and an unidentified
// viewer-to-be (c), with all device_list frames drained.
func setupTrio(t *testing.T, rg *rig) (a, b, c *client) {
	a = rg.connect(t)
	b = rg.connect(t)
	c = rg.connect(t)

	rg.identify(t, a, "Desktop App", "C-1")
	expectType(t, a, "device_list")
	expectType(t, b, "device_list")
	expectType(t, c, "device_list")

	rg.identify(t, b, "XR Display", "D-1")
	expectType(t, a, "device_list")
	expectType(t, b, "device_list")
	expectType(t, c, "device_list")

	return a, b, c
}

func TestRouter_ChatBroadcastExceptSender(t *testing.T) {
	rg := newRig(t)
	a, b, c := setupTrio(t, rg)

	rg.router.HandleFrame(a.conn, []byte(`{"type":"message","text":"hi","priority":"urgent","badge":"demo"}`))

	msg := expectType(t, b, "message")
	if msg["text"] != "hi" {
		t.Errorf("Expected text hi, got %v", msg["text"])
	}
	if msg["id"] != float64(1) {
		t.Errorf("Expected server-assigned id 1, got %v", msg["id"])
	}
	if _, err := time.Parse(time.RFC3339, msg["timestamp"].(string)); err != nil {
		t.Errorf("Expected server-assigned RFC3339 timestamp: %v", err)
	}
	if msg["badge"] != "demo" {
		t.Error("Passthrough fields must be preserved verbatim")
	}
	if msg["priority"] != "urgent" {
		t.Errorf("Expected priority urgent, got %v", msg["priority"])
	}
	if msg["sender"] != "Desktop App" {
		t.Errorf("Expected sender filled from identity, got %v", msg["sender"])
	}

	if rg.hist.Len() != 1 {
		t.Errorf("Expected history length 1, got %d", rg.hist.Len())
	}

	// Sender gets nothing back; unidentified connections get no chat.
	expectSilence(t, a)
	expectSilence(t, c)
}

func TestRouter_ChatKeepsClientSuppliedSender(t *testing.T) {
	rg := newRig(t)
	a, b, _ := setupTrio(t, rg)

	rg.router.HandleFrame(a.conn, []byte(`{"type":"message","text":"hi","sender":"Custom"}`))

	msg := expectType(t, b, "message")
	if msg["sender"] != "Custom" {
		t.Errorf("Client-supplied sender must not be overwritten, got %v", msg["sender"])
	}
}

func TestRouter_TargetedOfferByXRID(t *testing.T) {
	rg := newRig(t)
	a, b, c := setupTrio(t, rg)

	rg.router.HandleFrame(a.conn, []byte(`{"type":"offer","sdp":{"type":"offer","sdp":"v=0"},"from":"C-1","to":"D-1"}`))

	offer := expectType(t, b, "offer")
	if offer["from"] != "C-1" || offer["to"] != "D-1" {
		t.Errorf("Offer addressing not preserved: %v", offer)
	}
	sdp := offer["sdp"].(map[string]interface{})
	if sdp["sdp"] != "v=0" {
		t.Error("SDP payload must pass through untouched")
	}

	expectSilence(t, a)
	expectSilence(t, c)
}

func TestRouter_TargetedAnswerByDeviceName(t *testing.T) {
	rg := newRig(t)
	a, b, _ := setupTrio(t, rg)

	rg.router.HandleFrame(b.conn, []byte(`{"type":"answer","sdp":{"type":"answer"},"from":"D-1","to":"Desktop App"}`))

	answer := expectType(t, a, "answer")
	if answer["from"] != "D-1" {
		t.Errorf("Expected from D-1, got %v", answer["from"])
	}
	expectSilence(t, b)
}

func TestRouter_ICECandidatePayloadVerbatim(t *testing.T) {
	rg := newRig(t)
	a, b, _ := setupTrio(t, rg)

	rg.router.HandleFrame(a.conn, []byte(`{"type":"ice-candidate","candidate":{"candidate":"candidate:1 1 udp 2122260223","sdpMid":"0","sdpMLineIndex":0},"from":"C-1","to":"D-1"}`))

	frame := expectType(t, b, "ice-candidate")
	candidate := frame["candidate"].(map[string]interface{})
	if candidate["sdpMid"] != "0" || candidate["sdpMLineIndex"] != float64(0) {
		t.Errorf("Candidate payload altered: %v", candidate)
	}
}

func TestRouter_SignalWithoutTargetFallsBackToBroadcast(t *testing.T) {
	rg := newRig(t)
	a, b, c := setupTrio(t, rg)

	rg.router.HandleFrame(a.conn, []byte(`{"type":"offer","sdp":{},"from":"C-1"}`))

	// Everyone except the sender, identified or not.
	expectType(t, b, "offer")
	expectType(t, c, "offer")
	expectSilence(t, a)
}

func TestRouter_SignalUnresolvableTargetDropped(t *testing.T) {
	rg := newRig(t)
	a, b, c := setupTrio(t, rg)

	rg.router.HandleFrame(a.conn, []byte(`{"type":"offer","sdp":{},"from":"C-1","to":"nobody"}`))

	// Fire-and-forget: zero deliveries and no failure notice to the
	// sender.
	expectSilence(t, a)
	expectSilence(t, b)
	expectSilence(t, c)
}

func TestRouter_ControlCommandBroadcastAll(t *testing.T) {
	rg := newRig(t)
	a, b, c := setupTrio(t, rg)

	// The underscore alias routes identically and a to field is ignored.
	rg.router.HandleFrame(a.conn, []byte(`{"type":"control_command","command":"mute","from":"C-1","to":"D-1"}`))

	for _, cl := range []*client{a, b, c} {
		cmd := expectType(t, cl, "control-command")
		if cmd["command"] != "mute" {
			t.Errorf("Expected command mute, got %v", cmd["command"])
		}
	}
}

func TestRouter_StatusReportToControlOnly(t *testing.T) {
	rg := newRig(t)
	a, b, c := setupTrio(t, rg)

	rg.router.HandleFrame(b.conn, []byte(`{"type":"status_report","from":"spoofed","status":"rendering"}`))

	report := expectType(t, a, "status_report")
	if report["from"] != "XR Display" {
		t.Errorf("Expected from relabeled to the sender identity, got %v", report["from"])
	}
	if report["status"] != "rendering" {
		t.Errorf("Expected status rendering, got %v", report["status"])
	}
	if _, err := time.Parse(time.RFC3339, report["timestamp"].(string)); err != nil {
		t.Errorf("Expected server timestamp: %v", err)
	}

	expectSilence(t, b)
	expectSilence(t, c)
}

func TestRouter_ClearMessagesBroadcastAllAndKeepsHistory(t *testing.T) {
	rg := newRig(t)
	a, b, c := setupTrio(t, rg)

	rg.router.HandleFrame(a.conn, []byte(`{"type":"message","text":"keep me"}`))
	expectType(t, b, "message")

	rg.router.HandleFrame(a.conn, []byte(`{"type":"clear-messages","by":"Desktop App"}`))

	for _, cl := range []*client{a, b, c} {
		cleared := expectType(t, cl, "message-cleared")
		if cleared["by"] != "Desktop App" {
			t.Errorf("Expected by Desktop App, got %v", cleared["by"])
		}
		if _, ok := cleared["messageId"]; !ok {
			t.Error("Expected a messageId on the clear event")
		}
	}

	// The clear is cosmetic; the replay buffer is untouched.
	if rg.hist.Len() != 1 {
		t.Errorf("Server-side history must survive a clear, got len %d", rg.hist.Len())
	}
}

func TestRouter_ClearConfirmationToControlOnly(t *testing.T) {
	rg := newRig(t)
	a, b, c := setupTrio(t, rg)

	rg.router.HandleFrame(b.conn, []byte(`{"type":"clear_confirmation","device":"XR Display"}`))

	ack := expectType(t, a, "message_cleared")
	if ack["by"] != "XR Display" {
		t.Errorf("Expected by XR Display, got %v", ack["by"])
	}

	expectSilence(t, b)
	expectSilence(t, c)
}

func TestRouter_MalformedAndUnknownFramesDropped(t *testing.T) {
	rg := newRig(t)
	a, b, _ := setupTrio(t, rg)

	rg.router.HandleFrame(a.conn, []byte(`this is not json`))
	rg.router.HandleFrame(a.conn, []byte(`{"text":"no type"}`))
	rg.router.HandleFrame(a.conn, []byte(`{"type":"bogus-type"}`))

	// The connection survives and later frames still route.
	rg.router.HandleFrame(a.conn, []byte(`{"type":"message","text":"still here"}`))
	msg := expectType(t, b, "message")
	if msg["text"] != "still here" {
		t.Errorf("Expected routing to continue after drops, got %v", msg["text"])
	}

	if rg.hist.Len() != 1 {
		t.Errorf("Dropped frames must not reach history, got len %d", rg.hist.Len())
	}
}

func TestRouter_DuplicateTargetReceivesAllCopies(t *testing.T) {
	rg := newRig(t)
	a := rg.connect(t)
	b := rg.connect(t)
	c := rg.connect(t)

	rg.identify(t, a, "Desktop App", "C-1")
	rg.identify(t, b, "XR Display", "D-1")
	rg.identify(t, c, "XR Display", "D-1")
	for _, cl := range []*client{a, b, c} {
		expectType(t, cl, "device_list")
		expectType(t, cl, "device_list")
		expectType(t, cl, "device_list")
	}

	rg.router.HandleFrame(a.conn, []byte(`{"type":"offer","sdp":{},"from":"C-1","to":"D-1"}`))

	expectType(t, b, "offer")
	expectType(t, c, "offer")
	expectSilence(t, a)
}
