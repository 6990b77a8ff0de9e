package session

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	ws "nhooyr.io/websocket"

	"dajeong/bridge/internal/audio"
	"dajeong/bridge/internal/dialogue"
	"dajeong/bridge/internal/llm"
	"dajeong/bridge/internal/marks"
	"dajeong/bridge/internal/reorder"
	"dajeong/bridge/internal/transcript"
	"dajeong/bridge/internal/turn"
	"dajeong/bridge/internal/vad"
	"dajeong/bridge/internal/wire"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// scriptConn plays the carrier's side of the socket. Frames written by the
// session are recorded; marks are acknowledged back automatically.
type scriptConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newScriptConn() *scriptConn {
	return &scriptConn{in: make(chan []byte, 256), closed: make(chan struct{})}
}

func (c *scriptConn) feed(frame []byte) {
	select {
	case c.in <- frame:
	case <-c.closed:
	}
}

func (c *scriptConn) Read(ctx context.Context) (ws.MessageType, []byte, error) {
	select {
	case b := <-c.in:
		return ws.MessageText, b, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *scriptConn) Write(ctx context.Context, typ ws.MessageType, data []byte) error {
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()

	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Event == wire.EventMark && env.Mark != nil {
		c.feed([]byte(fmt.Sprintf(`{"event":"mark","mark":{"name":%q}}`, env.Mark.Name)))
	}
	return nil
}

func (c *scriptConn) Ping(ctx context.Context) error { return nil }

func (c *scriptConn) Close(code ws.StatusCode, reason string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptConn) countEvents(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.writes {
		var env wire.Envelope
		if json.Unmarshal(b, &env) == nil && env.Event == event {
			n++
		}
	}
	return n
}

type sttStub struct{ text string }

func (s *sttStub) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	return s.text, nil
}

type llmStub struct{ reply string }

func (s *llmStub) Stream(ctx context.Context, history []llm.Turn, userText string) (<-chan string, <-chan error) {
	deltas := make(chan string, 1)
	deltas <- s.reply
	close(deltas)
	return deltas, make(chan error, 1)
}

type ttsStub struct{}

func (s *ttsStub) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return make([]byte, 480), nil
}

type memSink struct{}

func (memSink) PublishRow(ctx context.Context, row transcript.Row) error         { return nil }
func (memSink) PublishSummary(ctx context.Context, s transcript.Summary) error   { return nil }
func (memSink) Close() error                                                     { return nil }

type fixture struct {
	sess  *Session
	conn  *scriptConn
	calls *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testLog()
	conn := newScriptConn()
	calls := NewRegistry()
	if err := calls.Create(&Call{ID: "call-1", State: StateAwaitingStart, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	markReg := marks.NewRegistry(log)
	turns := turn.NewController(1.5, 2, 2, log)
	det := vad.NewDetector(vad.Config{
		WarmupFrames:       2,
		CalibrationFrames:  3,
		NoiseMargin:        100,
		MinThreshold:       100,
		MaxThreshold:       2500,
		SanityCap:          10000,
		VoiceConfirmFrames: 2,
		MaxSilenceFrames:   3,
		MinUtteranceBytes:  320,
		NoiseHistory:       10,
		RecalInterval:      100,
	}, turns, log)
	buf := reorder.New(8, time.Second, log)
	egress := NewEgress(256)

	engine := dialogue.NewEngine(dialogue.Config{
		CallID:      "call-1",
		Language:    "ko-KR",
		SentenceMin: 12,
		SentenceMax: 80,
		ChunkBytes:  4000,
		STTTimeout:  time.Second,
		LLMTimeout:  time.Second,
		TTSTimeout:  time.Second,
		MarkTimeout: time.Second,
		Apology:     "죄송해요.",
	}, &sttStub{text: "오늘 무릎이 아파요"}, &llmStub{reply: "저런, 무릎이 아프시군요."}, &ttsStub{},
		egress, markReg, turns, memSink{}, log)
	turns.SetBargeInHandler(engine.Interrupt)

	sess := New(Config{
		CallID:       "call-1",
		Greeting:     "안녕하세요, 다정이에요.",
		Goodbye:      "네, 편안한 하루 보내세요.",
		PingInterval: 50 * time.Millisecond,
		PingTimeout:  50 * time.Millisecond,
		CloseFlush:   200 * time.Millisecond,
	}, conn, det, turns, markReg, buf, engine, egress, calls, memSink{}, log)

	return &fixture{sess: sess, conn: conn, calls: calls}
}

func mediaFrame(seq int, amp int16) []byte {
	pcm := make([]byte, audio.PCMFrameBytes)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(amp))
	}
	payload := base64.StdEncoding.EncodeToString(audio.EncodeMuLaw(pcm))
	return []byte(fmt.Sprintf(`{"event":"media","sequenceNumber":"%d","media":{"payload":%q}}`, seq, payload))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionHappyPath(t *testing.T) {
	f := newFixture(t)
	done := make(chan error, 1)
	go func() { done <- f.sess.Run(context.Background()) }()

	f.conn.feed([]byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`))
	f.conn.feed([]byte(`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`))

	// greeting goes out once the stream starts
	waitFor(t, "greeting mark", func() bool { return f.conn.countEvents("mark") >= 1 })

	seq := 0
	for i := 0; i < 5; i++ { // warm-up + calibration
		f.conn.feed(mediaFrame(seq, 50))
		seq++
	}
	for i := 0; i < 3; i++ { // caller speaks
		f.conn.feed(mediaFrame(seq, 3000))
		seq++
	}
	for i := 0; i < 4; i++ { // silence closes the utterance
		f.conn.feed(mediaFrame(seq, 50))
		seq++
	}

	// greeting mark + reply mark
	waitFor(t, "reply mark", func() bool { return f.conn.countEvents("mark") >= 2 })
	if f.conn.countEvents("media") < 2 {
		t.Fatalf("expected greeting and reply media, got %d", f.conn.countEvents("media"))
	}

	f.conn.feed([]byte(`{"event":"stop"}`))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop")
	}

	if got := f.sess.State(); got != StateTerminated {
		t.Fatalf("state = %s", got)
	}
	call := f.calls.Get("call-1")
	if call == nil || call.State != StateTerminated || call.StreamSid != "MZ1" {
		t.Fatalf("bad call record: %+v", call)
	}

	var sawStart, sawStop bool
	for _, ev := range f.calls.ListEvents("call-1") {
		switch ev.Type {
		case "stream_started":
			sawStart = true
		case "stream_stopped":
			sawStop = true
		}
	}
	if !sawStart || !sawStop {
		t.Fatalf("missing timeline events (start=%v stop=%v)", sawStart, sawStop)
	}
}

func TestSessionSecondStopIsNoOp(t *testing.T) {
	f := newFixture(t)
	done := make(chan error, 1)
	go func() { done <- f.sess.Run(context.Background()) }()

	f.conn.feed([]byte(`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`))
	waitFor(t, "greeting", func() bool { return f.conn.countEvents("mark") >= 1 })

	f.conn.feed([]byte(`{"event":"stop"}`))
	f.conn.feed([]byte(`{"event":"stop"}`))
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	f.sess.Stop() // after termination, still a no-op
}

func TestSessionHangupDigit(t *testing.T) {
	f := newFixture(t)
	done := make(chan error, 1)
	go func() { done <- f.sess.Run(context.Background()) }()

	f.conn.feed([]byte(`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`))
	waitFor(t, "greeting", func() bool { return f.conn.countEvents("mark") >= 1 })

	f.conn.feed([]byte(`{"event":"dtmf","dtmf":{"digit":"#"}}`))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("hang-up digit did not end the session")
	}
	// goodbye was spoken before closing
	if f.conn.countEvents("mark") < 2 {
		t.Fatal("expected goodbye mark")
	}
	var sawDTMF bool
	for _, ev := range f.calls.ListEvents("call-1") {
		if ev.Type == "dtmf" {
			sawDTMF = true
		}
	}
	if !sawDTMF {
		t.Fatal("dtmf not recorded in timeline")
	}
}

func TestSessionUnknownEventDropped(t *testing.T) {
	f := newFixture(t)
	done := make(chan error, 1)
	go func() { done <- f.sess.Run(context.Background()) }()

	f.conn.feed([]byte(`{"event":"mystery"}`))
	f.conn.feed([]byte(`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`))
	waitFor(t, "greeting after unknown event", func() bool { return f.conn.countEvents("mark") >= 1 })

	f.conn.feed([]byte(`{"event":"stop"}`))
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}

func TestNewestUtteranceSupersedesQueued(t *testing.T) {
	f := newFixture(t)

	// Fill the queue without a running dialogue driver, then add one more.
	for i := 1; i <= cap(f.sess.utterances); i++ {
		f.sess.enqueueUtterance(vad.Utterance{PCM: make([]byte, i*100)})
	}
	f.sess.enqueueUtterance(vad.Utterance{PCM: make([]byte, 999)})

	var queued []int
	for len(f.sess.utterances) > 0 {
		queued = append(queued, len((<-f.sess.utterances).PCM))
	}
	if len(queued) != cap(f.sess.utterances) {
		t.Fatalf("queue depth changed: %d", len(queued))
	}
	if queued[0] != 200 {
		t.Fatalf("oldest utterance should have been superseded, head is %d bytes", queued[0])
	}
	if queued[len(queued)-1] != 999 {
		t.Fatalf("newest utterance missing, tail is %d bytes", queued[len(queued)-1])
	}
}

func TestRegistryDuplicateCreate(t *testing.T) {
	r := NewRegistry()
	if err := r.Create(&Call{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Create(&Call{ID: "c1"}); !errors.Is(err, ErrCallExists) {
		t.Fatalf("expected ErrCallExists, got %v", err)
	}
}

func TestRegistryEventCap(t *testing.T) {
	r := NewRegistry()
	if err := r.Create(&Call{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < maxEvents+50; i++ {
		r.AppendEvent("c1", "tick", nil)
	}
	events := r.ListEvents("c1")
	if len(events) > maxEvents {
		t.Fatalf("timeline grew past cap: %d", len(events))
	}
	last := events[len(events)-1]
	if last.Type != "events_truncated" {
		t.Fatalf("expected truncation notice, got %s", last.Type)
	}
	if last.Payload["dropped"] == nil {
		t.Fatal("truncation notice missing dropped count")
	}
}
