// Package session supervises one bridged call: the socket read loop feeding
// the reorder buffer and VAD, the write loop draining egress, the dialogue
// driver, and the keepalive pings, all torn down together.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	ws "nhooyr.io/websocket"

	"dajeong/bridge/internal/audio"
	"dajeong/bridge/internal/dialogue"
	"dajeong/bridge/internal/marks"
	"dajeong/bridge/internal/reorder"
	"dajeong/bridge/internal/transcript"
	"dajeong/bridge/internal/turn"
	"dajeong/bridge/internal/vad"
	"dajeong/bridge/internal/wire"
)

// Call lifecycle states.
const (
	StateAwaitingStart = "awaiting_start"
	StateGreeting      = "greeting"
	StateActive        = "active"
	StateClosing       = "closing"
	StateTerminated    = "terminated"
)

// Conn is the slice of the websocket connection the session uses.
// *nhooyr.io/websocket.Conn satisfies it; tests script it.
type Conn interface {
	Read(ctx context.Context) (ws.MessageType, []byte, error)
	Write(ctx context.Context, typ ws.MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close(code ws.StatusCode, reason string) error
}

type Config struct {
	CallID       string
	Greeting     string
	Goodbye      string
	PingInterval time.Duration
	PingTimeout  time.Duration
	CloseFlush   time.Duration
}

// Session runs one call. Construct with New, then Run exactly once.
type Session struct {
	cfg    Config
	conn   Conn
	log    *logrus.Entry
	engine *dialogue.Engine
	det    *vad.Detector
	turns  *turn.Controller
	marks  *marks.Registry
	buf    *reorder.Buffer
	egress *Egress
	reg    *Registry
	sink   transcript.Sink

	cancel     context.CancelFunc
	stopOnce   sync.Once
	startOnce  sync.Once
	started    chan struct{}
	hangup     chan struct{}
	utterances chan vad.Utterance
	startedAt  time.Time

	// mediaMu serializes the reorder buffer and detector between the read
	// loop and the gap ticker.
	mediaMu sync.Mutex

	mu    sync.Mutex
	state string
}

func New(cfg Config, conn Conn, det *vad.Detector, turns *turn.Controller,
	reg *marks.Registry, buf *reorder.Buffer, engine *dialogue.Engine,
	egress *Egress, calls *Registry, sink transcript.Sink, log *logrus.Entry) *Session {
	return &Session{
		cfg:        cfg,
		conn:       conn,
		log:        log,
		engine:     engine,
		det:        det,
		turns:      turns,
		marks:      reg,
		buf:        buf,
		egress:     egress,
		reg:        calls,
		sink:       sink,
		started:    make(chan struct{}),
		hangup:     make(chan struct{}, 1),
		utterances: make(chan vad.Utterance, 4),
	}
}

// Run blocks until the call ends. It returns nil on an orderly stop and the
// first fatal error otherwise.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	s.startedAt = time.Now()
	s.setState(StateAwaitingStart)
	s.reg.attach(s.cfg.CallID, s)
	defer s.reg.detach(s.cfg.CallID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.converse(gctx) })
	g.Go(func() error { return s.pingLoop(gctx) })
	g.Go(func() error { return s.gapLoop(gctx) })
	err := g.Wait()

	s.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop requests an orderly close. Safe to call from any goroutine; repeated
// calls are no-ops.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("stop requested")
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// State returns the current lifecycle state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state string) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev == state {
		return
	}
	s.reg.SetState(s.cfg.CallID, state)
	s.reg.AppendEvent(s.cfg.CallID, "state", map[string]any{"from": prev, "to": state})
	metricStateTransitions.WithLabelValues(state).Inc()
	s.log.WithField("state", state).Debug("state transition")
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session: read: %w", err)
		}
		if typ != ws.MessageText {
			continue
		}
		env, err := wire.Decode(data)
		if err != nil {
			s.log.WithError(err).Debug("undecodable frame dropped")
			continue
		}
		s.handle(env)
	}
}

// handle demuxes one ingress envelope. Runs on the read goroutine.
func (s *Session) handle(env *wire.Envelope) {
	switch env.Event {
	case wire.EventConnected:
		s.reg.AppendEvent(s.cfg.CallID, "connected", map[string]any{
			"protocol": env.Protocol, "version": env.Version,
		})

	case wire.EventStart:
		if env.Start == nil {
			return
		}
		s.startOnce.Do(func() {
			s.egress.BindStream(env.Start.StreamSid)
			s.reg.SetStream(s.cfg.CallID, env.Start.StreamSid)
			s.reg.AppendEvent(s.cfg.CallID, "stream_started", map[string]any{
				"stream_sid": env.Start.StreamSid, "call_sid": env.Start.CallSid,
			})
			s.setState(StateGreeting)
			close(s.started)
		})

	case wire.EventMedia:
		s.handleMedia(env)

	case wire.EventMark:
		if env.Mark != nil {
			s.marks.Resolve(env.Mark.Name)
		}

	case wire.EventDTMF:
		if env.DTMF == nil {
			return
		}
		s.reg.AppendEvent(s.cfg.CallID, "dtmf", map[string]any{"digit": env.DTMF.Digit})
		if env.DTMF.Digit == "#" {
			select {
			case s.hangup <- struct{}{}:
			default:
			}
		}

	case wire.EventStop:
		s.reg.AppendEvent(s.cfg.CallID, "stream_stopped", nil)
		s.Stop()

	default:
		metricUnknownEvents.Inc()
		s.log.WithField("event", env.Event).Debug("unknown event dropped")
	}
}

func (s *Session) handleMedia(env *wire.Envelope) {
	if env.Media == nil {
		return
	}
	seq, err := env.Seq()
	if err != nil {
		s.log.WithError(err).Debug("media frame without usable sequence dropped")
		return
	}
	ulaw, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		s.log.WithError(err).Debug("media payload not base64, dropped")
		return
	}
	metricFramesIn.Inc()

	now := time.Now()
	s.mediaMu.Lock()
	s.processFrames(s.buf.Push(reorder.Frame{Seq: seq, Arrived: now, Payload: ulaw}), now)
	s.mediaMu.Unlock()
}

// processFrames runs released frames through the detector. Callers hold
// mediaMu.
func (s *Session) processFrames(frames []reorder.Frame, now time.Time) {
	for _, f := range frames {
		pcm := audio.DecodeMuLaw(f.Payload)
		utt := s.det.Process(pcm, now)
		if utt == nil {
			continue
		}
		s.enqueueUtterance(*utt)
	}
}

// enqueueUtterance hands a finalized utterance to the dialogue driver. When
// the queue is full the oldest queued utterance gives way: the reply should
// address the caller's most recent speech.
func (s *Session) enqueueUtterance(utt vad.Utterance) {
	for {
		select {
		case s.utterances <- utt:
			return
		default:
		}
		select {
		case old := <-s.utterances:
			metricUtterancesDropped.Inc()
			s.log.WithField("bytes", len(old.PCM)).Warn("queued utterance superseded by newer speech")
		default:
		}
	}
}

// gapLoop flushes frames stuck behind a sequence gap when the ingress
// stream stalls, since Push alone never times the gap out in that case.
func (s *Session) gapLoop(ctx context.Context) error {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			s.mediaMu.Lock()
			s.processFrames(s.buf.FlushDue(now), now)
			s.mediaMu.Unlock()
		}
	}
}

// converse greets once the stream starts, then serves utterances until the
// call ends.
func (s *Session) converse(ctx context.Context) error {
	select {
	case <-s.started:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.engine.Speak(ctx, s.cfg.Greeting); err != nil {
		return fmt.Errorf("session: greeting: %w", err)
	}
	if ctx.Err() == nil {
		s.setState(StateActive)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.hangup:
			if err := s.engine.Speak(ctx, s.cfg.Goodbye); err != nil {
				s.log.WithError(err).Warn("goodbye failed")
			}
			s.Stop()
			return nil
		case utt := <-s.utterances:
			if err := s.engine.HandleUtterance(ctx, utt); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("session: dialogue: %w", err)
			}
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.egress.Frames():
			if err := s.conn.Write(ctx, ws.MessageText, frame); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("session: write: %w", err)
			}
			metricFramesOut.Inc()
		}
	}
}

func (s *Session) pingLoop(ctx context.Context) error {
	if s.cfg.PingInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("session: ping: %w", err)
			}
		}
	}
}

// shutdown runs the closing sequence: give in-flight marks a bounded chance
// to drain, then cancel everything and publish the call summary.
func (s *Session) shutdown() {
	s.setState(StateClosing)

	deadline := time.Now().Add(s.cfg.CloseFlush)
	for s.marks.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.marks.CancelAll()
	s.turns.Reset()
	s.egress.Close()

	userTurns, botTurns, bargeIns := s.engine.Stats()
	sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.sink.PublishSummary(sctx, transcript.Summary{
		CallID:    s.cfg.CallID,
		StartedAt: s.startedAt,
		EndedAt:   time.Now(),
		UserTurns: userTurns,
		BotTurns:  botTurns,
		BargeIns:  bargeIns,
	})
	if err != nil {
		s.log.WithError(err).Warn("summary publish failed")
	}

	s.conn.Close(ws.StatusNormalClosure, "call ended")
	s.setState(StateTerminated)
	s.log.Info("session terminated")
}
