// Package livestream drives one live translation session: it pulls PCM from a
// decoder, cuts it into windows and pushes every window through recognition,
// translation and synthesis, emitting a subtitle and then its audio.
package livestream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"speech-translate-server/internal/domain/asr"
	"speech-translate-server/internal/domain/audio"
	"speech-translate-server/internal/domain/eventbus"
	"speech-translate-server/internal/domain/source"
	platformerrors "speech-translate-server/internal/platform/errors"
)

// State of a session.
type State int32

const (
	StateIdle State = iota
	StateAwaitingStart
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrTransport means an outbound message could not be delivered.
	ErrTransport = errors.New("live channel transport failure")
	// ErrInvalidStart means the first client message was rejected.
	ErrInvalidStart = errors.New("invalid start message")
	// ErrStartTimeout means the client never sent a start message.
	ErrStartTimeout = errors.New("start message timeout")
)

// Session is one live channel. Serve runs the whole lifecycle on the calling goroutine.
type Session struct {
	id      string
	pump    *Pump
	emitter Emitter
	state   atomic.Int32

	windows int
	started time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Serve waits for the start message on inbox, streams until the decoder
// ends, the client sends stop, or ctx is cancelled, and releases every
// resource before returning. Later inbox messages other than stop are
// ignored. A closed inbox is treated like a stop.
func (s *Session) Serve(ctx context.Context, inbox <-chan []byte) error {
	s.setState(StateAwaitingStart)
	defer s.setState(StateClosed)

	req, err := s.awaitStart(ctx, inbox)
	if err != nil {
		return err
	}
	return s.stream(ctx, req, inbox)
}

func (s *Session) awaitStart(ctx context.Context, inbox <-chan []byte) (StartRequest, error) {
	var timeout <-chan time.Time
	if s.pump.cfg.StartTimeout > 0 {
		timer := time.NewTimer(s.pump.cfg.StartTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return StartRequest{}, ctx.Err()
	case <-timeout:
		_ = s.emit(ctx, ErrorMessage(MsgStartTimeout))
		return StartRequest{}, ErrStartTimeout
	case raw, ok := <-inbox:
		if !ok {
			return StartRequest{}, context.Canceled
		}
		req, err := ParseStart(raw)
		if err != nil {
			_ = s.emit(ctx, ErrorMessage(err.Error()))
			return StartRequest{}, fmt.Errorf("%w: %v", ErrInvalidStart, err)
		}
		return req, nil
	}
}

func (s *Session) stream(ctx context.Context, req StartRequest, inbox <-chan []byte) (err error) {
	p := s.pump
	s.started = time.Now()

	handle, err := p.open(ctx, req.URL)
	if err != nil {
		if ctx.Err() == nil {
			_ = s.emit(ctx, ErrorMessage(MsgSourceUnavailable))
		}
		p.logger.WarnTag("Session", "session %s: open %s: %v", s.id, req.URL, err)
		p.recordSession("source_unavailable")
		return err
	}

	scratch, scratchErr := os.MkdirTemp(p.cfg.ScratchDir, "live-"+s.id+"-")
	if scratchErr != nil {
		scratch = ""
		p.logger.WarnTag("Session", "session %s: scratch dir: %v", s.id, scratchErr)
	}

	s.setState(StateStreaming)
	p.sessionStarted(s, req)

	buf := audio.NewBuffer(p.windowSize)
	defer func() {
		s.setState(StateDraining)
		if cerr := handle.Close(); cerr != nil {
			p.logger.WarnTag("Session", "session %s: close source: %v", s.id, cerr)
		}
		if dropped := buf.Discard(); dropped > 0 {
			p.logger.DebugTag("Session", "session %s: discarded %d trailing bytes", s.id, dropped)
		}
		if scratch != "" {
			_ = os.RemoveAll(scratch)
		}
		p.sessionClosed(s, req, err)
	}()

	stopRequested := false
	checkStop := func() {
		if stopRequested {
			return
		}
		for {
			select {
			case raw, ok := <-inbox:
				if !ok || IsStop(raw) {
					stopRequested = true
					return
				}
			default:
				return
			}
		}
	}

	for {
		checkStop()
		if stopRequested {
			p.logger.DebugTag("Session", "session %s: stop requested", s.id)
			return nil
		}

		chunk, rerr := handle.ReadChunk(ctx, p.cfg.ReadChunkBytes)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(chunk) > 0 {
			buf.Push(chunk)
			p.decoderBytes(len(chunk))
		}

		for {
			checkStop()
			if stopRequested {
				break
			}
			window, ok := buf.TryTakeWindow()
			if !ok {
				break
			}
			s.windows++
			if perr := s.processWindow(ctx, req, window, scratch); perr != nil {
				return perr
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, source.ErrStreamEnded):
			p.logger.DebugTag("Session", "session %s: stream ended after %d windows", s.id, s.windows)
			return nil
		default:
			_ = s.emit(ctx, ErrorMessage(MsgStreamFailed))
			return rerr
		}
	}
}

// processWindow runs one window through the stages. Only transport failures
// and cancellation are returned; stage failures skip the window.
func (s *Session) processWindow(ctx context.Context, req StartRequest, w audio.Window, scratch string) error {
	p := s.pump
	started := time.Now()
	report := func(outcome, detected string) {
		p.windowDone(s, w.Index, outcome, detected, time.Since(started))
	}

	stageStart := time.Now()
	frag, err := p.recognizer.Recognize(ctx, asr.Request{
		PCM:        w.PCM,
		Format:     p.cfg.Format,
		Allowed:    p.cfg.AllowedLanguages,
		ScratchDir: scratch,
	})
	p.stageDuration("recognize", stageStart)
	if ctx.Err() != nil {
		report(eventbus.OutcomeCancelled, "")
		return ctx.Err()
	}
	switch {
	case errors.Is(err, asr.ErrUnsupportedLanguage):
		detected := ""
		var langErr *asr.UnsupportedLanguageError
		if errors.As(err, &langErr) {
			detected = langErr.Language
		}
		report(eventbus.OutcomeUnsupported, detected)
		return s.emit(ctx, ErrorMessage(UnsupportedInputText(p.cfg.AllowedLanguages)))
	case err != nil:
		report(eventbus.OutcomeRecognition, "")
		p.logger.WarnTag("ASR", "session %s window %d: %v", s.id, w.Index, err)
		return s.advise(ctx, MsgRecognitionFailed)
	case frag == nil:
		report(eventbus.OutcomeSilence, "")
		return nil
	}

	stageStart = time.Now()
	text, err := p.translator.Translate(ctx, frag.Text, req.Lang)
	p.stageDuration("translate", stageStart)
	if ctx.Err() != nil {
		report(eventbus.OutcomeCancelled, frag.Language)
		return ctx.Err()
	}
	if err != nil {
		report(eventbus.OutcomeTranslation, frag.Language)
		p.logger.WarnTag("Translate", "session %s window %d: %v", s.id, w.Index, err)
		return s.advise(ctx, MsgTranslationFailed)
	}
	if text == "" {
		report(eventbus.OutcomeSilence, frag.Language)
		return nil
	}

	if err := s.emit(ctx, SubtitleMessage(text)); err != nil {
		return err
	}

	stageStart = time.Now()
	clip, err := p.synthesizer.Synthesize(ctx, text, req.Lang)
	p.stageDuration("synthesize", stageStart)
	if ctx.Err() != nil {
		report(eventbus.OutcomeCancelled, frag.Language)
		return ctx.Err()
	}
	if err != nil {
		report(eventbus.OutcomeSynthesis, frag.Language)
		p.logger.WarnTag("TTS", "session %s window %d: %v", s.id, w.Index, err)
		return s.advise(ctx, MsgSynthesisFailed)
	}

	if err := s.emit(ctx, AudioMessage(clip.Data)); err != nil {
		return err
	}
	report(eventbus.OutcomeDelivered, frag.Language)
	return nil
}

// advise sends a per-window advisory when stage errors are reported.
func (s *Session) advise(ctx context.Context, text string) error {
	if !s.pump.cfg.ReportStageErrors {
		return nil
	}
	return s.emit(ctx, ErrorMessage(text))
}

func (s *Session) emit(ctx context.Context, msg Message) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := s.emitter.Send(ctx, msg); err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "livestream.emit", msg.Event, fmt.Errorf("%w: %v", ErrTransport, err))
	}
	s.pump.messageSent(msg.Event)
	return nil
}
