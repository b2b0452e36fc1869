// Package mock provides test doubles for the stt.Provider and stt.SessionHandle
// interfaces.
//
// The mock Session lets tests inject partial and final transcripts and decide
// whether Close flushes a last final, mirroring how a streaming service
// delivers its remaining results after the audio stream has been closed.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	h, _ := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000})
//	sess.EmitFinal("hello", true)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/luna/pkg/provider/stt"
)

// StartStreamCall records the arguments of a single StartStream invocation.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session, if set, is returned by every StartStream call. Otherwise a fresh
	// Session is created per call and can be retrieved with Sessions.
	Session *Session

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream in order.
	StartStreamCalls []StartStreamCall

	sessions []*Session
}

// StartStream records the call and returns a session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Sessions returns every session handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Last returns the most recently started session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.sessions = nil
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	partials chan stt.Transcript
	finals   chan stt.Transcript
	ended    bool
	err      error

	// FlushOnClose, if non-empty, is delivered as a last final transcript when
	// Close is called.
	FlushOnClose string

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// CloseErr is returned by Close.
	CloseErr error

	// SentChunks records every chunk passed to SendAudio.
	SentChunks [][]byte

	// CloseCallCount counts calls to Close.
	CloseCallCount int
}

// NewSession returns a ready-to-use Session.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
	}
}

// EmitPartial delivers an interim transcript.
func (s *Session) EmitPartial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.partials <- stt.Transcript{Text: text}
}

// EmitFinal delivers a final transcript; endOfUtterance marks the turn as done.
func (s *Session) EmitFinal(text string, endOfUtterance bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.finals <- stt.Transcript{Text: text, IsFinal: true, EndOfUtterance: endOfUtterance}
}

// Fail terminates the session with err, as if the service dropped the stream.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.partials)
	close(s.finals)
}

// SendAudio implements stt.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.New("mock: session is closed")
	}
	s.SentChunks = append(s.SentChunks, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Err implements stt.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements stt.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.ended && s.FlushOnClose != "" {
		s.finals <- stt.Transcript{Text: s.FlushOnClose, IsFinal: true, EndOfUtterance: true}
	}
	s.endLocked(nil)
	return s.CloseErr
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// ChunkCount returns how many audio chunks were sent.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentChunks)
}

var _ stt.SessionHandle = (*Session)(nil)
