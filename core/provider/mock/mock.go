// Package mock provides test doubles for the provider package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session.
// Use Session.Emit to feed provider events and inspect which methods the
// transport invoked.
package mock

import (
	"context"
	"sync"

	"github.com/koscakluka/ema-realtime/core/audio"
	"github.com/koscakluka/ema-realtime/core/provider"
)

// Provider is a mock implementation of provider.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name, "mock" when empty.
	ProviderName string

	// Session is returned by Connect. When nil a new Session is created.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []provider.ConnectOptions
}

func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(_ context.Context, opts provider.ConnectOptions) (provider.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, opts)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// ConnectCallCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

var _ provider.Provider = (*Provider)(nil)

// Session is a mock implementation of provider.Session.
type Session struct {
	mu sync.Mutex

	events    chan provider.Event
	closeOnce sync.Once
	err       error

	// SendAudioHook, if set, is called for every SendAudio call after it is
	// recorded and its result returned.
	SendAudioHook func(ctx context.Context, audio []byte) error

	ConfigureErr          error
	UpdateInstructionsErr error
	SendUserTextErr       error
	SendAudioErr          error
	CancelResponseErr     error

	ConfigureCalls          []provider.SessionConfig
	UpdateInstructionsCalls []string
	SendUserTextCalls       []string
	SendAudioCalls          [][]byte
	CancelResponseCalls     []audio.PendingInterruption
	CloseCallCount          int
}

func NewSession() *Session {
	return &Session{events: make(chan provider.Event, 64)}
}

func (s *Session) Configure(_ context.Context, cfg provider.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConfigureCalls = append(s.ConfigureCalls, cfg)
	return s.ConfigureErr
}

func (s *Session) UpdateInstructions(_ context.Context, instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdateInstructionsCalls = append(s.UpdateInstructionsCalls, instructions)
	return s.UpdateInstructionsErr
}

func (s *Session) SendUserText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendUserTextCalls = append(s.SendUserTextCalls, text)
	return s.SendUserTextErr
}

// SendAudio records a copy of the chunk.
func (s *Session) SendAudio(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	err := s.SendAudioErr
	hook := s.SendAudioHook
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		return hook(ctx, chunk)
	}
	return nil
}

func (s *Session) CancelResponse(_ context.Context, interruption audio.PendingInterruption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelResponseCalls = append(s.CancelResponseCalls, interruption)
	return s.CancelResponseErr
}

// Emit queues an event for the transport. It must not be called after
// Close or Fail.
func (s *Session) Emit(event provider.Event) {
	s.events <- event
}

// Fail ends the event stream with err.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.closeEvents()
}

func (s *Session) Events() <-chan provider.Event { return s.events }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.closeEvents()
	return nil
}

func (s *Session) closeEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

// SendAudioCount returns the number of recorded SendAudio calls.
func (s *Session) SendAudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// CancelResponses returns a copy of the recorded CancelResponse calls.
func (s *Session) CancelResponses() []audio.PendingInterruption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.PendingInterruption(nil), s.CancelResponseCalls...)
}

// Closed reports whether Close was called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

var _ provider.Session = (*Session)(nil)
