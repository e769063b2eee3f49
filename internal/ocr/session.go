package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

// ErrSessionClosed is returned by a session used after Close
var ErrSessionClosed = errors.New("ocr session closed")

// Opener creates the underlying recognizer. It is called at most once per session.
type Opener func(ctx context.Context) (Recognizer, error)

// Session owns an expensive recognizer: it is opened lazily on first use, at most
// once and never concurrently, reused for every page, and torn down by Close.
type Session struct {
	open   Opener
	logger *slog.Logger

	once    sync.Once
	rec     Recognizer
	openErr error

	mu     sync.Mutex
	closed bool
}

// NewSession creates a session around an opener
func NewSession(open Opener, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{open: open, logger: logger}
}

// Recognize opens the engine on first use and delegates to it
func (s *Session) Recognize(ctx context.Context, page *raster.Page) (*Result, error) {
	rec, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return rec.Recognize(ctx, page)
}

func (s *Session) acquire(ctx context.Context) (Recognizer, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}

	s.once.Do(func() {
		s.logger.Info("initializing text recognizer")
		rec, err := s.open(ctx)
		if err != nil {
			s.openErr = fmt.Errorf("failed to open recognizer: %w", err)
			s.logger.Error("text recognizer initialization failed", "error", err)
			return
		}
		s.rec = rec
		s.logger.Info("text recognizer initialized")
	})

	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.rec, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the engine if it was opened. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Wait for a concurrent open to finish before tearing down.
	s.once.Do(func() {})

	if closer, ok := s.rec.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close recognizer: %w", err)
		}
		s.logger.Info("text recognizer terminated")
	}
	return nil
}
