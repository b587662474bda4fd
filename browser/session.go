package browser

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Command records one operation performed through a session, for audit and
// debugging of automation runs.
type Command struct {
	Op       string        `json:"op"`
	Selector string        `json:"selector,omitempty"`
	Value    string        `json:"value,omitempty"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"err,omitempty"`
}

// Session wraps a Page with an identity and a command history. It is the
// unit handed to orchestration code: one session, one tab, one history.
type Session struct {
	id      string
	page    Page
	history []Command
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewSession wraps the page in a session with a fresh UUID.
func NewSession(page Page, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		page:   page,
		logger: logger.With(zap.String("component", "browser_session"), zap.String("session_id", id)),
	}
}

// ID returns the session's UUID.
func (s *Session) ID() string { return s.id }

// Page returns the underlying page handle.
func (s *Session) Page() Page { return s.page }

// History returns a copy of the commands executed through this session.
func (s *Session) History() []Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Command{}, s.history...)
}

func (s *Session) record(op, selector, value string, start time.Time, err error) {
	cmd := Command{
		Op:       op,
		Selector: selector,
		Value:    value,
		At:       start,
		Duration: time.Since(start),
	}
	if err != nil {
		cmd.Err = err.Error()
	}
	s.mu.Lock()
	s.history = append(s.history, cmd)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("command failed",
			zap.String("op", op),
			zap.String("selector", selector),
			zap.Error(err))
	}
}

// Navigate loads a URL and records the command.
func (s *Session) Navigate(ctx context.Context, url string) error {
	start := time.Now()
	err := s.page.Navigate(ctx, url)
	s.record("navigate", "", url, start, err)
	return err
}

// Click clicks the first element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	start := time.Now()
	err := s.page.Click(ctx, selector)
	s.record("click", selector, "", start, err)
	return err
}

// Fill types text into the first element matching the selector.
func (s *Session) Fill(ctx context.Context, selector, text string) error {
	start := time.Now()
	err := s.page.Fill(ctx, selector, text)
	s.record("fill", selector, text, start, err)
	return err
}

// WaitVisible waits for the selector to match a visible element.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	start := time.Now()
	err := s.page.WaitVisible(ctx, selector, timeout)
	s.record("wait_visible", selector, "", start, err)
	return err
}

// Screenshot captures the viewport.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	start := time.Now()
	buf, err := s.page.Screenshot(ctx)
	s.record("screenshot", "", "", start, err)
	return buf, err
}

// Close releases the page.
func (s *Session) Close() error {
	return s.page.Close()
}
