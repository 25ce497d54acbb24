package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NoopSender logs messages instead of delivering them and keeps a copy of
// each for inspection. Used in development and tests.
type NoopSender struct {
	mu   sync.Mutex
	sent []SendRequest
	fail error
}

// NewNoopSender creates a new NoopSender.
func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

// FailWith makes every later send return err; nil restores normal behaviour.
func (s *NoopSender) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Sent returns a copy of every accepted request in send order.
func (s *NoopSender) Sent() []SendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SendRequest, len(s.sent))
	copy(out, s.sent)
	return out
}

// Send records the email but does not deliver it.
// POST: Returns a synthetic message id, or the configured failure
func (s *NoopSender) Send(_ context.Context, req SendRequest) (SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return SendResult{}, s.fail
	}
	s.sent = append(s.sent, req)
	slog.Info("noop_email_send", "recipients", len(req.To), "subject", req.Subject)
	return SendResult{MessageID: fmt.Sprintf("noop-%d", len(s.sent)), SentAt: time.Now()}, nil
}

// SendBatch records each request in order.
func (s *NoopSender) SendBatch(ctx context.Context, reqs []SendRequest) ([]SendResult, error) {
	results := make([]SendResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := s.Send(ctx, req)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
