package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogSender acknowledges every transfer and logs it. It stands in for a
// settlement rail that the fund does not own.
type LogSender struct {
	mu   sync.Mutex
	sent map[string]struct{}
	log  *logrus.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{sent: make(map[string]struct{}), log: log}
}

// Send records the transfer of amount to the recipient. A key that was
// already sent is acknowledged without a second transfer.
func (s *LogSender) Send(_ context.Context, key, to string, amount int64) error {
	if key == "" {
		return fmt.Errorf("empty transfer key")
	}
	if to == "" {
		return fmt.Errorf("empty recipient")
	}
	if amount <= 0 {
		return fmt.Errorf("non-positive amount %d", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sent[key]; ok {
		s.log.WithField("key", key).Debug("Transfer already sent")
		return nil
	}
	s.sent[key] = struct{}{}
	s.log.WithFields(logrus.Fields{"key": key, "to": to, "amount": amount}).Info("Transfer sent")
	return nil
}
