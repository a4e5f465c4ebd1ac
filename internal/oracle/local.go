// Package oracle provides the randomness source used for committee selection.
package oracle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Callback receives a delivered random value for an earlier request
type Callback func(ctx context.Context, requestID string, value [32]byte) error

const queueSize = 256

// LocalSource is a prepaid in-process randomness oracle. Requests are queued
// and fulfilled asynchronously by Run after the configured delay.
type LocalSource struct {
	mu      sync.Mutex
	fee     int64
	credit  int64
	delay   time.Duration
	queue   chan string
	handler Callback
	log     *logrus.Logger
}

// NewLocalSource creates a source charging fee per request out of credit
func NewLocalSource(fee, credit int64, delay time.Duration, log *logrus.Logger) *LocalSource {
	return &LocalSource{
		fee:    fee,
		credit: credit,
		delay:  delay,
		queue:  make(chan string, queueSize),
		log:    log,
	}
}

// SetHandler registers the delivery callback; it must be set before Run
func (s *LocalSource) SetHandler(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = cb
}

// RequestRandom charges the fee and queues a request, returning its id
func (s *LocalSource) RequestRandom(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.credit < s.fee {
		return "", apperr.ErrInsufficientFee.WithMessage("credit %d is below fee %d", s.credit, s.fee)
	}
	id := uuid.NewString()
	select {
	case s.queue <- id:
	default:
		return "", fmt.Errorf("randomness queue is full")
	}
	s.credit -= s.fee
	s.log.Debugf("Randomness requested: %s", id)
	return id, nil
}

// TopUp adds prepaid credit
func (s *LocalSource) TopUp(amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit += amount
}

// Credit returns the remaining prepaid credit
func (s *LocalSource) Credit() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credit
}

// Run fulfils queued requests until ctx is cancelled
func (s *LocalSource) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-s.queue:
			if s.delay > 0 {
				timer := time.NewTimer(s.delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil
				case <-timer.C:
				}
			}
			s.deliver(ctx, id)
		}
	}
}

func (s *LocalSource) deliver(ctx context.Context, id string) {
	var value [32]byte
	if _, err := rand.Read(value[:]); err != nil {
		s.log.Errorf("Failed to generate randomness for %s: %v", id, err)
		return
	}

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		s.log.Warnf("No randomness handler registered, dropping %s", id)
		return
	}
	err := handler(ctx, id, value)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		// The request was rolled back with the transaction that issued it
		s.mu.Lock()
		s.credit += s.fee
		s.mu.Unlock()
		s.log.Warnf("Randomness request %s is unknown, fee refunded", id)
	case err != nil:
		s.log.Warnf("Randomness delivery for %s failed: %v", id, err)
	}
}
