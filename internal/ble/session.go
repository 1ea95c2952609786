package ble

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultConnectAttempts bounds connection establishment per write.
const DefaultConnectAttempts = 3

// Session owns at most one live connection for a single device address.
// The connection is established lazily on the first write, reused across
// subsequent writes, and invalidated by any connect or write error so the
// next write re-establishes it.
//
// Session serializes its own writes; concurrent callers block on the mutex.
type Session struct {
	address  string
	link     Link
	attempts int
	limiter  *rate.Limiter

	mu   sync.Mutex
	conn Conn
}

// NewSession creates a session for one device address. attempts bounds the
// connect retries per write; writeRate throttles characteristic writes
// (the firmware drops frames when flooded), 0 disables the limiter.
func NewSession(link Link, address string, attempts int, writeRate float64) *Session {
	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}
	var limiter *rate.Limiter
	if writeRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(writeRate), 1)
	}
	return &Session{
		address:  address,
		link:     link,
		attempts: attempts,
		limiter:  limiter,
	}
}

// Address returns the device address this session writes to.
func (s *Session) Address() string {
	return s.address
}

// Write sends one frame to the device's control characteristic. A missing
// connection is established first with bounded retries. On any failure the
// cached connection is dropped, forcing a reconnect on the next call.
func (s *Session) Write(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if s.conn == nil {
		conn, err := s.connect(ctx)
		if err != nil {
			return err
		}
		s.conn = conn
	}

	log.Debug().Str("address", s.address).Hex("frame", frame).Msg("Writing frame")

	if err := s.conn.WriteCharacteristic(CharUUID, frame); err != nil {
		log.Error().Err(err).Str("address", s.address).Msg("Characteristic write failed, dropping connection")
		s.drop()
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, s.address, err)
	}

	return nil
}

// connect resolves the address and establishes a connection with bounded
// retries. Called with the mutex held.
func (s *Session) connect(ctx context.Context) (Conn, error) {
	handle, err := s.link.Resolve(ctx, s.address)
	if err != nil {
		log.Error().Err(err).Str("address", s.address).Msg("Device not found")
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnreachable, s.address)
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		conn, err := handle.Connect(ctx)
		if err == nil {
			log.Debug().Str("address", s.address).Int("attempt", attempt).Msg("Connection established")
			return conn, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("address", s.address).
			Int("attempt", attempt).Int("max_attempts", s.attempts).
			Msg("Connection attempt failed")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrConnectFailed, s.address, s.attempts, lastErr)
}

// drop discards the cached connection, disconnecting best-effort. Called
// with the mutex held.
func (s *Session) drop() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Disconnect(); err != nil {
		log.Debug().Err(err).Str("address", s.address).Msg("Disconnect while dropping connection")
	}
	s.conn = nil
}

// Close disconnects and clears the cached connection. Safe to call multiple
// times and with no connection present.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop()
	return nil
}
