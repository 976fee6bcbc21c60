package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-chat-backend/pkg/config"
)

// RevocationList holds revoked token ids until the tokens would have expired anyway
type RevocationList struct {
	config config.TokenRevocationConfig
	logger *zap.Logger

	mu       sync.RWMutex
	tokens   map[string]time.Time // jti -> token expiry
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRevocationList creates a revocation list
func NewRevocationList(cfg config.TokenRevocationConfig, logger *zap.Logger) *RevocationList {
	cfg.SetDefaults()
	return &RevocationList{
		config:   cfg,
		logger:   logger.Named("revocation"),
		tokens:   make(map[string]time.Time),
		stopChan: make(chan struct{}),
	}
}

// Start runs the cleanup worker
func (r *RevocationList) Start() {
	if !r.config.Enabled {
		r.logger.Info("Token revocation disabled")
		return
	}

	r.wg.Add(1)
	go r.cleanupLoop()

	r.logger.Info("Token revocation started",
		zap.Int("cleanup_interval_seconds", r.config.CleanupIntervalSeconds),
	)
}

// Stop stops the cleanup worker. Safe to call more than once.
func (r *RevocationList) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

func (r *RevocationList) cleanupLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Duration(r.config.CleanupIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.cleanup(time.Now())
		}
	}
}

func (r *RevocationList) cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for jti, expiry := range r.tokens {
		if now.After(expiry) {
			delete(r.tokens, jti)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Debug("Cleaned up expired revocations",
			zap.Int("removed", removed),
			zap.Int("remaining", len(r.tokens)),
		)
	}
	return removed
}

// Revoke records jti as revoked until expiry. Tokens without a jti cannot be revoked.
func (r *RevocationList) Revoke(ctx context.Context, jti string, expiry time.Time) error {
	if !r.config.Enabled || jti == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[jti] = expiry

	r.logger.Info("Token revoked", zap.String("jti", jti), zap.Time("expiry", expiry))
	return nil
}

// IsRevoked implements RevocationChecker
func (r *RevocationList) IsRevoked(ctx context.Context, jti string) bool {
	if !r.config.Enabled || jti == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	expiry, ok := r.tokens[jti]
	if !ok {
		return false
	}
	return !time.Now().After(expiry)
}

// Count returns the number of revoked tokens held
func (r *RevocationList) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
