// Package auth implements the Authenticator & Lockout component (spec
// §4.3): PBKDF2-HMAC-SHA256 password verification with a DB-authoritative
// failed-attempt counter and lockout window, plus a Redis-backed
// supplementary flood guard that can reject obvious abuse early without
// ever overriding the DB's lockout state.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/oonrumail/mailcore/internal/clock"
	"github.com/oonrumail/mailcore/internal/kinds"
	"github.com/oonrumail/mailcore/internal/store"
)

const (
	pbkdf2Iterations = 10000
	pbkdf2KeyLength  = 32
)

// Config mirrors spec §4.3's "Configuration ENUMERATED" block.
type Config struct {
	Enabled           bool
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	ResetWindow       time.Duration
}

// DefaultConfig returns spec.md's documented defaults (5/15min/60min).
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MaxFailedAttempts: 5,
		LockoutDuration:   15 * time.Minute,
		ResetWindow:       60 * time.Minute,
	}
}

// Result is what a successful authenticate returns.
type Result struct {
	UserID   int64
	DomainID int64
	Username string
	Role     store.Role
}

// Authenticator verifies (domain, username, password) against the
// Message Store, shared unchanged across SMTP AUTH, IMAP LOGIN/
// AUTHENTICATE, and POP3 USER/PASS — "model it as a capability the
// session receives at construction; do not branch on protocol inside
// it" (Design Note).
type Authenticator struct {
	store  store.Store
	redis  *redis.Client
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
}

func New(st store.Store, rdb *redis.Client, cfg Config, clk clock.Clock, logger *zap.Logger) *Authenticator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Authenticator{store: st, redis: rdb, cfg: cfg, clock: clk, logger: logger}
}

// DeriveKey computes the PBKDF2-HMAC-SHA256 key for a password and salt,
// per spec §4.3 step 3 / §8 invariant 5.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLength, sha256.New)
}

// ResolveDomainID looks up the tenant-store-local DomainSettings.ID for a
// domain name, the value callers then pass to Authenticate as domainID.
// Kept on Authenticator rather than exposing the store directly, since
// every protocol session already holds an *Authenticator but not a
// store.Store of its own.
func (a *Authenticator) ResolveDomainID(ctx context.Context, name string) (int64, error) {
	d, err := a.store.GetDomainByName(ctx, name)
	if err != nil {
		return 0, err
	}
	return d.ID, nil
}

// Authenticate runs spec §4.3's full algorithm for one (domainID,
// username, password, clientIP) attempt.
func (a *Authenticator) Authenticate(ctx context.Context, domainID int64, username, password, clientIP string) (*Result, error) {
	if a.redis != nil {
		if blocked, err := a.floodGuardBlocked(ctx, username, clientIP); err == nil && blocked {
			a.audit(username, false, "flood-guard")
			return nil, kinds.New(kinds.Transient, "too many attempts, try again later")
		}
	}

	u, err := a.store.GetUserByUsername(ctx, domainID, username)
	if err != nil {
		// Uniform response: do not leak whether the account exists. Still
		// feed the flood guard so brute force against nonexistent local
		// parts gets blunted the same as brute force against a real one.
		if a.redis != nil {
			a.bumpFloodGuard(ctx, username, clientIP)
		}
		a.audit(username, false, "no such user")
		return nil, kinds.New(kinds.AuthFailed, "invalid credentials")
	}

	now := a.clock.Now()

	if u.LockoutEnd != nil && u.LockoutEnd.After(now) {
		a.audit(username, false, "locked out")
		return nil, kinds.LockedOutUntil(*u.LockoutEnd)
	}

	if !u.CanLogin {
		a.audit(username, false, "login disabled")
		return nil, kinds.New(kinds.AuthFailed, "invalid credentials")
	}

	if len(u.PasswordHash) == 0 {
		a.audit(username, false, "no password set")
		return nil, kinds.New(kinds.AuthFailed, "invalid credentials")
	}

	derived := DeriveKey(password, u.Salt)
	ok := subtle.ConstantTimeCompare(derived, u.PasswordHash) == 1

	if !ok {
		if err := a.recordFailure(ctx, u, now); err != nil {
			a.logger.Warn("record login failure", zap.Error(err))
		}
		if a.redis != nil {
			a.bumpFloodGuard(ctx, username, clientIP)
		}
		a.audit(username, false, "bad password")
		return nil, kinds.New(kinds.AuthFailed, "invalid credentials")
	}

	if err := a.store.UpdateLoginSuccess(ctx, u.ID, now); err != nil {
		a.logger.Warn("record login success", zap.Error(err))
	}
	if a.redis != nil {
		a.clearFloodGuard(ctx, username, clientIP)
	}
	a.audit(username, true, "")
	return &Result{UserID: u.ID, DomainID: u.DomainID, Username: u.Username, Role: u.Role}, nil
}

// recordFailure implements spec §4.3 step 5: the reset-window/threshold/
// lockout-duration bookkeeping, always against the DB row (the Redis
// guard above is a supplement, never authoritative).
func (a *Authenticator) recordFailure(ctx context.Context, u *store.User, now time.Time) error {
	if !a.cfg.Enabled {
		return nil
	}

	attempts := u.FailedLoginAttempts
	if u.LastFailedLogin == nil || now.Sub(*u.LastFailedLogin) > a.cfg.ResetWindow {
		attempts = 1
	} else {
		attempts++
	}

	var lockoutEnd *time.Time
	if attempts >= a.cfg.MaxFailedAttempts {
		end := now.Add(a.cfg.LockoutDuration)
		lockoutEnd = &end
	}

	return a.store.UpdateLoginFailure(ctx, u.ID, attempts, lockoutEnd, now)
}

func (a *Authenticator) audit(username string, success bool, reason string) {
	if a.logger == nil {
		return
	}
	fields := []zap.Field{zap.String("email", maskEmail(username)), zap.Bool("success", success)}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	a.logger.Info("auth attempt", fields...)
}

// maskEmail masks a local part for audit logs, e.g. "alice" -> "al***".
func maskEmail(username string) string {
	if at := strings.IndexByte(username, '@'); at >= 0 {
		local, domain := username[:at], username[at:]
		return maskLocal(local) + domain
	}
	return maskLocal(username)
}

func maskLocal(local string) string {
	if len(local) <= 2 {
		return local + "***"
	}
	return local[:2] + "***"
}

func (a *Authenticator) floodGuardKey(username, clientIP string) (string, string) {
	return fmt.Sprintf("mailcore:auth:fail:email:%s", username), fmt.Sprintf("mailcore:auth:fail:ip:%s", clientIP)
}

func (a *Authenticator) floodGuardBlocked(ctx context.Context, username, clientIP string) (bool, error) {
	emailKey, ipKey := a.floodGuardKey(username, clientIP)
	emailCount, err := a.redis.Get(ctx, emailKey).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	ipCount, err := a.redis.Get(ctx, ipKey).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	// Flood threshold is intentionally looser than the DB lockout
	// threshold: this guard exists to blunt distributed brute force
	// across many usernames from one IP, not to duplicate §4.3's lockout.
	return emailCount > a.cfg.MaxFailedAttempts*4 || ipCount > a.cfg.MaxFailedAttempts*20, nil
}

func (a *Authenticator) bumpFloodGuard(ctx context.Context, username, clientIP string) {
	emailKey, ipKey := a.floodGuardKey(username, clientIP)
	pipe := a.redis.TxPipeline()
	pipe.Incr(ctx, emailKey)
	pipe.Expire(ctx, emailKey, a.cfg.ResetWindow)
	pipe.Incr(ctx, ipKey)
	pipe.Expire(ctx, ipKey, a.cfg.ResetWindow)
	if _, err := pipe.Exec(ctx); err != nil && a.logger != nil {
		a.logger.Warn("flood guard increment failed", zap.Error(err))
	}
}

func (a *Authenticator) clearFloodGuard(ctx context.Context, username, clientIP string) {
	emailKey, ipKey := a.floodGuardKey(username, clientIP)
	a.redis.Del(ctx, emailKey, ipKey)
}
