package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oonrumail/mailcore/internal/clock"
	"github.com/oonrumail/mailcore/internal/kinds"
	"github.com/oonrumail/mailcore/internal/store"
)

func newFixture(t *testing.T) (*store.MemStore, *clock.Fixed, *Authenticator, int64) {
	t.Helper()
	st := store.NewMemStore()
	salt := []byte("pepper")
	u := &store.User{
		Username:   "alice",
		DomainID:   1,
		PasswordHash: DeriveKey("secret!", salt),
		Salt:       salt,
		CanLogin:   true,
		CanReceive: true,
	}
	id := st.AddUser(u)

	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{Enabled: true, MaxFailedAttempts: 3, LockoutDuration: 15 * time.Minute, ResetWindow: 60 * time.Minute}
	a := New(st, nil, cfg, clk, zap.NewNop())
	return st, clk, a, id
}

func TestAuthenticateSuccess(t *testing.T) {
	_, _, a, _ := newFixture(t)
	res, err := a.Authenticate(context.Background(), 1, "alice", "secret!", "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "alice", res.Username)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	_, _, a, _ := newFixture(t)
	_, err := a.Authenticate(context.Background(), 1, "alice", "wrong", "127.0.0.1")
	require.Error(t, err)
	require.True(t, kinds.Is(err, kinds.AuthFailed))
}

// TestLockoutScenarioB exercises spec §8 scenario B: after
// max_failed_attempts consecutive failures, the very next attempt -- even
// with the correct password -- is rejected as LockedOut until the lockout
// window elapses, at which point the correct password succeeds again.
func TestLockoutScenarioB(t *testing.T) {
	_, clk, a, _ := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := a.Authenticate(ctx, 1, "alice", "wrong", "127.0.0.1")
		require.True(t, kinds.Is(err, kinds.AuthFailed), "attempt %d", i)
	}

	_, err := a.Authenticate(ctx, 1, "alice", "secret!", "127.0.0.1")
	require.Error(t, err)
	require.True(t, kinds.Is(err, kinds.LockedOut))

	clk.Advance(16 * time.Minute)
	res, err := a.Authenticate(ctx, 1, "alice", "secret!", "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "alice", res.Username)
}

// TestFloodGuardBlocksDistributedBruteForce exercises the Redis-backed
// supplementary guard (§4.3's flood-guard, distinct from the DB-authoritative
// lockout) against a real redis.Client talking to an in-memory miniredis
// server, rather than the DB-only fixture the other tests use.
func TestFloodGuardBlocksDistributedBruteForce(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	st := store.NewMemStore()
	salt := []byte("pepper")
	st.AddUser(&store.User{Username: "alice", DomainID: 1, PasswordHash: DeriveKey("secret!", salt), Salt: salt, CanLogin: true, CanReceive: true})

	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	// A low MaxFailedAttempts keeps the per-IP guard threshold
	// (20x MaxFailedAttempts) within reach of a short test loop.
	cfg := Config{Enabled: true, MaxFailedAttempts: 1, LockoutDuration: 15 * time.Minute, ResetWindow: 60 * time.Minute}
	a := New(st, rdb, cfg, clk, zap.NewNop())
	ctx := context.Background()

	// 21 failures against 21 distinct, nonexistent local parts from one
	// IP: no single identity's per-identity counter (4x MaxFailedAttempts
	// = 4) comes close to tripping, but the shared per-IP counter
	// (20x MaxFailedAttempts = 20) does.
	for i := 0; i < 21; i++ {
		username := "nobody" + string(rune('a'+i))
		_, _ = a.Authenticate(ctx, 1, username, "wrong", "203.0.113.5")
	}

	_, err = a.Authenticate(ctx, 1, "alice", "secret!", "203.0.113.5")
	require.Error(t, err)
	require.True(t, kinds.Is(err, kinds.Transient))

	// A request for the same account from a clean IP is unaffected.
	_, err = a.Authenticate(ctx, 1, "alice", "secret!", "198.51.100.9")
	require.NoError(t, err)
}

func TestResetWindowForgivesOldFailures(t *testing.T) {
	st, clk, a, id := newFixture(t)
	ctx := context.Background()

	_, _ = a.Authenticate(ctx, 1, "alice", "wrong", "127.0.0.1")
	_, _ = a.Authenticate(ctx, 1, "alice", "wrong", "127.0.0.1")

	clk.Advance(61 * time.Minute)
	_, _ = a.Authenticate(ctx, 1, "alice", "wrong", "127.0.0.1")

	u, err := st.GetUserByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, u.FailedLoginAttempts)
}
