package limit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"edgauth.org/internal/auth"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestThrottleFixedWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	th := NewRedisThrottle(client, Config{Window: time.Minute, Max: map[string]int{auth.ScopeLogin: 3}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := th.Allow(ctx, auth.ScopeLogin, "cliente:a@b.com")
		if err != nil || !ok {
			t.Fatalf("attempt %d: Allow = %v, %v", i, ok, err)
		}
		if err := th.Hit(ctx, auth.ScopeLogin, "cliente:a@b.com"); err != nil {
			t.Fatalf("Hit: %v", err)
		}
	}
	ok, err := th.Allow(ctx, auth.ScopeLogin, "cliente:a@b.com")
	if err != nil || ok {
		t.Fatalf("expected throttled, got %v, %v", ok, err)
	}
	if ttl := mr.TTL("edgauth:throttle:login:cliente:a@b.com"); ttl != time.Minute {
		t.Fatalf("expected window ttl, got %v", ttl)
	}

	other, _ := th.Allow(ctx, auth.ScopeLogin, "cliente:c@d.com")
	if !other {
		t.Fatal("other subjects must not be affected")
	}

	mr.FastForward(time.Minute + time.Second)
	ok, err = th.Allow(ctx, auth.ScopeLogin, "cliente:a@b.com")
	if err != nil || !ok {
		t.Fatalf("window should have reset, got %v, %v", ok, err)
	}
}

func TestThrottleClear(t *testing.T) {
	_, client := newTestRedis(t)
	th := NewRedisThrottle(client, Config{Max: map[string]int{auth.ScopeLogin: 1}})
	ctx := context.Background()

	_ = th.Hit(ctx, auth.ScopeLogin, "k")
	if ok, _ := th.Allow(ctx, auth.ScopeLogin, "k"); ok {
		t.Fatal("expected throttled")
	}
	if err := th.Clear(ctx, auth.ScopeLogin, "k"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ok, _ := th.Allow(ctx, auth.ScopeLogin, "k"); !ok {
		t.Fatal("expected allowed after clear")
	}
}

func TestThrottleUnlimitedScope(t *testing.T) {
	mr, client := newTestRedis(t)
	th := NewRedisThrottle(client, Config{Max: map[string]int{auth.ScopeLogin: 1}})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := th.Hit(ctx, auth.ScopeReset, "k"); err != nil {
			t.Fatalf("Hit: %v", err)
		}
	}
	if ok, _ := th.Allow(ctx, auth.ScopeReset, "k"); !ok {
		t.Fatal("scope without ceiling must stay open")
	}
	if mr.Exists("edgauth:throttle:reset:k") {
		t.Fatal("unlimited scope should not write counters")
	}
}

func TestThrottleBackendDown(t *testing.T) {
	mr, client := newTestRedis(t)
	th := NewRedisThrottle(client, Config{Max: map[string]int{auth.ScopeLogin: 1}})
	mr.Close()
	_, err := th.Allow(context.Background(), auth.ScopeLogin, "k")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := th.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ping failure, got %v", err)
	}
}

func TestServiceLoginThrottledThroughRedis(t *testing.T) {
	_, client := newTestRedis(t)
	th := NewRedisThrottle(client, Config{Window: time.Minute, Max: map[string]int{auth.ScopeLogin: 2}})

	store := auth.NewMemoryStore()
	admin, _ := auth.NewRoleAdmin(store, nil)
	if _, err := admin.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	tokens, _ := auth.NewTokenIssuer("secret")
	svc, err := auth.NewService(store, tokens,
		auth.WithThrottle(th),
		auth.WithPasswordManager(auth.NewPasswordManager(auth.WithBcryptCost(4))),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	bad := auth.Credentials{Email: "nobody@example.com", Password: "Wrong123", AccountType: auth.AccountTypeCliente}
	for i := 0; i < 2; i++ {
		if _, err := svc.Login(context.Background(), bad, auth.ClientInfo{}); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := svc.Login(context.Background(), bad, auth.ClientInfo{}); !errors.Is(err, auth.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}
