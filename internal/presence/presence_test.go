package presence

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func exerciseStore(t *testing.T, s Store, session string) {
	t.Helper()
	ctx := context.Background()

	if err := s.Join(ctx, session, "b"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := s.Join(ctx, session, "a"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := s.Join(ctx, session, "a"); err != nil {
		t.Fatalf("Join (repeat): %v", err)
	}

	got, err := s.Participants(ctx, session)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Participants=%v, want [a b]", got)
	}

	if err := s.Leave(ctx, session, "a"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := s.Leave(ctx, session, "missing"); err != nil {
		t.Fatalf("Leave (missing): %v", err)
	}
	got, err = s.Participants(ctx, session)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("Participants=%v, want [b]", got)
	}

	if err := s.Leave(ctx, session, "b"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	got, err = s.Participants(ctx, session)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Participants=%v, want empty", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), "room")
}

func TestMemoryStore_SessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Join(ctx, "one", "a")
	_ = s.Join(ctx, "two", "b")

	got, _ := s.Participants(ctx, "one")
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("one=%v, want [a]", got)
	}
	got, _ = s.Participants(ctx, "unknown")
	if len(got) != 0 {
		t.Fatalf("unknown=%v, want empty", got)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			_ = s.Join(ctx, "room", id)
			_, _ = s.Participants(ctx, "room")
			if i%2 == 0 {
				_ = s.Leave(ctx, "room", id)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.Participants(ctx, "room")
	if len(got) != 16 {
		t.Fatalf("len=%d, want 16", len(got))
	}
}

// Set PRESENCE_TEST_REDIS_ADDR (e.g. 127.0.0.1:6379) to run against a real
// server.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("PRESENCE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PRESENCE_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s, "test-"+uuid.NewString())
}

func TestNewRedisStore_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := NewRedisStore(ctx, RedisOptions{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatalf("expected error connecting to a closed port")
	}
}
