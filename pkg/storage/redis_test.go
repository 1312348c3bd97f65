//go:build integration

package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a Redis container for testing
func setupRedisContainer(t *testing.T) (*redis.RedisContainer, string) {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
		redis.WithSnapshotting(10, 1),
		redis.WithLogLevel(redis.LogLevelVerbose),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	// Strip "redis://" prefix if present
	addr := endpoint
	if len(endpoint) > 8 && endpoint[:8] == "redis://" {
		addr = endpoint[8:]
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return redisContainer, addr
}

func TestRedisStore_NewRedisStore_Success(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 1*time.Minute)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisStore_NewRedisStore_InvalidArgs(t *testing.T) {
	if _, err := NewRedisStore("", "", 0, time.Minute); err == nil {
		t.Error("expected error for empty address")
	}
	if _, err := NewRedisStore("localhost:6379", "", -1, time.Minute); err == nil {
		t.Error("expected error for negative database")
	}
	if _, err := NewRedisStore("invalid:99999", "", 0, time.Minute); err == nil {
		t.Error("expected error for invalid address")
	}
}

func TestRedisStore_PutGet(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	day := time.Date(2025, 3, 3, 7, 30, 0, 0, time.UTC)
	if err := store.Put(ctx, testResult("L1", 12, day, 100, 101)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, testResult("L1", 12, day.AddDate(0, 0, 1), 90)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	latest, found, err := store.GetLatest(ctx, "L1", 12)
	if err != nil || !found {
		t.Fatalf("GetLatest = %v, %v", found, err)
	}
	if len(latest.Records) != 1 || latest.Records[0].Value != 90 {
		t.Errorf("latest records = %+v", latest.Records)
	}
	if latest.Version != "20250303T0500" || latest.Target != "velocity_bpm" {
		t.Errorf("latest = %+v", latest)
	}

	dated, found, err := store.Get(ctx, Key{Line: "L1", Hours: 12, Date: "2025-03-03"})
	if err != nil || !found {
		t.Fatalf("Get = %v, %v", found, err)
	}
	if len(dated.Records) != 2 || !dated.Records[0].Timestamp.Equal(day.Add(30*time.Second)) {
		t.Errorf("dated records = %+v", dated.Records)
	}

	if _, found, err := store.GetLatest(ctx, "L9", 12); err != nil || found {
		t.Errorf("GetLatest(L9) = %v, %v", found, err)
	}
	if err := store.Put(ctx, testResult("bad line", 12, day, 1)); err == nil {
		t.Error("expected error for invalid line name")
	}
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Put(context.Background(), testResult("L1", 1, time.Now(), 1)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, found, _ := store.GetLatest(context.Background(), "L1", 1); !found {
		t.Fatal("expected result to be found immediately after Put")
	}

	time.Sleep(3 * time.Second)

	_, found, err := store.GetLatest(context.Background(), "L1", 1)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if found {
		t.Error("expected result to be expired")
	}
}

func TestRedisStore_Concurrency_MultiplePuts(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range 10 {
				res := testResult(fmt.Sprintf("line-%d", id), j+1, time.Now(), float64(j))
				if err := store.Put(context.Background(), res); err != nil {
					t.Errorf("Put failed in goroutine %d: %v", id, err)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := range 10 {
		for j := range 10 {
			res, found, err := store.GetLatest(context.Background(), fmt.Sprintf("line-%d", i), j+1)
			if err != nil || !found {
				t.Fatalf("GetLatest(line-%d, %d) = %v, %v", i, j+1, found, err)
			}
			if res.Records[0].Value != float64(j) {
				t.Errorf("line-%d/%dh value = %v", i, j+1, res.Records[0].Value)
			}
		}
	}
}

func TestRedisStore_Close_Idempotent(t *testing.T) {
	_, addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
