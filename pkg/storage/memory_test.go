package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/HatiCode/linecast/pkg/forecast"
)

func testResult(line string, hours int, generatedAt time.Time, values ...float64) *forecast.Result {
	start := time.Date(2025, 3, 3, 7, 30, 0, 0, time.UTC)
	records := make([]forecast.StepRecord, len(values))
	for i, v := range values {
		records[i] = forecast.StepRecord{Timestamp: start.Add(time.Duration(i+1) * 30 * time.Second), Value: v}
	}
	return &forecast.Result{
		Line:           line,
		Hours:          hours,
		Target:         "velocity_bpm",
		Step:           30 * time.Second,
		Version:        "20250303T0500",
		HistoryVersion: "20250303",
		GeneratedAt:    generatedAt,
		Records:        records,
	}
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() returned nil")
	}
	if store.Len() != 0 {
		t.Errorf("New store should be empty, got %d results", store.Len())
	}
}

func TestMemoryStore_Put_Get(t *testing.T) {
	tests := []struct {
		name    string
		result  *forecast.Result
		wantErr bool
	}{
		{
			name:   "valid result",
			result: testResult("L1", 12, time.Now(), 100, 101, 102),
		},
		{
			name:    "empty line",
			result:  testResult("", 12, time.Now(), 100),
			wantErr: true,
		},
		{
			name:    "line with path separator",
			result:  testResult("../L1", 12, time.Now(), 100),
			wantErr: true,
		},
		{
			name:   "no records",
			result: testResult("L2", 1, time.Now()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()

			err := store.Put(context.Background(), tt.result)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Put() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			got, found, err := store.GetLatest(context.Background(), tt.result.Line, tt.result.Hours)
			if err != nil {
				t.Fatalf("GetLatest() unexpected error = %v", err)
			}
			if !found {
				t.Fatal("GetLatest() found = false, want true")
			}
			if got.Line != tt.result.Line || got.Hours != tt.result.Hours || got.Version != tt.result.Version {
				t.Errorf("GetLatest() = %+v", got)
			}
			if len(got.Records) != len(tt.result.Records) {
				t.Errorf("len(Records) = %d, want %d", len(got.Records), len(tt.result.Records))
			}
		})
	}
}

func TestMemoryStore_GetLatest_NotFound(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(context.Background(), testResult("L1", 12, time.Now(), 1)); err != nil {
		t.Fatal(err)
	}

	for _, q := range []struct {
		line  string
		hours int
	}{{"L2", 12}, {"L1", 24}} {
		res, found, err := store.GetLatest(context.Background(), q.line, q.hours)
		if err != nil {
			t.Errorf("GetLatest() unexpected error = %v", err)
		}
		if found || res != nil {
			t.Errorf("GetLatest(%s, %d) found a result", q.line, q.hours)
		}
	}
}

func TestMemoryStore_Put_Update(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, testResult("L1", 12, time.Now(), 100)); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, testResult("L1", 12, time.Now(), 90, 91)); err != nil {
		t.Fatal(err)
	}

	got, _, _ := store.GetLatest(ctx, "L1", 12)
	if len(got.Records) != 2 || got.Records[0].Value != 90 {
		t.Errorf("last writer should win, got %+v", got.Records)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	res := testResult("L1", 12, time.Now(), 100)

	if err := store.Put(ctx, res); err != nil {
		t.Fatal(err)
	}
	res.Records[0].Value = -1

	got, _, _ := store.GetLatest(ctx, "L1", 12)
	got.Records[0].Value = -2

	again, _, _ := store.GetLatest(ctx, "L1", 12)
	if again.Records[0].Value != 100 {
		t.Errorf("stored value changed to %v", again.Records[0].Value)
	}
}

func TestMemoryStore_ContextCanceled(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, testResult("L1", 1, time.Now(), 1)); err == nil {
		t.Error("Put() with canceled context should fail")
	}
	if _, _, err := store.GetLatest(ctx, "L1", 1); err == nil {
		t.Error("GetLatest() with canceled context should fail")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			line := fmt.Sprintf("L%d", i%4)
			if err := store.Put(ctx, testResult(line, 12, time.Now(), float64(i))); err != nil {
				t.Errorf("Put() error = %v", err)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			if _, _, err := store.GetLatest(ctx, fmt.Sprintf("L%d", i%4), 12); err != nil {
				t.Errorf("GetLatest() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 4 {
		t.Errorf("Len() = %d, want 4", store.Len())
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(context.Background(), testResult("L1", 12, time.Now(), 1)); err != nil {
		t.Fatal(err)
	}

	if !store.Delete("L1", 12) {
		t.Error("Delete() = false for existing result")
	}
	if store.Delete("L1", 12) {
		t.Error("Delete() = true for deleted result")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d after delete", store.Len())
	}
}

func TestMemoryStoreWithTTL_Expiration(t *testing.T) {
	store := NewMemoryStoreWithTTL(100*time.Millisecond, 20*time.Millisecond)
	defer store.Stop()
	ctx := context.Background()

	if err := store.Put(ctx, testResult("old", 1, time.Now().Add(-time.Second), 1)); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, testResult("fresh", 1, time.Now().Add(time.Hour), 1)); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, found, _ := store.GetLatest(ctx, "old", 1); found {
		t.Error("expired result should have been removed")
	}
	if _, found, _ := store.GetLatest(ctx, "fresh", 1); !found {
		t.Error("fresh result should still exist")
	}
}

func TestMemoryStoreWithTTL_Stop(t *testing.T) {
	store := NewMemoryStoreWithTTL(time.Minute, 10*time.Millisecond)
	store.Stop()
	store.Stop()
}

func TestMemoryStore_StopWithoutTTL(t *testing.T) {
	NewMemoryStore().Stop()
}

func TestMemoryStoreWithTTL_PanicOnInvalidTTL(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for zero TTL")
		}
	}()
	NewMemoryStoreWithTTL(0, time.Minute)
}
