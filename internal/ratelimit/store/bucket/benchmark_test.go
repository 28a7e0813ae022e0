package bucket

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// BenchmarkAllow measures single-threaded throughput.
func BenchmarkAllow(b *testing.B) {
	store := NewInMemoryCounterStore()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Allow(ctx, "bench-key", 1000, time.Minute)
	}
}

// BenchmarkAllow_Parallel measures concurrent throughput on one hot key.
func BenchmarkAllow_Parallel(b *testing.B) {
	store := NewInMemoryCounterStore()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = store.Allow(ctx, "bench-key", 1000, time.Minute)
		}
	})
}

// BenchmarkAllow_ManyKeys measures throughput across disjoint keys, the
// realistic shape when many identities hit many routes.
func BenchmarkAllow_ManyKeys(b *testing.B) {
	store := NewInMemoryCounterStore()
	ctx := context.Background()

	keys := make([]string, 1024)
	for i := range keys {
		keys[i] = fmt.Sprintf("rl:ip:10.0.%d.%d:GET /api/leads", i/256, i%256)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Allow(ctx, keys[i%len(keys)], 100, time.Minute)
	}
}
