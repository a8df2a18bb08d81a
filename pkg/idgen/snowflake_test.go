package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIDIsUniqueAndIncreasing(t *testing.T) {
	Init(1)
	const n = 2000
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, n)
		wg   sync.WaitGroup
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n/4; i++ {
				id := NextID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)

	a, b := NextID(), NextID()
	assert.Less(t, a, b)
}

func TestDocumentNumbers(t *testing.T) {
	for prefix, gen := range map[string]func() string{
		"ORD": GenerateOrderNo,
		"PMT": GeneratePaymentNo,
		"REF": GenerateRefundNo,
		"PUR": GeneratePurchaseNo,
	} {
		no := gen()
		require.True(t, strings.HasPrefix(no, prefix), no)
		// 前缀 + 14 位时间 + 8 位序号
		assert.Len(t, no, len(prefix)+22)
	}
}
