package payment_test

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gym-payments/internal/payment"
)

func TestNewReferenceFormat(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ref := payment.NewReference("T", now, "a.b-c@example.com", 4)
	require.Regexp(t, regexp.MustCompile(`^T1700000000abce[0-9a-f]{5}$`), ref)

	ref = payment.NewReference("EP", now, "ignored", 0)
	require.Regexp(t, regexp.MustCompile(`^EP1700000000[0-9a-f]{5}$`), ref)
}

func TestNewReferenceUniqueWithinSameSecond(t *testing.T) {
	now := time.Unix(1700000000, 0)
	const n = 2000
	var mu sync.Mutex
	seen := make(map[string]struct{}, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref := payment.NewReference("T", now, "payer@example.com", 4)
			mu.Lock()
			seen[ref] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)
}
