package payment

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

const referenceSuffixSpace = 1 << 20

// referenceSeq yields a process-wide monotonic suffix. It starts at a random
// offset so two processes started in the same second diverge.
var referenceSeq atomic.Uint32

func init() {
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err == nil {
		referenceSeq.Store(binary.BigEndian.Uint32(seed[:]))
	}
}

// NewReference builds a correlation reference of the form
// prefix + unix seconds + payer fragment + suffix. The suffix never repeats
// within 2^20 consecutive calls of one process, so references stay unique
// even when one payer retries within the same second.
func NewReference(prefix string, now time.Time, payerID string, fragmentLen int) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(strconv.FormatInt(now.Unix(), 10))
	b.WriteString(payerFragment(payerID, fragmentLen))
	fmt.Fprintf(&b, "%05x", referenceSeq.Add(1)%referenceSuffixSpace)
	return b.String()
}

// payerFragment keeps the first n alphanumeric characters of the payer id so
// the reference stays valid for providers that only accept [A-Za-z0-9].
func payerFragment(payerID string, n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range payerID {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		b.WriteRune(r)
		if b.Len() == n {
			break
		}
	}
	return b.String()
}
