package account_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/abrechnung/console/internal/account"
)

func BenchmarkValidate(b *testing.B) {
	f := account.Form{CurrentPassword: "old1", NewPassword: "correct horse", NewPasswordConfirmation: "correct horse battery"}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = account.Validate(f)
	}
}

func BenchmarkSubmitMemoryGuard(b *testing.B) {
	s := account.NewSubmitter(account.SubmitterConfig{Changer: &fakeChanger{}})
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = s.Submit(ctx, "bench", alice, validForm(), account.DiscardNotifier{})
	}
}

func TestValidateLatencyTarget(t *testing.T) {
	samples := make([]time.Duration, 0, 200)
	f := account.Form{NewPassword: "abc", NewPasswordConfirmation: "abd"}
	for i := 0; i < cap(samples); i++ {
		start := time.Now()
		_ = account.Validate(f)
		samples = append(samples, time.Since(start))
	}
	// Validation runs on every keystroke of the live form.
	if p95 := percentile95(samples); p95 > 5*time.Millisecond {
		t.Fatalf("validate latency regression: p95=%s", p95)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[int(float64(len(sorted)-1)*0.95)]
}
