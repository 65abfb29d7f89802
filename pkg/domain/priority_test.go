package domain

import "testing"

func TestPriorityForSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size int64
		want int
	}{
		{"tiny file", 100, 10},
		{"exactly 1 MiB", 1 << 20, 10},
		{"just over 1 MiB", (1 << 20) + 1, 8},
		{"exactly 5 MiB", 5 << 20, 8},
		{"exactly 10 MiB", 10 << 20, 6},
		{"exactly 50 MiB", 50 << 20, 4},
		{"huge file", 100 << 20, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriorityForSize(tt.size)
			if got != tt.want {
				t.Errorf("PriorityForSize(%d) = %d, want %d", tt.size, got, tt.want)
			}
		})
	}
}

func TestFailureReasonRetriable(t *testing.T) {
	t.Parallel()

	retriable := []FailureReason{ReasonTimeout, ReasonMemoryLimit}
	permanent := []FailureReason{ReasonUnsupportedFormat, ReasonFileCorrupted, ReasonAccessDenied, ReasonLowConfidence, ReasonPdfParsing, ReasonOther}

	for _, r := range retriable {
		if !r.Retriable() {
			t.Errorf("%v should be retriable", r)
		}
	}
	for _, r := range permanent {
		if r.Retriable() {
			t.Errorf("%v should not be retriable", r)
		}
	}
}

func TestCancellationReasonRetriable(t *testing.T) {
	t.Parallel()

	if CancelUserRequested.Retriable() {
		t.Error("UserRequested should not be retriable")
	}
	if CancelServerShutdown.Retriable() {
		t.Error("ServerShutdown should not be retriable")
	}
	if !CancelNetworkError.Retriable() {
		t.Error("NetworkError should be retriable")
	}
	if !CancelTimeout.Retriable() {
		t.Error("Timeout should be retriable")
	}
	if !CancelResourceExhausted.Retriable() {
		t.Error("ResourceExhausted should be retriable")
	}
}
