package retry

import "testing"

// TestFastRetries reduces the initial retry delay to 1 millisecond and the
// maximum elapsed time to 200 milliseconds.
func TestFastRetries(_ testing.TB) {
	fastRetries = true
}
