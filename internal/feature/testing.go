package feature

import "testing"

// TestSetFlag sets flag to value for the duration of the test. The previous
// value is restored when the test finishes.
func TestSetFlag(t testing.TB, f *FlagSet, flag FlagName, value bool) {
	t.Helper()

	previous := f.Enabled(flag)
	f.enabled[flag] = value

	t.Cleanup(func() {
		f.enabled[flag] = previous
	})
}
