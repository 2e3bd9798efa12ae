package test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/rastercache/rastercache/internal/errors"

	mrand "math/rand"
)

// Assert fails the test if the condition is false.
func Assert(tb testing.TB, condition bool, msg string, v ...interface{}) {
	if !condition {
		_, file, line, _ := runtime.Caller(1)
		fmt.Printf("\033[31m%s:%d: "+msg+"\033[39m\n\n", append([]interface{}{filepath.Base(file), line}, v...)...)
		tb.FailNow()
	}
}

// OK fails the test if an err is not nil.
func OK(tb testing.TB, err error) {
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		fmt.Printf("\033[31m%s:%d: unexpected error: %+v\033[39m\n\n", filepath.Base(file), line, err)
		tb.FailNow()
	}
}

// Equals fails the test if exp is not equal to act.
func Equals(tb testing.TB, exp, act interface{}) {
	if !reflect.DeepEqual(exp, act) {
		_, file, line, _ := runtime.Caller(1)
		fmt.Printf("\033[31m%s:%d:\n\n\texp: %#v\n\n\tgot: %#v\033[39m\n\n", filepath.Base(file), line, exp, act)
		tb.FailNow()
	}
}

// EqualBytes fails the test if the two byte slices differ. Only the first
// bytes are printed, blocks are usually large.
func EqualBytes(tb testing.TB, exp, act []byte) {
	if !bytes.Equal(exp, act) {
		_, file, line, _ := runtime.Caller(1)
		fmt.Printf("\033[31m%s:%d: data differs, len %d vs %d\n\n\texp: %02x\n\n\tgot: %02x\033[39m\n\n",
			filepath.Base(file), line, len(exp), len(act), head(exp), head(act))
		tb.FailNow()
	}
}

func head(buf []byte) []byte {
	if len(buf) > 16 {
		return buf[:16]
	}
	return buf
}

// Random returns count bytes of pseudo-random data derived from the seed.
func Random(seed, count int) []byte {
	p := make([]byte, count)

	rnd := mrand.New(mrand.NewSource(int64(seed)))

	for i := 0; i < len(p); i += 8 {
		val := rnd.Int63()
		for j := 0; j < 8 && i+j < len(p); j++ {
			p[i+j] = byte(val >> (8 * j))
		}
	}

	return p
}

// RemoveAll removes path, a missing path is not an error.
func RemoveAll(t testing.TB, path string) {
	err := os.RemoveAll(path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	OK(t, err)
}

// TempDir returns a temporary directory that is removed by t.Cleanup,
// except if TestCleanupTempDirs is set to false.
func TempDir(t testing.TB) string {
	tempdir, err := os.MkdirTemp(TestTempDir, "rastercache-test-")
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if !TestCleanupTempDirs {
			t.Logf("leaving temporary directory %v used for test", tempdir)
			return
		}

		RemoveAll(t, tempdir)
	})
	return tempdir
}

// AssertPanic runs fn and fails the test unless it panics. The recovered
// value is returned.
func AssertPanic(tb testing.TB, fn func()) (recovered interface{}) {
	defer func() {
		recovered = recover()
		if recovered == nil {
			_, file, line, _ := runtime.Caller(2)
			fmt.Printf("\033[31m%s:%d: expected a panic\033[39m\n\n", filepath.Base(file), line)
			tb.FailNow()
		}
	}()

	fn()
	return nil
}
