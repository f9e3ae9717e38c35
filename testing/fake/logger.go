package fake

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// logWatcher records the output of a logger and signals the first event that
// carries the message. A zerolog event is written in a single call.
type logWatcher struct {
	sync.Mutex

	needle []byte
	output bytes.Buffer
	found  chan struct{}
	once   sync.Once
}

func newLogWatcher(msg string) *logWatcher {
	return &logWatcher{
		needle: []byte(fmt.Sprintf(`"%s"`, msg)),
		found:  make(chan struct{}),
	}
}

func (w *logWatcher) Write(p []byte) (int, error) {
	w.Lock()
	defer w.Unlock()

	w.output.Write(p)

	if bytes.Contains(p, w.needle) {
		w.once.Do(func() { close(w.found) })
	}

	return len(p), nil
}

func (w *logWatcher) String() string {
	w.Lock()
	defer w.Unlock()

	return w.output.String()
}

// WaitLog returns a logger and a function that blocks until the logger has
// printed the message. The test fails when it does not happen in time.
func WaitLog(msg string, timeout time.Duration) (zerolog.Logger, func(t *testing.T)) {
	watcher := newLogWatcher(msg)

	wait := func(t *testing.T) {
		select {
		case <-watcher.found:
		case <-time.After(timeout):
			t.Fatalf("log %q not found in %s", msg, watcher.String())
		}
	}

	return zerolog.New(watcher), wait
}

// CheckLog returns a logger and a function that verifies the logger has
// already printed the message.
func CheckLog(msg string) (zerolog.Logger, func(t *testing.T)) {
	watcher := newLogWatcher(msg)

	check := func(t *testing.T) {
		require.Contains(t, watcher.String(), string(watcher.needle))
	}

	return zerolog.New(watcher), check
}
