package orchestrate

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"stocksync/internal/slogx"
)

// newWorkerLog builds the logger worker goroutines share during a pass.
// Lines funnel through a single channel and one drain goroutine owns the
// output writer, so concurrent workers never interleave partial lines.
// The returned stop func closes the channel and waits for the drain.
func newWorkerLog(out io.Writer) (*slog.Logger, func()) {
	lines := make(chan string, 2048)
	logger := slogx.NewChanLogger(lines)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for s := range lines {
			fmt.Fprintln(out, s)
		}
	}()
	return logger, func() {
		close(lines)
		wg.Wait()
	}
}
