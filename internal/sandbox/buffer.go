package sandbox

import (
	"bytes"
	"errors"
	"sync"
)

var errOutputLimit = errors.New("output limit exceeded")

// outputBudget is shared by the stdout and stderr buffers of one exec.
type outputBudget struct {
	mu        sync.Mutex
	remaining int64
}

type cappedBuffer struct {
	buf    bytes.Buffer
	budget *outputBudget
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.budget.mu.Lock()
	defer b.budget.mu.Unlock()
	if int64(len(p)) > b.budget.remaining {
		b.budget.remaining = 0
		return 0, errOutputLimit
	}
	b.budget.remaining -= int64(len(p))
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
