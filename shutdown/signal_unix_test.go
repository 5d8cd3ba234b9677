//go:build unix

package shutdown

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSignalsRequestsShutdown(t *testing.T) {
	s := NewSignal(nil)
	stop := s.HandleSignals(syscall.SIGUSR1)
	defer stop()

	p, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, p.Signal(syscall.SIGUSR1))

	require.True(t, s.WaitUntilSet(2*time.Second))
	assert.Contains(t, s.Reason(), "user defined signal 1")
}
