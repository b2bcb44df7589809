package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Concurrent producers with the async queue enabled; Stop must drain it.
func TestHighVolumeLogging(t *testing.T) {
	Start()

	const numGoroutines = 10
	const logsPerGoroutine = 200

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < logsPerGoroutine; j++ {
				Infof("[test] worker %d: order %d", id, j)
			}
		}(i)
	}
	wg.Wait()
	Stop()

	tail := Tail(10)
	require.Len(t, tail, 10)
	for _, line := range tail {
		assert.Contains(t, line, "[INFO] [test] worker")
	}
}

func TestTailOrderAndLevels(t *testing.T) {
	Warnf("tail-order %d", 1)
	Errorf("tail-order %d", 2)
	Infof("tail-order %d", 3)

	tail := Tail(3)
	require.Len(t, tail, 3)
	assert.True(t, strings.HasSuffix(tail[0], "[WARN] tail-order 1"), tail[0])
	assert.True(t, strings.HasSuffix(tail[1], "[ERROR] tail-order 2"), tail[1])
	assert.True(t, strings.HasSuffix(tail[2], "[INFO] tail-order 3"), tail[2])

	assert.Nil(t, Tail(0))
}

func TestDebugToggle(t *testing.T) {
	EnableDebug(false)
	Debugf("hidden-debug-line")
	assert.NotContains(t, strings.Join(Tail(5), "\n"), "hidden-debug-line")

	EnableDebug(true)
	defer EnableDebug(false)
	Debugf("shown-debug-line")
	assert.Contains(t, strings.Join(Tail(5), "\n"), "[DEBUG] shown-debug-line")
}

func TestConfigureWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "orders.log")
	require.NoError(t, Configure(Config{Level: "info", OutputFile: path, MaxSize: 1}))
	defer func() { _ = Configure(Config{Level: "info"}) }()

	Infof("[test] written to %s", "file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[test] written to file")
	assert.Contains(t, strings.Join(Tail(1), ""), "[test] written to file")
}

// The async worker must follow a backend installed after Start.
func TestConfigureAfterStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.log")
	Start()
	require.NoError(t, Configure(Config{Level: "info", OutputFile: path, MaxSize: 1}))
	defer func() { _ = Configure(Config{Level: "info"}) }()

	Infof("[test] queued after configure")
	Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[test] queued after configure")
}

func TestConfigureRejectsBadLevel(t *testing.T) {
	err := Configure(Config{Level: "verbose"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `LOG_LEVEL "verbose"`)

	require.NoError(t, Configure(Config{}))
	assert.False(t, DebugOn())

	require.NoError(t, Configure(Config{Level: "debug"}))
	assert.True(t, DebugOn())
	require.NoError(t, Configure(Config{Level: "info"}))
	assert.False(t, DebugOn())
}

// Concurrent tail reads while the buffer is full.
func BenchmarkTailConcurrent(b *testing.B) {
	Start()
	for i := 0; i < 2000; i++ {
		Infof("Test log entry %d", i)
	}
	Stop()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if len(Tail(50)) == 0 {
				b.Errorf("Tail returned no entries")
			}
		}
	})
}

func BenchmarkDebugDisabled(b *testing.B) {
	EnableDebug(false)
	for i := 0; i < b.N; i++ {
		Debugf("not formatted: %d %s", i, fmt.Sprint("expensive"))
	}
}
