package flasher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestDevice creates a zero-filled file standing in for a block
// device.
func writeTestDevice(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func writeTestImage(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.iso")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func patternBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestFileRawWriter(t *testing.T) {
	content := patternBytes(3*1024 + 17)
	image := writeTestImage(t, content)
	dev := writeTestDevice(t, 8*1024)

	var lastWritten, lastTotal int64
	calls := 0
	w := &FileRawWriter{BufferBytes: 1024}
	n, err := w.Write(context.Background(), image, dev, func(written, total int64) {
		require.GreaterOrEqual(t, written, lastWritten, "progress must be monotonic")
		lastWritten, lastTotal = written, total
		calls++
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, int64(len(content)), lastWritten)
	assert.Equal(t, int64(len(content)), lastTotal)
	assert.Equal(t, 4, calls)

	got, err := os.ReadFile(dev)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got[:len(content)]), "device prefix must match image")
	for _, b := range got[len(content):] {
		require.Zero(t, b, "bytes past the image must be untouched")
	}
}

func TestFileRawWriterCancel(t *testing.T) {
	image := writeTestImage(t, patternBytes(1024))
	dev := writeTestDevice(t, 2048)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &FileRawWriter{}
	_, err := w.Write(ctx, image, dev, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileRawWriterMissingImage(t *testing.T) {
	dev := writeTestDevice(t, 1024)
	w := &FileRawWriter{}
	_, err := w.Write(context.Background(), "/nonexistent/image.iso", dev, nil)
	assert.Error(t, err)
}

func TestVerifyWrite(t *testing.T) {
	content := patternBytes(4096)
	image := writeTestImage(t, content)

	// the device is larger than the image, only the prefix counts
	dev := writeTestDevice(t, 8192)
	w := &FileRawWriter{}
	_, err := w.Write(context.Background(), image, dev, nil)
	require.NoError(t, err)

	require.NoError(t, VerifyWrite(context.Background(), image, dev))
}

func TestVerifyWriteDetectsCorruption(t *testing.T) {
	content := patternBytes(4096)
	image := writeTestImage(t, content)
	dev := writeTestDevice(t, 8192)

	w := &FileRawWriter{}
	_, err := w.Write(context.Background(), image, dev, nil)
	require.NoError(t, err)

	// flip one byte in the middle of the written range
	f, err := os.OpenFile(dev, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff}, 2000)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = VerifyWrite(context.Background(), image, dev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification failed")
}
