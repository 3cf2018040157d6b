package flasher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// DefaultWriteBufferBytes is the copy chunk size for raw device writes.
const DefaultWriteBufferBytes = 4 * 1024 * 1024

// ProgressFunc is called as raw bytes land on the device.
type ProgressFunc func(written, total int64)

// RawWriter copies an image byte-for-byte onto a device.
type RawWriter interface {
	Write(ctx context.Context, imagePath, devicePath string, progress ProgressFunc) (int64, error)
}

// FileRawWriter writes through the regular file interface of the block
// device node and fsyncs before returning.
type FileRawWriter struct {
	BufferBytes int
}

func (w *FileRawWriter) Write(ctx context.Context, imagePath, devicePath string, progress ProgressFunc) (int64, error) {
	bufSize := w.BufferBytes
	if bufSize <= 0 {
		bufSize = DefaultWriteBufferBytes
	}

	src, err := os.Open(imagePath)
	if err != nil {
		return 0, fmt.Errorf("opening image: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, err
	}
	total := info.Size()

	dst, err := os.OpenFile(devicePath, os.O_WRONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("opening device for writing: %w", err)
	}
	defer dst.Close()

	buf := make([]byte, bufSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("writing to device: %w", werr)
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("reading image: %w", rerr)
		}
	}

	if err := unix.Fsync(int(dst.Fd())); err != nil {
		return written, fmt.Errorf("flushing device: %w", err)
	}
	return written, nil
}

// VerifyWrite hashes the image and the first len(image) bytes of the
// device concurrently and fails when the digests differ.
func VerifyWrite(ctx context.Context, imagePath, devicePath string) error {
	info, err := os.Stat(imagePath)
	if err != nil {
		return err
	}
	length := info.Size()

	var imageSum, deviceSum []byte
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sum, err := hashFile(ctx, imagePath, length)
		imageSum = sum
		return err
	})
	g.Go(func() error {
		sum, err := hashFile(ctx, devicePath, length)
		deviceSum = sum
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("verifying written image: %w", err)
	}

	if !bytes.Equal(imageSum, deviceSum) {
		return fmt.Errorf("verification failed: device content does not match image %s", imagePath)
	}
	return nil
}

func hashFile(ctx context.Context, path string, length int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	r := io.LimitReader(f, length)
	buf := make([]byte, DefaultWriteBufferBytes)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}
	return h.Sum(nil), nil
}
