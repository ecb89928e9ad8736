package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"
)

// StreamRecorder captures audio by reading a device stream, such as a named
// pipe fed by the platform's audio daemon, until the capture duration
// elapses or the stream ends.
type StreamRecorder struct {
	Path      string
	MediaType string
	// Open defaults to os.Open.
	Open func(path string) (io.ReadCloser, error)
}

func (r *StreamRecorder) open() (io.ReadCloser, error) {
	if r.Path == "" {
		return nil, ErrNoDevice
	}
	open := r.Open
	if open == nil {
		open = func(path string) (io.ReadCloser, error) { return os.Open(path) }
	}
	rc, err := open(r.Path)
	switch {
	case err == nil:
		return rc, nil
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	default:
		return nil, fmt.Errorf("open audio device: %w", err)
	}
}

func (r *StreamRecorder) Record(ctx context.Context, d time.Duration) (Clip, error) {
	rc, err := r.open()
	if err != nil {
		return Clip{}, err
	}

	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	ended := make(chan error, 1)
	go func() {
		chunk := make([]byte, 4096)
		for {
			n, err := rc.Read(chunk)
			if n > 0 {
				mu.Lock()
				buf.Write(chunk[:n])
				mu.Unlock()
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				ended <- err
				return
			}
		}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var readErr error
	select {
	case <-timer.C:
	case readErr = <-ended:
	case <-ctx.Done():
		rc.Close()
		return Clip{}, ctx.Err()
	}
	rc.Close()
	if readErr != nil {
		return Clip{}, fmt.Errorf("read audio device: %w", readErr)
	}

	mu.Lock()
	data := bytes.Clone(buf.Bytes())
	mu.Unlock()
	return Clip{MediaType: r.MediaType, Data: data}, nil
}
