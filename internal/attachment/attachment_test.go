package attachment

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestEncodeImageDeclaredType(t *testing.T) {
	e := NewEncoder(nil)
	uri, err := e.EncodeImage(File{Name: "cat.png", MediaType: "image/png", Data: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,YWJj", uri)
}

func TestEncodeImageSniffsMissingType(t *testing.T) {
	e := NewEncoder(nil)
	uri, err := e.EncodeImage(File{Name: "upload", Data: pngHeader})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"), uri)
}

func TestEncodeImageRejectsOtherTypes(t *testing.T) {
	e := NewEncoder(nil)
	_, err := e.EncodeImage(File{Name: "notes.txt", MediaType: "text/plain", Data: []byte("hi")})
	assert.ErrorIs(t, err, ErrNotImage)

	// declared type wins over content
	_, err = e.EncodeImage(File{Name: "x.pdf", MediaType: "application/pdf", Data: pngHeader})
	assert.ErrorIs(t, err, ErrNotImage)
}

type fakeRecorder struct {
	clip Clip
	err  error
	got  time.Duration
}

func (f *fakeRecorder) Record(_ context.Context, d time.Duration) (Clip, error) {
	f.got = d
	return f.clip, f.err
}

func TestCaptureAudioUsesFixedDuration(t *testing.T) {
	rec := &fakeRecorder{clip: Clip{Data: []byte("voice")}}
	e := NewEncoder(rec)

	uri, err := e.CaptureAudio(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CaptureDuration, rec.got)
	assert.Equal(t, "data:audio/webm;base64,dm9pY2U=", uri)
}

func TestCaptureAudioPermissionDenied(t *testing.T) {
	e := NewEncoder(&fakeRecorder{err: ErrPermissionDenied})
	_, err := e.CaptureAudio(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = NewEncoder(nil).CaptureAudio(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestEncodeAudioRejectsNonAudio(t *testing.T) {
	e := NewEncoder(nil, WithAudioType("audio/ogg"))
	uri, err := e.EncodeAudio(Clip{Data: []byte{1}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:audio/ogg;base64,"))

	_, err = e.EncodeAudio(Clip{MediaType: "image/png", Data: []byte{1}})
	assert.Error(t, err)
}

func TestParseDataURI(t *testing.T) {
	mediaType, data, err := ParseDataURI(DataURI("audio/webm", []byte("clip")))
	require.NoError(t, err)
	assert.Equal(t, "audio/webm", mediaType)
	assert.Equal(t, []byte("clip"), data)

	_, _, err = ParseDataURI("http://example.com/a.png")
	assert.ErrorIs(t, err, ErrInvalidDataURI)
	_, _, err = ParseDataURI("data:text/plain,hello")
	assert.ErrorIs(t, err, ErrInvalidDataURI)
}

func TestStreamRecorderReadsUntilStreamEnds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic")
	require.NoError(t, os.WriteFile(path, []byte("pcm-bytes"), 0o600))

	rec := &StreamRecorder{Path: path, MediaType: "audio/webm"}
	clip, err := rec.Record(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("pcm-bytes"), clip.Data)
	assert.Equal(t, "audio/webm", clip.MediaType)
}

func TestStreamRecorderStopsOnTimer(t *testing.T) {
	pr, pw := io.Pipe()
	rec := &StreamRecorder{Path: "pipe", Open: func(string) (io.ReadCloser, error) { return pr, nil }}

	go func() {
		pw.Write([]byte("chunk"))
		// keep the stream open; the timer must end the capture
	}()

	start := time.Now()
	clip, err := rec.Record(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, []byte("chunk"), clip.Data)
}

func TestStreamRecorderDeviceErrors(t *testing.T) {
	_, err := (&StreamRecorder{}).Record(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrNoDevice)

	_, err = (&StreamRecorder{Path: filepath.Join(t.TempDir(), "absent")}).Record(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrNoDevice)

	denied := &StreamRecorder{Path: "mic", Open: func(string) (io.ReadCloser, error) {
		return nil, &fs.PathError{Op: "open", Path: "mic", Err: fs.ErrPermission}
	}}
	_, err = denied.Record(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, errors.Is(err, ErrNoDevice))
}
