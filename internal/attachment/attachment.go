// Package attachment turns images and short audio captures into data URIs
// that can be stored as a message body.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrNotImage         = errors.New("attachment is not an image")
	ErrPermissionDenied = errors.New("microphone access denied")
	ErrNoDevice         = errors.New("no audio input device available")
	ErrInvalidDataURI   = errors.New("invalid data uri")
)

const (
	// CaptureDuration is how long a voice message records before stopping.
	CaptureDuration  = 5 * time.Second
	DefaultAudioType = "audio/webm"
)

// File is an uploaded file with its declared media type.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Clip is a finished audio capture.
type Clip struct {
	MediaType string
	Data      []byte
}

// Recorder captures audio from an input device for d.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) (Clip, error)
}

type Encoder struct {
	recorder  Recorder
	audioType string
	duration  time.Duration
}

type Option func(*Encoder)

// WithAudioType sets the media type used for clips that do not declare one.
func WithAudioType(mediaType string) Option {
	return func(e *Encoder) {
		if mediaType != "" {
			e.audioType = mediaType
		}
	}
}

// WithCaptureDuration overrides the recording length.
func WithCaptureDuration(d time.Duration) Option {
	return func(e *Encoder) {
		if d > 0 {
			e.duration = d
		}
	}
}

// NewEncoder builds an encoder. rec may be nil when no input device exists.
func NewEncoder(rec Recorder, opts ...Option) *Encoder {
	e := &Encoder{recorder: rec, audioType: DefaultAudioType, duration: CaptureDuration}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EncodeImage accepts files whose declared media type is image/*. Files with
// no declared type are judged by their content.
func (e *Encoder) EncodeImage(f File) (string, error) {
	mediaType := baseType(f.MediaType)
	if mediaType == "" {
		mediaType = baseType(mimetype.Detect(f.Data).String())
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%w: %s has type %q", ErrNotImage, f.Name, mediaType)
	}
	return DataURI(mediaType, f.Data), nil
}

// CaptureAudio records for the fixed capture duration and encodes the clip.
// Once started the capture only ends early if ctx is torn down.
func (e *Encoder) CaptureAudio(ctx context.Context) (string, error) {
	if e.recorder == nil {
		return "", ErrNoDevice
	}
	clip, err := e.recorder.Record(ctx, e.duration)
	if err != nil {
		return "", err
	}
	return e.EncodeAudio(clip)
}

// EncodeAudio encodes an already captured clip.
func (e *Encoder) EncodeAudio(clip Clip) (string, error) {
	mediaType := baseType(clip.MediaType)
	if mediaType == "" {
		mediaType = e.audioType
	}
	if !strings.HasPrefix(mediaType, "audio/") && !strings.HasPrefix(mediaType, "video/") {
		// webm containers are often reported as video/webm
		return "", fmt.Errorf("attachment: unsupported audio type %q", mediaType)
	}
	return DataURI(mediaType, clip.Data), nil
}

func baseType(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// DataURI renders data as a base64 data URI.
func DataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI decodes a base64 data URI produced by DataURI.
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURI)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return mediaType, data, nil
}
