// Package codec converts audio between float samples, 16-bit PCM bytes
// and the base64 text form used on the wire.
//
// All functions are pure and safe for concurrent use.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/teslashibe/go-stockroom/pkg/audioio"
)

// SampleWidth is the size in bytes of one PCM16 sample.
const SampleWidth = 2

var encoding = base64.StdEncoding.Strict()

// DecodeError reports malformed transport text.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AudioFormatError reports PCM bytes that do not hold a whole number of
// samples.
type AudioFormatError struct {
	Length int
}

func (e *AudioFormatError) Error() string {
	return fmt.Sprintf("codec: audio length %d is not a multiple of %d bytes", e.Length, SampleWidth)
}

// Encode returns the padded standard base64 form of b.
func Encode(b []byte) string {
	return encoding.EncodeToString(b)
}

// Decode is the inverse of Encode.
func Decode(s string) ([]byte, error) {
	b, err := encoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return b, nil
}

// FloatToPCM16 converts samples to 16-bit little-endian PCM. Each sample is
// multiplied by 32768, truncated toward zero and clamped to the int16 range.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*SampleWidth:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat converts 16-bit little-endian PCM to samples in [-1, 1).
func PCM16ToFloat(b []byte) ([]float32, error) {
	if len(b)%SampleWidth != 0 {
		return nil, &AudioFormatError{Length: len(b)}
	}
	out := make([]float32, len(b)/SampleWidth)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*SampleWidth:]))) / 32768
	}
	return out, nil
}

// DecodeAudio interprets b as PCM16 and packages it as a playable buffer.
func DecodeAudio(b []byte, sampleRate, channels int) (audioio.Buffer, error) {
	samples, err := PCM16ToFloat(b)
	if err != nil {
		return audioio.Buffer{}, err
	}
	return audioio.Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}
