package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNotWAV is returned by [ParseWAV] for input that is not a PCM RIFF/WAVE
// container.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

const wavPCM = 1

// EncodeWAV wraps int16 PCM in a RIFF/WAVE container so it can be served to
// clients that expect a self-describing audio file.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("audio: cannot encode WAV with format %s", f)
	}
	n := len(pcm) / 2
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           make([]int, n),
		SourceBitDepth: 16,
	}
	for i := range n {
		buf.Data[i] = int(sampleAt(pcm, i))
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, f.SampleRate, 16, f.Channels, wavPCM)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finish WAV: %w", err)
	}
	return out.buf, nil
}

// ParseWAV returns the format and 16-bit PCM payload of a RIFF/WAVE file.
// Chunks other than "fmt " and "data" are skipped.
func ParseWAV(b []byte) (Format, []byte, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	dec := wav.NewDecoder(bytes.NewReader(b))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Format{}, nil, fmt.Errorf("%w: %w", ErrNotWAV, err)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return Format{}, nil, ErrNotWAV
	}
	if dec.WavAudioFormat != wavPCM || dec.BitDepth != 16 {
		return Format{}, nil, fmt.Errorf("audio: unsupported WAV encoding (format %d, %d bits)", dec.WavAudioFormat, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Format{}, nil, fmt.Errorf("%w: %w", ErrNotWAV, err)
	}
	// The decoder reads to the end of the file; drop chunks after "data".
	if n := dec.PCMSize / 2; len(buf.Data) > n {
		buf.Data = buf.Data[:n]
	}
	pcm := make([]byte, 2*len(buf.Data))
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v)))
	}
	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return f, pcm, nil
}

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes once the payload is written.
type memFile struct {
	buf []byte
	off int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.off + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.off:], p)
	m.off += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.off)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, errors.New("audio: invalid whence")
	}
	pos := base + offset
	if pos < 0 {
		return 0, errors.New("audio: negative seek position")
	}
	m.off = int(pos)
	return pos, nil
}
