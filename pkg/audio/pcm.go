package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
)

// Converter normalises [AudioFrame]s to a target [Format]. Browsers and sound
// cards capture at 44.1 or 48 kHz, often in stereo; recognisers want 16 kHz
// mono. A Converter logs once on the first mismatch and once on the first
// corrupt frame.
//
// Create one per stream; a Converter is not safe for concurrent use.
type Converter struct {
	Target Format

	warnMismatch sync.Once
	warnCorrupt  sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned as is. Frames with an odd byte count cannot hold whole
// int16 samples and come back with nil Data.
func (c *Converter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnCorrupt.Do(func() {
			slog.Warn("audio converter: dropping frame with odd byte count",
				"bytes", len(frame.Data),
				"format", Format{frame.SampleRate, frame.Channels}.String(),
			)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnMismatch.Do(func() {
		slog.Info("audio converter: converting stream",
			"from", Format{frame.SampleRate, frame.Channels}.String(),
			"to", c.Target.String(),
		)
	})

	pcm := frame.Data
	channels := frame.Channels
	if channels > 1 && c.Target.Channels == 1 {
		pcm = Downmix16(pcm, channels)
		channels = 1
	}
	if channels == 1 {
		pcm = Resample16(pcm, frame.SampleRate, c.Target.SampleRate)
	}
	if channels == 1 && c.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
		channels = 2
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

// Downmix16 averages interleaved int16 PCM with the given channel count down
// to mono.
func Downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*stride + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// MonoToStereo duplicates each mono int16 sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// Resample16 converts mono int16 PCM from srcRate to dstRate by linear
// interpolation. Invalid rates or equal rates return pcm unchanged.
func Resample16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	m := int(int64(n) * int64(dstRate) / int64(srcRate))
	if m == 0 {
		return nil
	}
	out := make([]byte, m*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range m {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < n {
			s1 = sampleAt(pcm, idx+1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Float64s decodes mono int16 PCM into samples in the range [-1, 1).
// dst is reused when it has enough capacity.
func Float64s(pcm []byte, dst []float64) []float64 {
	n := len(pcm) / 2
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := range n {
		dst[i] = float64(sampleAt(pcm, i)) / 32768
	}
	return dst
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
