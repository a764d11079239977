package audio

import (
	"encoding/binary"
	"math"
)

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

type wavFile struct {
	format wavFormat
	data   []byte
}

const wavPCM = 1

// parseWAV reads the fmt and data chunks of a RIFF/WAVE payload. Chunk sizes
// running past the end (as streamed responses sometimes report) are clamped.
func parseWAV(b []byte) (wavFile, error) {
	var w wavFile
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return w, invalid("not a RIFF/WAVE payload")
	}
	haveFmt, haveData := false, false
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(b) {
			end = len(b)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return w, invalid("short fmt chunk")
			}
			f := b[body:end]
			w.format = wavFormat{
				AudioFormat:   binary.LittleEndian.Uint16(f[0:2]),
				Channels:      binary.LittleEndian.Uint16(f[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(f[4:8]),
				ByteRate:      binary.LittleEndian.Uint32(f[8:12]),
				BlockAlign:    binary.LittleEndian.Uint16(f[12:14]),
				BitsPerSample: binary.LittleEndian.Uint16(f[14:16]),
			}
			haveFmt = true
		case "data":
			w.data = b[body:end]
			haveData = true
		}
		off = end + size&1
	}
	if !haveFmt || !haveData {
		return w, invalid("missing fmt or data chunk")
	}
	if w.format.BlockAlign == 0 || w.format.ByteRate == 0 {
		return w, invalid("zero block align or byte rate")
	}
	w.data = w.data[:len(w.data)-len(w.data)%int(w.format.BlockAlign)]
	return w, nil
}

// encodeWAV writes a canonical 44-byte header followed by data.
func encodeWAV(f wavFormat, data []byte) []byte {
	out := make([]byte, 0, 44+len(data))
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(data)))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, f.AudioFormat)
	out = binary.LittleEndian.AppendUint16(out, f.Channels)
	out = binary.LittleEndian.AppendUint32(out, f.SampleRate)
	out = binary.LittleEndian.AppendUint32(out, f.ByteRate)
	out = binary.LittleEndian.AppendUint16(out, f.BlockAlign)
	out = binary.LittleEndian.AppendUint16(out, f.BitsPerSample)
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}

func (f wavFormat) pcm16() bool {
	return f.AudioFormat == wavPCM && f.BitsPerSample == 16
}

// levelDBFS returns the RMS level of 16-bit samples relative to full scale.
// ok is false for silence.
func levelDBFS(data []byte) (float64, bool) {
	n := len(data) / 2
	if n == 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[2*i:])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	if rms == 0 {
		return 0, false
	}
	return 20 * math.Log10(rms/32768), true
}

// applyGain scales 16-bit samples, clamping at full scale.
func applyGain(data []byte, gain float64) []byte {
	out := make([]byte, len(data))
	n := len(data) / 2
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[2*i:]))) * gain
		s = math.Round(s)
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
	}
	return out
}
