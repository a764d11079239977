package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const placeholderRate = 24000

// silentMP3Frame is an MPEG-1 Layer III mono frame at 128 kbps / 44.1 kHz
// with zeroed side info: 417 bytes, 1152 samples of silence.
func silentMP3Frame() []byte {
	frame := make([]byte, 417)
	copy(frame, []byte{0xFF, 0xFB, 0x90, 0xC0})
	return frame
}

// Placeholder renders d of stand-in audio: a quiet 440 Hz tone for LINEAR16,
// silent frames for MP3. Ogg/Opus needs a real encoder and is refused.
func Placeholder(enc Encoding, d time.Duration) ([]byte, error) {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	switch enc {
	case Linear16:
		n := int(d.Seconds() * placeholderRate)
		data := make([]byte, 0, n*2)
		for i := 0; i < n; i++ {
			v := 0.1 * math.Sin(2*math.Pi*440*float64(i)/placeholderRate)
			data = binary.LittleEndian.AppendUint16(data, uint16(int16(v*math.MaxInt16)))
		}
		f := wavFormat{
			AudioFormat:   wavPCM,
			Channels:      1,
			SampleRate:    placeholderRate,
			ByteRate:      placeholderRate * 2,
			BlockAlign:    2,
			BitsPerSample: 16,
		}
		return encodeWAV(f, data), nil
	case MP3:
		frames := int(math.Ceil(d.Seconds() * 44100 / 1152))
		out := make([]byte, 0, frames*417)
		for i := 0; i < frames; i++ {
			out = append(out, silentMP3Frame()...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("no placeholder audio for %s", enc)
}
