package audio

import (
	"bytes"
	"encoding/binary"
)

// MPEG audio Layer III only; Cloud TTS and OpenAI both emit it.

var (
	mpeg1Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mpeg2Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
	mpeg1Rates    = [3]int{44100, 48000, 32000}
	mpeg2Rates    = [3]int{22050, 24000, 16000}
	mpeg25Rates   = [3]int{11025, 12000, 8000}
)

type mp3Frame struct {
	data       []byte
	mpeg1      bool
	sampleRate int
	mono       bool
	protected  bool
	samples    int
}

// parseMP3Header decodes a 4-byte Layer III frame header and returns the
// frame length in bytes.
func parseMP3Header(h []byte) (mp3Frame, int, bool) {
	var f mp3Frame
	if len(h) < 4 || h[0] != 0xFF || h[1]&0xE0 != 0xE0 {
		return f, 0, false
	}
	version := (h[1] >> 3) & 0x03
	layer := (h[1] >> 1) & 0x03
	if version == 0x01 || layer != 0x01 {
		return f, 0, false
	}
	brIdx := h[2] >> 4
	srIdx := (h[2] >> 2) & 0x03
	padding := int(h[2]>>1) & 0x01
	if brIdx == 0 || brIdx == 0x0F || srIdx == 0x03 {
		return f, 0, false
	}
	f.protected = h[1]&0x01 == 0
	f.mono = (h[3]>>6)&0x03 == 0x03

	var bitrate, coef int
	switch version {
	case 0x03:
		f.mpeg1 = true
		bitrate = mpeg1Bitrates[brIdx] * 1000
		f.sampleRate = mpeg1Rates[srIdx]
		f.samples = 1152
		coef = 144
	case 0x02:
		bitrate = mpeg2Bitrates[brIdx] * 1000
		f.sampleRate = mpeg2Rates[srIdx]
		f.samples = 576
		coef = 72
	default:
		bitrate = mpeg2Bitrates[brIdx] * 1000
		f.sampleRate = mpeg25Rates[srIdx]
		f.samples = 576
		coef = 72
	}
	return f, coef*bitrate/f.sampleRate + padding, true
}

func (f mp3Frame) sideInfoSize() int {
	switch {
	case f.mpeg1 && f.mono:
		return 17
	case f.mpeg1:
		return 32
	case f.mono:
		return 9
	default:
		return 17
	}
}

func (f mp3Frame) sideInfoOffset() int {
	if f.protected {
		return 6
	}
	return 4
}

// gainBits returns the bit offsets of every global_gain field relative to
// the start of the side information.
func (f mp3Frame) gainBits() []int {
	nch := 2
	if f.mono {
		nch = 1
	}
	var offs []int
	if f.mpeg1 {
		private := 3
		if f.mono {
			private = 5
		}
		start := 9 + private + 4*nch
		for gr := 0; gr < 2; gr++ {
			for ch := 0; ch < nch; ch++ {
				offs = append(offs, start+(gr*nch+ch)*59+21)
			}
		}
		return offs
	}
	private := 2
	if f.mono {
		private = 1
	}
	start := 8 + private
	for ch := 0; ch < nch; ch++ {
		offs = append(offs, start+ch*63+21)
	}
	return offs
}

// isInfoFrame reports a Xing/Info/VBRI header frame, which carries no audio.
func (f mp3Frame) isInfoFrame() bool {
	off := f.sideInfoOffset() + f.sideInfoSize()
	if off+4 <= len(f.data) {
		tag := string(f.data[off : off+4])
		if tag == "Xing" || tag == "Info" {
			return true
		}
	}
	return len(f.data) >= 40 && string(f.data[36:40]) == "VBRI"
}

// stripID3 removes leading ID3v2 tags and a trailing ID3v1 tag.
func stripID3(b []byte) []byte {
	for len(b) >= 10 && string(b[:3]) == "ID3" {
		size := int(b[6]&0x7F)<<21 | int(b[7]&0x7F)<<14 | int(b[8]&0x7F)<<7 | int(b[9]&0x7F)
		total := 10 + size
		if b[5]&0x10 != 0 {
			total += 10
		}
		if total > len(b) {
			return nil
		}
		b = b[total:]
	}
	if len(b) >= 128 && string(b[len(b)-128:len(b)-125]) == "TAG" {
		b = b[:len(b)-128]
	}
	return b
}

// parseMP3 returns the audio frames of b, copied so gains can be edited.
// Bytes that do not form a frame are skipped.
func parseMP3(b []byte) ([]mp3Frame, error) {
	b = stripID3(b)
	var frames []mp3Frame
	for i := 0; i+4 <= len(b); {
		f, n, ok := parseMP3Header(b[i:])
		if !ok || n < 4 || i+n > len(b) {
			i++
			continue
		}
		f.data = bytes.Clone(b[i : i+n])
		if len(f.data) >= f.sideInfoOffset()+f.sideInfoSize() && !f.isInfoFrame() {
			frames = append(frames, f)
		}
		i += n
	}
	if len(frames) == 0 {
		return nil, invalid("no MPEG Layer III frames")
	}
	return frames, nil
}

func (f mp3Frame) gains() []int {
	side := f.data[f.sideInfoOffset():]
	var out []int
	for _, bit := range f.gainBits() {
		out = append(out, readByteAt(side, bit))
	}
	return out
}

// shiftGain adds delta to every global_gain of f, clamped to 0..255, and
// refreshes the CRC of protected frames.
func (f mp3Frame) shiftGain(delta int) {
	side := f.data[f.sideInfoOffset():]
	for _, bit := range f.gainBits() {
		g := readByteAt(side, bit) + delta
		g = min(255, max(0, g))
		writeByteAt(side, bit, g)
	}
	if f.protected {
		payload := append(bytes.Clone(f.data[2:4]), f.data[6:6+f.sideInfoSize()]...)
		binary.BigEndian.PutUint16(f.data[4:6], mp3CRC(payload))
	}
}

func readByteAt(b []byte, bit int) int {
	i, s := bit/8, uint(bit%8)
	v := uint16(b[i]) << 8
	if i+1 < len(b) {
		v |= uint16(b[i+1])
	}
	return int(v>>(8-s)) & 0xFF
}

func writeByteAt(b []byte, bit, val int) {
	i, s := bit/8, uint(bit%8)
	v := uint16(b[i])<<8 | uint16(b[i+1])
	mask := uint16(0xFF) << (8 - s)
	v = v&^mask | (uint16(val)&0xFF)<<(8-s)
	b[i] = byte(v >> 8)
	b[i+1] = byte(v)
}

// mp3CRC is CRC-16 (poly 0x8005, init 0xFFFF) over the header's last two
// bytes and the side information.
func mp3CRC(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			top := crc >> 15
			crc <<= 1
			if top^uint16(b>>uint(i))&1 == 1 {
				crc ^= 0x8005
			}
		}
	}
	return crc
}

func meanGain(frames []mp3Frame) float64 {
	var sum, n int
	for _, f := range frames {
		for _, g := range f.gains() {
			sum += g
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
