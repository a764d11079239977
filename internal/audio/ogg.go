package audio

import (
	"bytes"
	"encoding/binary"
)

type oggPage struct {
	data    []byte
	granule int64
	serial  uint32
}

const oggHeaderLen = 27

// parseOgg splits b into pages. Each page is copied so serials can be
// rewritten.
func parseOgg(b []byte) ([]oggPage, error) {
	var pages []oggPage
	for off := 0; off < len(b); {
		if off+oggHeaderLen > len(b) || string(b[off:off+4]) != "OggS" {
			return nil, invalid("bad Ogg page capture pattern")
		}
		nseg := int(b[off+26])
		if off+oggHeaderLen+nseg > len(b) {
			return nil, invalid("truncated Ogg segment table")
		}
		size := oggHeaderLen + nseg
		for _, l := range b[off+oggHeaderLen : off+oggHeaderLen+nseg] {
			size += int(l)
		}
		if off+size > len(b) {
			return nil, invalid("truncated Ogg page")
		}
		page := bytes.Clone(b[off : off+size])
		pages = append(pages, oggPage{
			data:    page,
			granule: int64(binary.LittleEndian.Uint64(page[6:14])),
			serial:  binary.LittleEndian.Uint32(page[14:18]),
		})
		off += size
	}
	if len(pages) == 0 {
		return nil, invalid("empty Ogg stream")
	}
	return pages, nil
}

func (p oggPage) payload() []byte {
	return p.data[oggHeaderLen+int(p.data[26]):]
}

func (p *oggPage) setSerial(serial uint32) {
	p.serial = serial
	binary.LittleEndian.PutUint32(p.data[14:18], serial)
	binary.LittleEndian.PutUint32(p.data[22:26], 0)
	binary.LittleEndian.PutUint32(p.data[22:26], oggCRC(p.data))
}

// oggDuration sums the playable samples of every logical stream in pages.
// Opus runs at 48 kHz less pre-skip; Vorbis reports its rate in the
// identification header.
func oggDuration(pages []oggPage) float64 {
	type stream struct {
		rate    float64
		preskip int64
		granule int64
	}
	streams := map[uint32]*stream{}
	var order []uint32
	for _, p := range pages {
		s, ok := streams[p.serial]
		if !ok {
			s = &stream{}
			streams[p.serial] = s
			order = append(order, p.serial)
			body := p.payload()
			switch {
			case len(body) >= 12 && string(body[:8]) == "OpusHead":
				s.rate = 48000
				s.preskip = int64(binary.LittleEndian.Uint16(body[10:12]))
			case len(body) >= 16 && string(body[1:7]) == "vorbis":
				s.rate = float64(binary.LittleEndian.Uint32(body[12:16]))
			}
		}
		if p.granule > s.granule {
			s.granule = p.granule
		}
	}
	var secs float64
	for _, serial := range order {
		s := streams[serial]
		if s.rate > 0 && s.granule > s.preskip {
			secs += float64(s.granule-s.preskip) / s.rate
		}
	}
	return secs
}

var oggCRCTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04C11DB7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggCRC(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
