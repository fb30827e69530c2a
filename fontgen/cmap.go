package fontgen

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// buildCmapFormat4 builds a cmap table containing a single format-4
// subtable that maps each codepoint to its assigned glyph. Exposed
// through Unicode (0,3) and Windows BMP (3,1) encoding records, which
// is what PDF viewers resolve for simple TrueType fonts.
func buildCmapFormat4(mapping map[rune]uint16) ([]byte, error) {
	if len(mapping) == 0 {
		return nil, fmt.Errorf("cmap: empty mapping")
	}
	codes := make([]rune, 0, len(mapping))
	for r := range mapping {
		if r > 0xFFFF {
			return nil, fmt.Errorf("cmap: codepoint %U outside the BMP", r)
		}
		codes = append(codes, r)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	// One single-code segment per mapped codepoint plus the required
	// terminal 0xFFFF segment.
	segCount := len(codes) + 1
	var end, start, delta []uint16
	for _, c := range codes {
		end = append(end, uint16(c))
		start = append(start, uint16(c))
		delta = append(delta, mapping[c]-uint16(c))
	}
	end = append(end, 0xFFFF)
	start = append(start, 0xFFFF)
	delta = append(delta, 1)

	subLen := 16 + segCount*8
	sub := make([]byte, 0, subLen)
	sub = appendU16(sub, 4) // format
	sub = appendU16(sub, uint16(subLen))
	sub = appendU16(sub, 0) // language
	sub = appendU16(sub, uint16(segCount*2))
	entrySelector := 0
	for (1 << (entrySelector + 1)) <= segCount {
		entrySelector++
	}
	searchRange := (1 << entrySelector) * 2
	sub = appendU16(sub, uint16(searchRange))
	sub = appendU16(sub, uint16(entrySelector))
	sub = appendU16(sub, uint16(segCount*2-searchRange))
	for _, v := range end {
		sub = appendU16(sub, v)
	}
	sub = appendU16(sub, 0) // reservedPad
	for _, v := range start {
		sub = appendU16(sub, v)
	}
	for _, v := range delta {
		sub = appendU16(sub, v)
	}
	for range codes {
		sub = appendU16(sub, 0) // idRangeOffset
	}
	sub = appendU16(sub, 0)

	const numRecords = 2
	headerLen := 4 + numRecords*8
	out := make([]byte, 0, headerLen+len(sub))
	out = appendU16(out, 0) // version
	out = appendU16(out, numRecords)
	for _, rec := range [][2]uint16{{0, 3}, {3, 1}} {
		out = appendU16(out, rec[0])
		out = appendU16(out, rec[1])
		var off [4]byte
		binary.BigEndian.PutUint32(off[:], uint32(headerLen))
		out = append(out, off[:]...)
	}
	out = append(out, sub...)
	return out, nil
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// parseCmapFormat4 resolves a codepoint through a cmap built by
// buildCmapFormat4. Test helper quality: it only understands the layout
// this package emits.
func parseCmapFormat4(cmap []byte, r rune) (uint16, error) {
	if len(cmap) < 4 {
		return 0, fmt.Errorf("cmap truncated")
	}
	numRecords := int(binary.BigEndian.Uint16(cmap[2:4]))
	if len(cmap) < 4+numRecords*8 {
		return 0, fmt.Errorf("cmap records truncated")
	}
	subOff := binary.BigEndian.Uint32(cmap[8:12])
	sub := cmap[subOff:]
	segCount := int(binary.BigEndian.Uint16(sub[6:8])) / 2
	endAt := func(i int) uint16 { return binary.BigEndian.Uint16(sub[14+i*2:]) }
	startAt := func(i int) uint16 { return binary.BigEndian.Uint16(sub[16+segCount*2+i*2:]) }
	deltaAt := func(i int) uint16 { return binary.BigEndian.Uint16(sub[16+segCount*4+i*2:]) }
	c := uint16(r)
	for i := 0; i < segCount; i++ {
		if c <= endAt(i) {
			if c < startAt(i) {
				return 0, nil
			}
			return c + deltaAt(i), nil
		}
	}
	return 0, nil
}
