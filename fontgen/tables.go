package fontgen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

type tableParser struct {
	data   []byte
	tables map[string]tableEntry
}

type tableEntry struct {
	offset uint32
	length uint32
}

func newTableParser(data []byte) (*tableParser, error) {
	p := &tableParser{data: data}
	if len(data) < 12 {
		return nil, fmt.Errorf("invalid font header")
	}
	numTables := int(binary.BigEndian.Uint16(data[4:6]))
	p.tables = make(map[string]tableEntry, numTables)
	offset := 12
	for i := 0; i < numTables; i++ {
		if offset+16 > len(data) {
			return nil, fmt.Errorf("table directory truncated")
		}
		tag := string(data[offset : offset+4])
		off := binary.BigEndian.Uint32(data[offset+8 : offset+12])
		length := binary.BigEndian.Uint32(data[offset+12 : offset+16])
		p.tables[tag] = tableEntry{offset: off, length: length}
		offset += 16
	}
	return p, nil
}

func (p *tableParser) hasTable(tag string) bool {
	_, ok := p.tables[tag]
	return ok
}

func (p *tableParser) readTable(tag string) ([]byte, error) {
	entry, ok := p.tables[tag]
	if !ok {
		return nil, fmt.Errorf("table %s not found", tag)
	}
	if int64(entry.offset)+int64(entry.length) > int64(len(p.data)) {
		return nil, fmt.Errorf("table %s out of bounds", tag)
	}
	return p.data[entry.offset : entry.offset+entry.length], nil
}

func (p *tableParser) locaOffset(loca []byte, gid int, longFormat bool) uint32 {
	if longFormat {
		return binary.BigEndian.Uint32(loca[gid*4:])
	}
	return uint32(binary.BigEndian.Uint16(loca[gid*2:])) * 2
}

// glyphClosure extends the set with every composite component reachable
// from the seed glyphs, BFS over the glyf table.
func (p *tableParser) glyphClosure(closure map[int]bool, numGlyphs int, longLoca bool) error {
	loca, err := p.readTable("loca")
	if err != nil {
		return err
	}
	glyf, err := p.readTable("glyf")
	if err != nil {
		return err
	}
	queue := make([]int, 0, len(closure))
	for gid := range closure {
		queue = append(queue, gid)
	}
	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]
		if gid >= numGlyphs {
			continue
		}
		start := p.locaOffset(loca, gid, longLoca)
		end := p.locaOffset(loca, gid+1, longLoca)
		if start >= end || start+10 > uint32(len(glyf)) {
			continue
		}
		if int16(binary.BigEndian.Uint16(glyf[start:start+2])) >= 0 {
			continue // simple glyph
		}
		offset := start + 10
		for {
			if offset+4 > uint32(len(glyf)) {
				break
			}
			flags := binary.BigEndian.Uint16(glyf[offset : offset+2])
			subGID := int(binary.BigEndian.Uint16(glyf[offset+2 : offset+4]))
			if !closure[subGID] {
				closure[subGID] = true
				queue = append(queue, subGID)
			}
			offset += 4
			if flags&0x0001 != 0 { // ARG_1_AND_2_ARE_WORDS
				offset += 4
			} else {
				offset += 2
			}
			switch {
			case flags&0x0008 != 0: // WE_HAVE_A_SCALE
				offset += 2
			case flags&0x0040 != 0: // WE_HAVE_AN_X_AND_Y_SCALE
				offset += 4
			case flags&0x0080 != 0: // WE_HAVE_A_TWO_BY_TWO
				offset += 8
			}
			if flags&0x0020 == 0 { // MORE_COMPONENTS
				break
			}
		}
	}
	return nil
}

// rebuildGlyfLoca writes a sparse glyf containing only the closure
// glyphs. GIDs are preserved, empty glyphs collapse to zero length, and
// the returned loca always uses the long format.
func (p *tableParser) rebuildGlyfLoca(closure map[int]bool, numGlyphs int, longLoca bool) ([]byte, []byte, error) {
	oldLoca, err := p.readTable("loca")
	if err != nil {
		return nil, nil, err
	}
	oldGlyf, err := p.readTable("glyf")
	if err != nil {
		return nil, nil, err
	}
	var newGlyf bytes.Buffer
	offsets := make([]uint32, numGlyphs+1)
	cur := uint32(0)
	for gid := 0; gid < numGlyphs; gid++ {
		offsets[gid] = cur
		if !closure[gid] {
			continue
		}
		start := p.locaOffset(oldLoca, gid, longLoca)
		end := p.locaOffset(oldLoca, gid+1, longLoca)
		if start < end && end <= uint32(len(oldGlyf)) {
			newGlyf.Write(oldGlyf[start:end])
			cur += end - start
		}
	}
	offsets[numGlyphs] = cur
	newLoca := make([]byte, 4*(numGlyphs+1))
	for i, off := range offsets {
		binary.BigEndian.PutUint32(newLoca[i*4:], off)
	}
	return newGlyf.Bytes(), newLoca, nil
}

// rebuildHmtx writes full explicit metrics for every glyph, with
// advances forced to zero for the listed GIDs (zero-width fillers).
func (p *tableParser) rebuildHmtx(numGlyphs int, zeroAdvance map[int]bool) ([]byte, error) {
	hhea, err := p.readTable("hhea")
	if err != nil {
		return nil, err
	}
	if len(hhea) < 36 {
		return nil, fmt.Errorf("hhea table truncated")
	}
	numOfHMetrics := int(binary.BigEndian.Uint16(hhea[34:36]))
	hmtx, err := p.readTable("hmtx")
	if err != nil {
		return nil, err
	}
	getMetric := func(gid int) (uint16, int16) {
		if gid < numOfHMetrics {
			if (gid+1)*4 > len(hmtx) {
				return 0, 0
			}
			adv := binary.BigEndian.Uint16(hmtx[gid*4 : gid*4+2])
			lsb := int16(binary.BigEndian.Uint16(hmtx[gid*4+2 : gid*4+4]))
			return adv, lsb
		}
		if numOfHMetrics == 0 || numOfHMetrics*4 > len(hmtx) {
			return 0, 0
		}
		lastAdv := binary.BigEndian.Uint16(hmtx[(numOfHMetrics-1)*4:])
		lsbOffset := numOfHMetrics*4 + (gid-numOfHMetrics)*2
		if lsbOffset+2 > len(hmtx) {
			return lastAdv, 0
		}
		lsb := int16(binary.BigEndian.Uint16(hmtx[lsbOffset:]))
		return lastAdv, lsb
	}
	out := make([]byte, 0, numGlyphs*4)
	var word [4]byte
	for gid := 0; gid < numGlyphs; gid++ {
		adv, lsb := getMetric(gid)
		if zeroAdvance[gid] {
			adv = 0
		}
		binary.BigEndian.PutUint16(word[0:2], adv)
		binary.BigEndian.PutUint16(word[2:4], uint16(lsb))
		out = append(out, word[:]...)
	}
	return out, nil
}

type tableWriter struct {
	tables []namedTable
}

type namedTable struct {
	tag  string
	data []byte
}

func (w *tableWriter) addTable(tag string, data []byte) {
	w.tables = append(w.tables, namedTable{tag, data})
}

// bytes assembles the sfnt container: sorted directory, 4-byte aligned
// tables, per-table checksums, and the head checksumAdjustment fixup.
func (w *tableWriter) bytes() []byte {
	sort.Slice(w.tables, func(i, j int) bool { return w.tables[i].tag < w.tables[j].tag })
	numTables := len(w.tables)
	offset := 12 + 16*numTables

	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01, 0x00, 0x00}) // sfnt version 1.0
	binary.Write(&buf, binary.BigEndian, uint16(numTables))
	entrySelector := 0
	for (1 << (entrySelector + 1)) <= numTables {
		entrySelector++
	}
	searchRange := (1 << entrySelector) * 16
	binary.Write(&buf, binary.BigEndian, uint16(searchRange))
	binary.Write(&buf, binary.BigEndian, uint16(entrySelector))
	binary.Write(&buf, binary.BigEndian, uint16(numTables*16-searchRange))

	for _, t := range w.tables {
		padding := (4 - (len(t.data) % 4)) % 4
		buf.WriteString(t.tag)
		binary.Write(&buf, binary.BigEndian, calcChecksum(t.data))
		binary.Write(&buf, binary.BigEndian, uint32(offset))
		binary.Write(&buf, binary.BigEndian, uint32(len(t.data)))
		offset += len(t.data) + padding
	}

	tableOffsets := make(map[string]int, numTables)
	for _, t := range w.tables {
		tableOffsets[t.tag] = buf.Len()
		buf.Write(t.data)
		for k := (4 - (len(t.data) % 4)) % 4; k > 0; k-- {
			buf.WriteByte(0)
		}
	}

	final := buf.Bytes()
	if off, ok := tableOffsets["head"]; ok && off+12 <= len(final) {
		// Zero checksumAdjustment, re-checksum head, then set the
		// adjustment from the whole-file checksum.
		final[off+8], final[off+9], final[off+10], final[off+11] = 0, 0, 0, 0
		for i, t := range w.tables {
			if t.tag != "head" {
				continue
			}
			dirOffset := 12 + 16*i
			length := binary.BigEndian.Uint32(final[dirOffset+12 : dirOffset+16])
			paddedLen := (length + 3) &^ uint32(3)
			newChk := calcChecksum(final[off : uint32(off)+paddedLen])
			binary.BigEndian.PutUint32(final[dirOffset+4:], newChk)
			break
		}
		fullChk := calcChecksum(final)
		binary.BigEndian.PutUint32(final[off+8:], 0xB1B0AFBA-fullChk)
	}
	return final
}

func calcChecksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i < len(data); i += 4 {
		if i+4 <= len(data) {
			sum += binary.BigEndian.Uint32(data[i : i+4])
		} else {
			var tail [4]byte
			copy(tail[:], data[i:])
			sum += binary.BigEndian.Uint32(tail[:])
		}
	}
	return sum
}
