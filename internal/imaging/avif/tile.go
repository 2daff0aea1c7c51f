// internal/imaging/avif/tile.go
package avif

import "fmt"

const (
	maxTileWidth = 4096
	maxTileArea  = 4096 * 2304
	maxTileRows  = 64
	maxTileCols  = 64
)

// TileInfo is a frame's tile layout. Starts are in 4x4 mode-info units and
// end with the frame edge.
type TileInfo struct {
	Cols, Rows         int
	ColsLog2, RowsLog2 int
	MiColStarts        []int
	MiRowStarts        []int
	ContextUpdateID    int
	// SizeBytes is the width of the tile size fields in a tile group.
	SizeBytes int
}

// Tile is the entropy coded data of one tile.
type Tile struct {
	Frame    int
	Row, Col int
	Data     []byte
}

func tileLog2(blk, target int) int {
	k := 0
	for blk<<k < target {
		k++
	}
	return k
}

func (h *FrameHeader) parseTileInfo(r *bitReader, s *SequenceHeader) error {
	miCols := 2 * ((h.CodedWidth + 7) >> 3)
	miRows := 2 * ((h.Height + 7) >> 3)
	sbShift := 4
	if s.Use128x128Superblock {
		sbShift = 5
	}
	sbCols := (miCols + 1<<sbShift - 1) >> sbShift
	sbRows := (miRows + 1<<sbShift - 1) >> sbShift
	sbSize := sbShift + 2
	maxTileWidthSb := maxTileWidth >> sbSize
	maxTileAreaSb := maxTileArea >> (2 * sbSize)
	minLog2TileCols := tileLog2(maxTileWidthSb, sbCols)
	maxLog2TileCols := tileLog2(1, min(sbCols, maxTileCols))
	maxLog2TileRows := tileLog2(1, min(sbRows, maxTileRows))
	minLog2Tiles := max(minLog2TileCols, tileLog2(maxTileAreaSb, sbRows*sbCols))

	t := &h.Tiles
	if r.flag() { // uniform_tile_spacing_flag
		t.ColsLog2 = minLog2TileCols
		for t.ColsLog2 < maxLog2TileCols && r.flag() {
			t.ColsLog2++
		}
		widthSb := (sbCols + 1<<t.ColsLog2 - 1) >> t.ColsLog2
		for start := 0; start < sbCols; start += widthSb {
			t.MiColStarts = append(t.MiColStarts, start<<sbShift)
		}

		t.RowsLog2 = max(minLog2Tiles-t.ColsLog2, 0)
		for t.RowsLog2 < maxLog2TileRows && r.flag() {
			t.RowsLog2++
		}
		heightSb := (sbRows + 1<<t.RowsLog2 - 1) >> t.RowsLog2
		for start := 0; start < sbRows; start += heightSb {
			t.MiRowStarts = append(t.MiRowStarts, start<<sbShift)
		}
	} else {
		widestSb := 0
		for start := 0; start < sbCols; {
			t.MiColStarts = append(t.MiColStarts, start<<sbShift)
			size := r.ns(min(sbCols-start, maxTileWidthSb)) + 1
			widestSb = max(widestSb, size)
			start += size
		}
		t.ColsLog2 = tileLog2(1, len(t.MiColStarts))

		areaSb := sbRows * sbCols
		if minLog2Tiles > 0 {
			areaSb >>= minLog2Tiles + 1
		}
		maxTileHeightSb := max(areaSb/widestSb, 1)
		for start := 0; start < sbRows; {
			t.MiRowStarts = append(t.MiRowStarts, start<<sbShift)
			start += r.ns(min(sbRows-start, maxTileHeightSb)) + 1
		}
		t.RowsLog2 = tileLog2(1, len(t.MiRowStarts))
	}
	t.Cols, t.Rows = len(t.MiColStarts), len(t.MiRowStarts)
	t.MiColStarts = append(t.MiColStarts, miCols)
	t.MiRowStarts = append(t.MiRowStarts, miRows)

	if t.ColsLog2 > 0 || t.RowsLog2 > 0 {
		t.ContextUpdateID = int(r.f(t.RowsLog2 + t.ColsLog2))
		t.SizeBytes = int(r.f(2)) + 1
		if r.err == nil && t.ContextUpdateID >= t.Cols*t.Rows {
			return fmt.Errorf("%w: context_update_tile_id %d of %d tiles", ErrFormat, t.ContextUpdateID, t.Cols*t.Rows)
		}
	}
	return r.err
}

// addTileGroup records a tile group payload and, when the current frame's
// tile layout is known, splits it into tiles.
func (b *Bitstream) addTileGroup(p []byte) error {
	b.TileGroups = append(b.TileGroups, p)
	if len(b.Frames) == 0 {
		return nil
	}
	frame := len(b.Frames) - 1
	if b.Frames[frame].Tiles.Cols == 0 {
		return nil
	}
	tiles, err := parseTileGroup(p, &b.Frames[frame].Tiles, frame)
	if err != nil {
		return err
	}
	b.Tiles = append(b.Tiles, tiles...)
	return nil
}

// parseTileGroup splits a tile group into its tiles. Every tile but the
// last carries a little-endian size prefix.
func parseTileGroup(p []byte, t *TileInfo, frame int) ([]Tile, error) {
	numTiles := t.Cols * t.Rows
	r := &bitReader{data: p}
	start, end := 0, numTiles-1
	if numTiles > 1 && r.flag() {
		n := t.ColsLog2 + t.RowsLog2
		start, end = int(r.f(n)), int(r.f(n))
	}
	r.byteAlign()
	if r.err != nil {
		return nil, r.err
	}
	if start > end || end >= numTiles {
		return nil, fmt.Errorf("%w: tile group %d..%d of %d tiles", ErrFormat, start, end, numTiles)
	}

	rest := p[r.pos/8:]
	tiles := make([]Tile, 0, end-start+1)
	for num := start; num <= end; num++ {
		size := len(rest)
		if num != end {
			if len(rest) < t.SizeBytes {
				return nil, fmt.Errorf("%w: size of tile %d", ErrTruncated, num)
			}
			sr := &bitReader{data: rest}
			size = int(sr.le(t.SizeBytes)) + 1
			rest = rest[t.SizeBytes:]
			if size > len(rest) {
				return nil, fmt.Errorf("%w: tile %d wants %d bytes, %d left", ErrTruncated, num, size, len(rest))
			}
		}
		if size == 0 {
			return nil, fmt.Errorf("%w: tile %d is empty", ErrTruncated, num)
		}
		tiles = append(tiles, Tile{Frame: frame, Row: num / t.Cols, Col: num % t.Cols, Data: rest[:size]})
		rest = rest[size:]
	}
	return tiles, nil
}

// openTiles starts the symbol decoder of every tile of frame and checks that
// each can be initialized.
func (b *Bitstream) openTiles(frame int) ([]*symbolDecoder, error) {
	fh := &b.Frames[frame]
	var decoders []*symbolDecoder
	for _, t := range b.Tiles {
		if t.Frame != frame {
			continue
		}
		d, err := newSymbolDecoder(t.Data, fh.DisableCDFUpdate)
		if err != nil {
			return nil, fmt.Errorf("tile %d,%d: %w", t.Row, t.Col, err)
		}
		decoders = append(decoders, d)
	}
	return decoders, nil
}
