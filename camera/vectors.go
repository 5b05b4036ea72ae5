package camera

import (
	"encoding/binary"
	"fmt"
	"io"

	"pi-motion-recorder/motion"
)

// blockSize is the bytes per macroblock in the encoder's vector output:
// int8 x, int8 y, uint16 SAD little endian.
const blockSize = 4

// VectorReader decodes raspivid's inline motion vector output. Each frame is
// (width/16 + 1) columns by height/16 rows of blocks; the extra column is
// padding the encoder always emits.
type VectorReader struct {
	r      io.Reader
	rows   int
	cols   int
	raw    []byte
	blocks []motion.Block
	now    func() int64
}

// NewVectorReader prepares a reader for frames of the given pixel dimensions.
// now stamps each frame in microseconds since the Unix epoch.
func NewVectorReader(r io.Reader, width, height int, now func() int64) (*VectorReader, error) {
	if width < 16 || height < 16 {
		return nil, fmt.Errorf("frame size %dx%d too small for motion vectors", width, height)
	}
	cols := width/16 + 1
	rows := height / 16
	return &VectorReader{
		r:      r,
		rows:   rows,
		cols:   cols,
		raw:    make([]byte, rows*cols*blockSize),
		blocks: make([]motion.Block, rows*cols),
		now:    now,
	}, nil
}

// FrameBytes is the size of one frame of vector data.
func (v *VectorReader) FrameBytes() int {
	return len(v.raw)
}

// ReadFrame blocks until a whole frame is available. The returned frame's
// blocks are overwritten by the next call.
func (v *VectorReader) ReadFrame() (motion.Frame, error) {
	if _, err := io.ReadFull(v.r, v.raw); err != nil {
		return motion.Frame{}, err
	}
	ts := v.now()
	return v.decode(ts), nil
}

func (v *VectorReader) decode(ts int64) motion.Frame {
	for i := range v.blocks {
		b := v.raw[i*blockSize : i*blockSize+blockSize]
		v.blocks[i] = motion.Block{
			X:   int16(int8(b[0])),
			Y:   int16(int8(b[1])),
			SAD: binary.LittleEndian.Uint16(b[2:4]),
		}
	}
	return motion.Frame{
		Blocks:       v.blocks,
		Rows:         v.rows,
		Cols:         v.cols,
		Timestamp:    ts,
		HasTimestamp: ts > 0,
	}
}
