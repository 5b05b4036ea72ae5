package camera

import (
	"bufio"
	"bytes"
	"io"
)

// nalTypeSPS marks a sequence parameter set.
const nalTypeSPS = 7

var startCode = []byte{0x00, 0x00, 0x01}

// NALUnit is one Annex-B NAL unit including its start code.
type NALUnit []byte

// Type returns the nal_unit_type from the header byte, or 0 for a malformed unit.
func (n NALUnit) Type() byte {
	i := bytes.Index(n, startCode)
	if i < 0 || i+3 >= len(n) {
		return 0
	}
	return n[i+3] & 0x1F
}

// IsSPS reports whether the unit is a sequence parameter set, the first
// unit of every key frame group the encoder emits.
func (n NALUnit) IsSPS() bool {
	return n.Type() == nalTypeSPS
}

// NewNALScanner returns a scanner that yields one Annex-B NAL unit per token.
// Bytes before the first start code are discarded.
func NewNALScanner(r io.Reader, maxUnitSize int) *bufio.Scanner {
	s := bufio.NewScanner(r)
	initial := 64 * 1024
	if maxUnitSize < initial {
		initial = maxUnitSize
	}
	s.Buffer(make([]byte, 0, initial), maxUnitSize)
	s.Split(scanNALUnits)
	return s
}

func scanNALUnits(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	start := indexStartCode(data, 0)
	if start < 0 {
		// Keep a possible partial start code at the tail.
		if atEOF {
			return len(data), nil, nil
		}
		if len(data) > 3 {
			return len(data) - 3, nil, nil
		}
		return 0, nil, nil
	}
	if start > 0 {
		return start, nil, nil
	}

	next := indexStartCode(data, 3)
	if next < 0 {
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
	return next, data[:next], nil
}

// indexStartCode finds the next start code at or after from, backing up one
// byte for the four byte form.
func indexStartCode(data []byte, from int) int {
	if from >= len(data) {
		return -1
	}
	i := bytes.Index(data[from:], startCode)
	if i < 0 {
		return -1
	}
	i += from
	if i > from && data[i-1] == 0x00 {
		i--
	}
	return i
}
