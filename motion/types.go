package motion

// Block is one macroblock entry reported by the encoder: the inter-block
// motion vector and its sum of absolute differences.
type Block struct {
	X   int16
	Y   int16
	SAD uint16
}

// Frame holds one frame's motion-vector grid in row-major order.
// Blocks may alias a reader's scratch buffer and is only valid for the
// duration of the analysis call it is passed to.
type Frame struct {
	Blocks []Block
	Rows   int
	Cols   int

	// Timestamp is microseconds since the Unix epoch, UTC.
	Timestamp    int64
	HasTimestamp bool
}

// FrameMetric summarizes one analyzed frame.
type FrameMetric struct {
	Timestamp      int64  `json:"timestamp"`
	MaxBlockMotion uint32 `json:"max_block_motion"`
	MotionSum      uint32 `json:"motion_sum"`
	SADSum         uint32 `json:"sad_sum"`
}

// Measurement is an extracted FrameMetric plus the number of blocks whose
// magnitude exceeded the per-block threshold. The block count only feeds the
// trigger and is never persisted.
type Measurement struct {
	FrameMetric
	ActiveBlocks int
}

// Thresholds configure when a frame counts as motion.
type Thresholds struct {
	// PerBlock is the magnitude a single block must exceed to be counted.
	PerBlock float64
	// NumBlocks is how many counted blocks fire the trigger.
	NumBlocks int
	// PerFrame is the motion sum that fires the trigger on its own.
	PerFrame uint32
}
