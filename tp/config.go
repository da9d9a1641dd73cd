package tp

import "fmt"

// Config defines the tunable parameters of the transport protocol engine.
type Config struct {
	// MaxSessions caps concurrent sessions, rx and tx combined. At the cap a
	// BAM is ignored, an RTS is answered with an abort and SubmitTx fails.
	MaxSessions int

	// BAMFrameGapMs is the minimum gap between broadcast data frames. The
	// standard requires at least 50 ms; strict receivers enforce it.
	BAMFrameGapMs int64

	// FramesPerTick caps the data frames one connection-mode session may emit
	// per Tick, so a large cleared window cannot monopolize the bus.
	FramesPerTick int

	// Priority is the CAN priority of all engine-emitted frames.
	Priority uint8
}

// DefaultConfig returns the standard engine parameters.
func DefaultConfig() Config {
	return Config{
		MaxSessions:   32,
		BAMFrameGapMs: 50,
		FramesPerTick: 4,
		Priority:      7,
	}
}

// Validate checks the configuration parameters.
func (c *Config) Validate() error {
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be greater than 0")
	}
	if c.BAMFrameGapMs < 50 {
		return fmt.Errorf("bam frame gap must be at least 50 ms")
	}
	if c.FramesPerTick <= 0 {
		return fmt.Errorf("frames per tick must be greater than 0")
	}
	if c.Priority > 7 {
		return fmt.Errorf("priority must be between 0 and 7")
	}
	return nil
}
