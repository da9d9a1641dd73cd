package tp

import "testing"

func TestConfig_Validate(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Errorf("DefaultConfig should be valid, got: %v", err)
	}
}

func TestConfig_DefaultValues(t *testing.T) {
	c := DefaultConfig()
	if c.MaxSessions != 32 {
		t.Errorf("expected default MaxSessions 32, got %d", c.MaxSessions)
	}
	if c.BAMFrameGapMs != 50 {
		t.Errorf("expected default BAM gap 50 ms, got %d", c.BAMFrameGapMs)
	}
	if c.Priority != 7 {
		t.Errorf("expected default priority 7, got %d", c.Priority)
	}
}

func TestConfig_RejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.MaxSessions = 0 },
		func(c *Config) { c.BAMFrameGapMs = 10 },
		func(c *Config) { c.FramesPerTick = 0 },
		func(c *Config) { c.Priority = 8 },
	}
	for i, mutate := range cases {
		c := DefaultConfig()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected a validation error", i)
		}
	}
}
