package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"z4-server/quadtree"
	"z4-server/sim"
)

func TestValidateConfig(t *testing.T) {
	valid := func() config {
		s := sim.DefaultConfig()
		return config{
			WorldWidth:     s.Width,
			WorldHeight:    s.Height,
			SplitThreshold: s.SplitThreshold,
			MergeThreshold: s.MergeThreshold,
			MaxDepth:       s.MaxDepth,
			TickRate:       s.TickRate,
			BroadcastRate:  s.BroadcastRate,
		}
	}

	tests := []struct {
		name   string
		modify func(*config)
		ok     bool
	}{
		{"defaults", func(*config) {}, true},
		{"explicit merge threshold", func(c *config) { c.MergeThreshold = 2 }, true},
		{"auto merge threshold", func(c *config) { c.MergeThreshold = quadtree.AutoMergeThreshold }, true},
		{"empty world", func(c *config) { c.WorldWidth = 0 }, false},
		{"no split threshold", func(c *config) { c.SplitThreshold = 0 }, false},
		{"merge above split", func(c *config) { c.MergeThreshold = c.SplitThreshold + 1 }, false},
		{"negative depth", func(c *config) { c.MaxDepth = -1 }, false},
		{"broadcast faster than ticks", func(c *config) { c.BroadcastRate = c.TickRate + 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := valid()
			tt.modify(&conf)

			err := validateConfig(conf)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}
