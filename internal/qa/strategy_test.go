package qa

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyOnModeSwitch, false},
		{"NEVER", StrategyNever, false},
		{"never", StrategyNever, false},
		{"ON STARTUP", StrategyOnStartup, false},
		{"on_startup", StrategyOnStartup, false},
		{"ON MODE SWITCH", StrategyOnModeSwitch, false},
		{" on-mode-switch ", StrategyOnModeSwitch, false},
		{"sometimes", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrConfiguration)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
