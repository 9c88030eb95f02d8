package qa

import (
	"fmt"
	"strings"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// Strategy decides when the vault is indexed automatically
type Strategy string

const (
	// StrategyNever only indexes on explicit request
	StrategyNever Strategy = "NEVER"
	// StrategyOnStartup indexes once when the service starts
	StrategyOnStartup Strategy = "ON_STARTUP"
	// StrategyOnModeSwitch indexes on the first QA request after each switch
	// into QA mode. Service.ResetQAMode marks a switch.
	StrategyOnModeSwitch Strategy = "ON_MODE_SWITCH"
)

// DefaultStrategy is used when none is configured
const DefaultStrategy = StrategyOnModeSwitch

// ParseStrategy accepts the canonical names as well as the spaced and
// hyphenated spellings ("ON STARTUP", "on-mode-switch"). Empty means
// DefaultStrategy.
func ParseStrategy(s string) (Strategy, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)

	switch Strategy(norm) {
	case "":
		return DefaultStrategy, nil
	case StrategyNever, StrategyOnStartup, StrategyOnModeSwitch:
		return Strategy(norm), nil
	default:
		return "", fmt.Errorf("%w: unknown auto-index strategy %q", types.ErrConfiguration, s)
	}
}
