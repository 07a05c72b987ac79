package orchestrator

import (
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/retry"
)

// MaxRetryDelay caps the wait between attempts of every default policy.
const MaxRetryDelay = 30 * time.Second

// DefaultPolicies returns the retry policy of each task class.
func DefaultPolicies() map[core.TaskClass]retry.Policy {
	stage := retry.Policy{MaxAttempts: 6, BaseDelay: 500 * time.Millisecond, MaxDelay: MaxRetryDelay}
	report := retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: MaxRetryDelay}
	return map[core.TaskClass]retry.Policy{
		core.TaskIngest:   stage,
		core.TaskEmbed:    stage,
		core.TaskAnalysis: report,
		core.TaskDigest:   report,
	}
}

// pipelineStage reports whether exhausted tasks of class are recorded as
// core.ErrPipelineStageFailed.
func pipelineStage(class core.TaskClass) bool {
	return class == core.TaskIngest || class == core.TaskEmbed
}
