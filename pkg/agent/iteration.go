package agent

// MaxConsecutiveTimeouts is how many timeouts in a row a controller
// tolerates before aborting the iteration loop. A single timeout may be a
// blip; consecutive ones mean the provider is down for this session.
const MaxConsecutiveTimeouts = 2

// IterationState is the per-loop bookkeeping shared by the iteration
// controllers: where the loop is, and how the last interaction went.
type IterationState struct {
	CurrentIteration           int
	MaxIterations              int
	LastInteractionFailed      bool
	LastErrorMessage           string
	ConsecutiveTimeoutFailures int
}

// ShouldAbortOnTimeouts reports whether the consecutive-timeout threshold
// has been reached.
func (s *IterationState) ShouldAbortOnTimeouts() bool {
	return s.ConsecutiveTimeoutFailures >= MaxConsecutiveTimeouts
}

// RecordSuccess clears failure tracking. Any successful interaction breaks
// a timeout streak.
func (s *IterationState) RecordSuccess() {
	s.LastInteractionFailed = false
	s.LastErrorMessage = ""
	s.ConsecutiveTimeoutFailures = 0
}

// RecordFailure notes a failed interaction. Only timeouts extend the
// streak; other failures reset it.
func (s *IterationState) RecordFailure(errMsg string, isTimeout bool) {
	s.LastInteractionFailed = true
	s.LastErrorMessage = errMsg
	if isTimeout {
		s.ConsecutiveTimeoutFailures++
	} else {
		s.ConsecutiveTimeoutFailures = 0
	}
}
