package progress

// CalculatePercent returns round(100 * completed / total) with halves rounded up.
// A course without topics is at 0%.
func CalculatePercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	if completed < 0 {
		completed = 0
	}
	if completed > total {
		completed = total
	}
	return (200*completed + total) / (2 * total)
}

// EmptyTopicPolicy decides whether a topic with no materials counts as complete.
type EmptyTopicPolicy int

const (
	// EmptyTopicComplete treats a topic without materials as complete once it
	// is re-evaluated (vacuous truth).
	EmptyTopicComplete EmptyTopicPolicy = iota

	// EmptyTopicIncomplete keeps topics without materials incomplete, so they
	// hold the course below 100% until materials are added and finished.
	EmptyTopicIncomplete
)

// DefaultEmptyTopicPolicy is used when no policy is configured.
const DefaultEmptyTopicPolicy = EmptyTopicComplete

// String returns the policy name as used in configuration.
func (p EmptyTopicPolicy) String() string {
	switch p {
	case EmptyTopicIncomplete:
		return "incomplete"
	default:
		return "complete"
	}
}

// ParseEmptyTopicPolicy parses "complete" or "incomplete". Anything else
// yields the default.
func ParseEmptyTopicPolicy(s string) EmptyTopicPolicy {
	if s == "incomplete" {
		return EmptyTopicIncomplete
	}
	return DefaultEmptyTopicPolicy
}

// TopicComplete reports whether every material id is in completed.
func (p EmptyTopicPolicy) TopicComplete(materialIDs, completed []string) bool {
	if len(materialIDs) == 0 {
		return p == EmptyTopicComplete
	}
	done := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		done[id] = struct{}{}
	}
	for _, id := range materialIDs {
		if _, ok := done[id]; !ok {
			return false
		}
	}
	return true
}
