package job

import (
	"fmt"
	"strconv"
)

// Priority is the sorted-set score used to order dispatch. Lower values
// are served first.
type Priority int

// Named priority levels.
const (
	PriorityCritical Priority = -15
	PriorityHigh     Priority = -10
	PriorityMedium   Priority = -5
	PriorityNormal   Priority = 0
	PriorityLow      Priority = 10
)

var priorityNames = map[string]Priority{
	"critical": PriorityCritical,
	"high":     PriorityHigh,
	"medium":   PriorityMedium,
	"normal":   PriorityNormal,
	"low":      PriorityLow,
}

// ParsePriority resolves a named level via the fixed map; anything else
// is interpreted as a numeric score. Unknown non-numeric names return
// PriorityNormal together with an error.
func ParsePriority(s string) (Priority, error) {
	if p, ok := priorityNames[s]; ok {
		return p, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return PriorityNormal, fmt.Errorf("kue/job: unknown priority %q", s)
	}
	return Priority(n), nil
}

// String returns the level name when the value matches one, otherwise
// the numeric form.
func (p Priority) String() string {
	for name, v := range priorityNames {
		if v == p {
			return name
		}
	}
	return strconv.Itoa(int(p))
}
