// Package rules derives alert and warning flags for the workflow report.
// The functions are pure: same inputs, same flags, regardless of order.
package rules

import "github.com/Ramsey-B/fern/pkg/models"

// ComputeFileAlert reports a monitored file that has nothing telling an
// operator what to do when it goes wrong. Rules on an unmonitored file are
// kept but ignored.
func ComputeFileAlert(isMonitored bool, rules []models.Rule) bool {
	return isMonitored && len(rules) == 0
}

// ComputeStepWarning is true when any of the step's files is alerting.
func ComputeStepWarning(files []models.WorkflowFile) bool {
	for _, file := range files {
		if file.HasAlert {
			return true
		}
	}
	return false
}
