package intervention

import (
	"errors"
	"fmt"
)

// QualityViolationError rejects a task completion that failed the
// verification gate. The agent receives it as a tool error and can record
// the missing test results and retry; repeated rejections pause the session.
type QualityViolationError struct {
	TaskID int
	Reason string
}

func (e *QualityViolationError) Error() string {
	return fmt.Sprintf("quality violation on task %d: %s", e.TaskID, e.Reason)
}

// IsQualityViolation reports whether err is or wraps a QualityViolationError.
func IsQualityViolation(err error) bool {
	var qv *QualityViolationError
	return errors.As(err, &qv)
}
