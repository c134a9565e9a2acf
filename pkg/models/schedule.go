// Package models contains domain models for the lesson popularity worker.
package models

// ScheduleStatus is the lifecycle state of a lesson application (booking).
type ScheduleStatus string

const (
	StatusApprovalPending ScheduleStatus = "APPROVAL_PENDING"
	StatusApproved        ScheduleStatus = "APPROVED"
	StatusCompleted       ScheduleStatus = "COMPLETED"
	StatusCanceled        ScheduleStatus = "CANCELED"
	StatusPaymentPending  ScheduleStatus = "PAYMENT_PENDING"
)

// AllScheduleStatuses lists every status in declaration order.
var AllScheduleStatuses = []ScheduleStatus{
	StatusApprovalPending,
	StatusApproved,
	StatusCompleted,
	StatusCanceled,
	StatusPaymentPending,
}

// IsValid reports whether s is one of the known statuses.
func (s ScheduleStatus) IsValid() bool {
	switch s {
	case StatusApprovalPending, StatusApproved, StatusCompleted, StatusCanceled, StatusPaymentPending:
		return true
	}
	return false
}

// CountsTowardCancellation reports whether bookings in this status belong to the
// cancellation-rate denominator. Payment-pending bookings never reached a committed
// state and are left out.
func (s ScheduleStatus) CountsTowardCancellation() bool {
	switch s {
	case StatusApprovalPending, StatusApproved, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// StatusCount is one row of the status-grouped application counts.
type StatusCount struct {
	LessonID string         `json:"lesson_id"`
	Status   ScheduleStatus `json:"status"`
	Count    int64          `json:"count"`
}

// ApplicationCounts holds one lesson's application counts keyed by status.
// Missing statuses read as zero.
type ApplicationCounts map[ScheduleStatus]int64

// Get returns the count for status, or 0 when absent.
func (c ApplicationCounts) Get(status ScheduleStatus) int64 {
	if c == nil {
		return 0
	}
	return c[status]
}

// CancellationRate returns canceled / (canceled + approved + completed + approval pending).
// Returns 0 when the lesson has no committed applications.
func (c ApplicationCounts) CancellationRate() float64 {
	var valid int64
	for status, n := range c {
		if status.CountsTowardCancellation() {
			valid += n
		}
	}
	if valid <= 0 {
		return 0
	}
	return float64(c.Get(StatusCanceled)) / float64(valid)
}

// GroupStatusCounts folds status-grouped rows into per-lesson counts.
// Rows with unknown statuses or non-positive counts are skipped.
func GroupStatusCounts(rows []StatusCount) map[string]ApplicationCounts {
	grouped := make(map[string]ApplicationCounts)
	for _, row := range rows {
		if !row.Status.IsValid() || row.Count <= 0 {
			continue
		}
		counts, ok := grouped[row.LessonID]
		if !ok {
			counts = make(ApplicationCounts, len(AllScheduleStatuses))
			grouped[row.LessonID] = counts
		}
		counts[row.Status] += row.Count
	}
	return grouped
}
