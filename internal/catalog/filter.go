package catalog

import (
	"net/url"
	"strconv"

	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/model"
)

// TaskFilter narrows a task list to one queue.
type TaskFilter struct {
	AssignedToUserID string
	OfficeID         string
	Status           string
	ServiceRequestID string
}

// TaskFilterFromQuery reads a TaskFilter from URL query parameters.
func TaskFilterFromQuery(q url.Values) TaskFilter {
	return TaskFilter{
		AssignedToUserID: q.Get("assignedToUserId"),
		OfficeID:         q.Get("officeId"),
		Status:           q.Get("status"),
		ServiceRequestID: q.Get("serviceRequestId"),
	}
}

// Match reports whether t passes every set criterion.
func (f TaskFilter) Match(t model.Task) bool {
	return (f.AssignedToUserID == "" || t.AssignedToUserID == f.AssignedToUserID) &&
		(f.OfficeID == "" || t.OfficeID == f.OfficeID) &&
		(f.Status == "" || t.Status == f.Status) &&
		(f.ServiceRequestID == "" || t.ServiceRequestID == f.ServiceRequestID)
}

// Apply filters tasks.
func (f TaskFilter) Apply(tasks []model.Task) []model.Task {
	return store.Filter(tasks, f.Match)
}

// NotificationFilter narrows notifications to one user's inbox.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
}

// NotificationFilterFromQuery reads a NotificationFilter from URL query
// parameters.
func NotificationFilterFromQuery(q url.Values) NotificationFilter {
	unread, _ := strconv.ParseBool(q.Get("unread"))
	return NotificationFilter{UserID: q.Get("userId"), UnreadOnly: unread}
}

// Apply filters notifications.
func (f NotificationFilter) Apply(items []model.Notification) []model.Notification {
	return store.Filter(items, func(n model.Notification) bool {
		return (f.UserID == "" || n.UserID == f.UserID) && (!f.UnreadOnly || !n.Read)
	})
}
