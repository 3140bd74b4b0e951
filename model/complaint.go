package model

// ComplaintStatus is the externally owned complaint status field the engine
// emits updates for. The engine never stores it; it only decides.
type ComplaintStatus string

// Complaint statuses.
const (
	StatusOpen       ComplaintStatus = "Open"
	StatusInProgress ComplaintStatus = "In Progress"
	StatusResolved   ComplaintStatus = "Resolved"
	StatusClosed     ComplaintStatus = "Closed"
)

// Valid reports whether s is one of the known complaint statuses.
func (s ComplaintStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Priority is the complaint priority scale Low < Medium < High < Urgent.
type Priority string

// Complaint priorities, in ascending order.
const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

var priorityByRank = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Bump returns the priority one level above p, clamped at Urgent. An unknown
// priority is returned unchanged.
func (p Priority) Bump() Priority {
	rank, ok := priorityRank[p]
	if !ok {
		return p
	}
	if rank >= len(priorityByRank)-1 {
		return PriorityUrgent
	}
	return priorityByRank[rank+1]
}
