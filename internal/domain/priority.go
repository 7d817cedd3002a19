package domain

// Priority is the download urgency an engine assigns to a range of pieces.
type Priority int

const (
	PriorityNone      Priority = -1
	PriorityNormal    Priority = 1
	PriorityReadahead Priority = 2
	PriorityNext      Priority = 3
	PriorityHigh      Priority = 4 // piece the player needs right now
)
