package events

// Event enumerates the topics the venue gateway and strategy engine use
// to observe each other without a direct dependency, per the design note
// on loose coupling in spec.md §9.
type Event string

const (
	EventOrderBookUpdate   Event = "order_book_update"
	EventVenueError        Event = "venue_error"
	EventVenueConnected    Event = "venue_connected"
	EventVenueDisconnected Event = "venue_disconnected"
	EventOpportunityFound  Event = "opportunity_found"
	EventExecutionStarted  Event = "execution_started"
	EventExecutionCompleted Event = "execution_completed"
	EventStatusUpdate      Event = "status_update"
)
