package types

// Collection names one of the four persisted record collections.
type Collection string

const (
	CollectionUsers    Collection = "users"
	CollectionMessages Collection = "messages"
	CollectionPolls    Collection = "polls"
	CollectionSchedule Collection = "schedule"
)
