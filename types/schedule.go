package types

// ScheduleItem is one entry of the conference schedule. StartTime and EndTime are "HH:MM" strings and compare
// lexically.
type ScheduleItem struct {
	Id          int64  `json:"id" gorm:"primaryKey;autoIncrement:false" mapstructure:"id"`
	Day         int    `json:"day" gorm:"index:schedule_order,priority:1" mapstructure:"day"`
	StartTime   string `json:"startTime" gorm:"index:schedule_order,priority:2" mapstructure:"startTime"`
	EndTime     string `json:"endTime" mapstructure:"endTime"`
	Title       string `json:"title" mapstructure:"title"`
	Description string `json:"description" mapstructure:"description"`
	Location    string `json:"location,omitempty" mapstructure:"location"`
	Category    string `json:"category,omitempty" mapstructure:"category"`
	Speakers    string `json:"speakers,omitempty" mapstructure:"speakers"`
}

// ScheduleLess orders schedule items by day, then start time.
func ScheduleLess(a, b *ScheduleItem) bool {
	if a.Day != b.Day {
		return a.Day < b.Day
	}
	if a.StartTime != b.StartTime {
		return a.StartTime < b.StartTime
	}
	return a.Id < b.Id
}

// ApplySchedulePatch merges the fields present in patch into item, keeping the id.
func ApplySchedulePatch(item *ScheduleItem, patch map[string]interface{}) error {
	id := item.Id
	if err := applyPatch(item, patch); err != nil {
		return err
	}
	item.Id = id
	return nil
}

// TableName stores schedule items in the "schedule" collection.
func (ScheduleItem) TableName() string {
	return string(CollectionSchedule)
}
