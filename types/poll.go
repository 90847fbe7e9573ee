package types

// Poll is seeded once and afterwards only grows CompletedBy.
type Poll struct {
	Id          int64           `json:"id" gorm:"primaryKey;autoIncrement:false" mapstructure:"id"`
	Question    string          `json:"question" mapstructure:"question"`
	Options     JSONStringSlice `json:"options" mapstructure:"options"`
	CompletedBy JSONInt64Slice  `json:"completedBy" mapstructure:"completedBy"`
	Coins       int64           `json:"coins" mapstructure:"coins"` // reward for completing the poll
}

// CompletedByUser reports whether userId already completed the poll.
func (p *Poll) CompletedByUser(userId int64) bool {
	for _, id := range p.CompletedBy {
		if id == userId {
			return true
		}
	}
	return false
}

// Complete adds userId to CompletedBy. It returns false if the user was already present.
func (p *Poll) Complete(userId int64) bool {
	if p.CompletedByUser(userId) {
		return false
	}
	p.CompletedBy = append(p.CompletedBy, userId)
	return true
}

// CompleteRequest is the body of POST /polls/{id}/complete.
type CompleteRequest struct {
	UserId int64 `json:"userId"`
}

// DefaultPolls are stored on first initialization when no polls are configured.
func DefaultPolls() []Poll {
	return []Poll{
		{
			Id:       1,
			Question: "Какой доклад вам понравился больше всего?",
			Options: JSONStringSlice{
				"Будущее AI в бизнесе",
				"Blockchain и финансы",
				"Кибербезопасность 2025",
				"Web3 разработка",
			},
			CompletedBy: JSONInt64Slice{},
			Coins:       10,
		},
		{
			Id:       2,
			Question: "Какие темы вы хотели бы услышать завтра?",
			Options: JSONStringSlice{
				"Мобильная разработка",
				"DevOps практики",
				"UX/UI дизайн",
				"Agile методологии",
			},
			CompletedBy: JSONInt64Slice{},
			Coins:       15,
		},
	}
}
