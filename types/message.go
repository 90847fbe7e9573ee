package types

import "time"

// Message is a chat message. Likes is a counter that only increases.
type Message struct {
	Id        int64  `json:"id" gorm:"primaryKey;autoIncrement:false" mapstructure:"id"`
	UserId    int64  `json:"userId" gorm:"index" mapstructure:"userId"`
	Text      string `json:"text" mapstructure:"text"`
	ImageUrl  string `json:"imageUrl,omitempty" mapstructure:"imageUrl"`
	Likes     int64  `json:"likes" mapstructure:"likes"`
	Timestamp int64  `json:"timestamp" gorm:"index" mapstructure:"timestamp"` // unix milliseconds
}

// NewMessage creates a message with a client-generated id and the current timestamp.
func NewMessage(userId int64, text, imageUrl string) Message {
	return Message{
		Id:        NewID(),
		UserId:    userId,
		Text:      text,
		ImageUrl:  imageUrl,
		Timestamp: time.Now().UnixMilli(),
	}
}

// SameAs reports whether o is the same message as m sent again, e.g. over the realtime channel and the REST API.
// Ids are generated per process and may collide, so they are not compared.
func (m Message) SameAs(o Message) bool {
	return m.UserId == o.UserId && m.Timestamp == o.Timestamp && m.Text == o.Text
}

// LikePayload is the data of a messageLiked event.
type LikePayload struct {
	MessageId int64 `json:"messageId" mapstructure:"messageId"`
}

// UserRef is the data of a userLeft event.
type UserRef struct {
	UserId int64 `json:"userId" mapstructure:"userId"`
}

// ErrorPayload is sent to the originating session when an inbound event could not be processed.
type ErrorPayload struct {
	Message string `json:"message"`
}
