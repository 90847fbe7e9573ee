package types

import "encoding/json"

// Event names used on the duplex channel.
const (
	EventSendMessage  = "sendMessage"
	EventNewMessage   = "newMessage"
	EventUserUpdated  = "userUpdated"
	EventMessageLiked = "messageLiked"
	EventUserJoined   = "userJoined"
	EventUserLeft     = "userLeft"
	EventError        = "error"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewWebsocketMessage marshals payload into the data field of a new WebsocketMessage.
func NewWebsocketMessage(event string, payload interface{}) (*WebsocketMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &WebsocketMessage{Event: event, Data: data}, nil
}
