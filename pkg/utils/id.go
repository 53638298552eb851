package utils

import (
	"github.com/google/uuid"
)

// GenerateConnectionID returns a unique id for a websocket connection.
func GenerateConnectionID() string {
	return "conn_" + uuid.NewString()
}

// GenerateMessageID returns a unique id for a persisted chat message.
func GenerateMessageID() string {
	return "msg_" + uuid.NewString()
}
