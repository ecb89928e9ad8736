package models

// MessageKind identifies what a message body carries.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindAudio MessageKind = "audio"
)

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio:
		return true
	}
	return false
}

// Message is one entry of a conversation log. Body is plain text for text
// messages and a data URI for image and audio messages.
type Message struct {
	ID        int64       `json:"id"`
	Kind      MessageKind `json:"kind"`
	Body      string      `json:"body"`
	Author    string      `json:"author"`
	CreatedAt string      `json:"createdAt"`
}
