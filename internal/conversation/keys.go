// Package conversation persists per-conversation message logs in the shared
// key-value store and keeps a tab's view of the active conversation in sync
// with writes from other tabs.
package conversation

// GlobalID is the shared room every signed-in user sees.
const GlobalID = "global"

// Fixed keys of the other portal records.
const (
	PostsKey      = "posts"
	LikedPostsKey = "likedPostIds"
	SessionKey    = "userData"
)

// MessagesKey returns the key holding the message log of a conversation.
func MessagesKey(conversationID string) string {
	return conversationID + "GroupChatMessages"
}

// AvatarKey returns the key holding the avatar of a conversation.
func AvatarKey(conversationID string) string {
	return conversationID + "GroupChatAvatar"
}

func ProfileKey(email string) string {
	return "profile_" + email
}

// Contact is a one-to-one conversation partner listed beside the global room.
type Contact struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Status string `json:"status"`
}

// DefaultContacts is the contact list shown to every user.
var DefaultContacts = []Contact{
	{ID: "1", Name: "Alice", Avatar: "./avatar1.png", Status: "Online"},
	{ID: "2", Name: "Bob", Avatar: "./avatar2.png", Status: "Offline"},
	{ID: "3", Name: "Charlie", Avatar: "./avatar3.png", Status: "Online"},
	{ID: "4", Name: "David", Avatar: "./avatar4.png", Status: "Away"},
	{ID: "5", Name: "Eve", Avatar: "./avatar5.png", Status: "Online"},
}
