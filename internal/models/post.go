package models

// Comment is a reply attached to an announcement post.
type Comment struct {
	ID        int64  `json:"id"`
	User      string `json:"user"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

// Post is an announcement on the portal feed. CreatedAt is unix milliseconds.
type Post struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Content   string    `json:"content"`
	Likes     int       `json:"likes"`
	Comments  []Comment `json:"comments"`
	Image     string    `json:"image,omitempty"`
	CreatedAt int64     `json:"createdAt"`
}
