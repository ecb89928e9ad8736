package models

// Profile is the sidebar card stored per account email.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Pic    string `json:"pic"`
}
