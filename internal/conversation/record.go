package conversation

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"udmportal/internal/models"
)

const (
	recordVersion = 1
	// TimeLayout is the createdAt format: UTC with millisecond precision.
	TimeLayout    = "2006-01-02T15:04:05.000Z"
	defaultAuthor = "Guest"
)

var epoch = time.Unix(0, 0).UTC()

type record struct {
	V         int                `json:"v"`
	ID        int64              `json:"id"`
	Kind      models.MessageKind `json:"kind"`
	Body      string             `json:"body"`
	Author    string             `json:"author"`
	CreatedAt string             `json:"createdAt"`
}

func encodeLog(msgs []models.Message) (string, error) {
	recs := make([]record, len(msgs))
	for i, m := range msgs {
		recs[i] = record{V: recordVersion, ID: m.ID, Kind: m.Kind, Body: m.Body, Author: m.Author, CreatedAt: m.CreatedAt}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeLog reads a persisted log. Older records written without a version
// use other field names; both shapes are accepted and missing fields are
// filled with defaults. ok is false when raw is not a JSON array.
func decodeLog(raw string) ([]models.Message, bool) {
	if !gjson.Valid(raw) {
		return nil, false
	}
	arr := gjson.Parse(raw)
	if !arr.IsArray() {
		return nil, false
	}
	msgs := make([]models.Message, 0)
	pos := 0
	arr.ForEach(func(_, v gjson.Result) bool {
		pos++
		if !v.IsObject() {
			return true
		}
		msgs = append(msgs, decodeRecord(v, pos))
		return true
	})
	return msgs, true
}

func decodeRecord(v gjson.Result, pos int) models.Message {
	m := models.Message{
		Kind:   models.MessageKind(firstString(v, "kind", "type")),
		Body:   firstString(v, "body", "text", "content"),
		Author: firstString(v, "author", "sender", "username"),
	}
	if !m.Kind.Valid() {
		m.Kind = models.KindText
	}
	if m.Author == "" {
		m.Author = defaultAuthor
	}
	created := parseTime(first(v, "createdAt", "timestamp"))
	m.CreatedAt = created.Format(TimeLayout)

	m.ID = v.Get("id").Int()
	if m.ID == 0 {
		m.ID = created.UnixMilli()
	}
	if m.ID == 0 {
		m.ID = int64(pos)
	}
	return m
}

func first(v gjson.Result, names ...string) gjson.Result {
	for _, name := range names {
		if r := v.Get(name); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func firstString(v gjson.Result, names ...string) string {
	r := first(v, names...)
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}

// parseTime accepts ISO-8601 strings and millisecond numbers.
func parseTime(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, r.Str); err == nil {
			return t.UTC()
		}
	case gjson.Number:
		return time.UnixMilli(r.Int()).UTC()
	}
	return epoch
}

func encodeAvatar(avatar string) (string, error) {
	data, err := json.Marshal(avatar)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeAvatar(raw string) (string, bool) {
	r := gjson.Parse(raw)
	if !gjson.Valid(raw) || r.Type != gjson.String {
		return "", false
	}
	return r.Str, true
}
