package database

import (
	"database/sql"
	"time"
)

// MessageType classifies a message by its content.
type MessageType string

const (
	MessageTypeText     MessageType = "TEXT"
	MessageTypeImage    MessageType = "IMAGE"
	MessageTypeVideo    MessageType = "VIDEO"
	MessageTypeAudio    MessageType = "AUDIO"
	MessageTypeDocument MessageType = "DOCUMENT"
)

// IsMedia reports whether the type is anything other than plain text.
func (t MessageType) IsMedia() bool {
	return t != MessageTypeText
}

// User is a chat participant, identified by canonical phone number.
type User struct {
	PhoneNumber string    `db:"phone_number"`
	DisplayName string    `db:"display_name"`
	JoinedAt    time.Time `db:"joined_at"`
	LastActive  time.Time `db:"last_active"`
}

// Message is a single imported chat message. Messages are immutable once
// created; the importer is the only writer.
type Message struct {
	ID          string      `db:"id"`
	SenderPhone string      `db:"sender_phone"`
	Content     string      `db:"content"`
	Timestamp   time.Time   `db:"timestamp"`
	MessageType MessageType `db:"message_type"`
	CreatedAt   time.Time   `db:"created_at"`
}

// NewMessage carries the fields of a message about to be persisted. The
// store assigns the ID and creation time on insert.
type NewMessage struct {
	SenderPhone string
	Content     string
	Timestamp   time.Time
	MessageType MessageType
}

// UserStatistics is the denormalized per-user snapshot maintained by the
// analytics service. It is a cache: always recomputable from messages,
// never a source of truth.
type UserStatistics struct {
	UserPhone        string        `db:"user_phone"`
	TotalMessages    int           `db:"total_messages"`
	MediaMessages    int           `db:"media_messages"`
	ActiveDays       int           `db:"active_days"`
	AvgMessageLength float64       `db:"avg_message_length"`
	PeakActivityHour sql.NullInt64 `db:"peak_activity_hour"`
	LastCalculated   time.Time     `db:"last_calculated"`
}

// GroupStatistics is the cached group-wide snapshot for a single calendar
// date (YYYY-MM-DD). PeakHour is null on days without messages.
type GroupStatistics struct {
	Date          string        `db:"date"`
	TotalMessages int           `db:"total_messages"`
	ActiveUsers   int           `db:"active_users"`
	MediaCount    int           `db:"media_count"`
	PeakHour      sql.NullInt64 `db:"peak_hour"`
}

// DailyUserActivity is one day of a user's message activity. AvgLength is
// null on days without any text messages.
type DailyUserActivity struct {
	Date         string          `db:"date"`
	MessageCount int             `db:"message_count"`
	MediaCount   int             `db:"media_count"`
	AvgLength    sql.NullFloat64 `db:"avg_length"`
}

// DailyGroupActivity is one day of group-wide activity.
type DailyGroupActivity struct {
	Date        string `db:"date"`
	Count       int    `db:"count"`
	ActiveUsers int    `db:"active_users"`
}

// HourBucket is a message count for one hour of the day (0-23).
type HourBucket struct {
	Hour  int `db:"hour"`
	Count int `db:"count"`
}

// WeekdayBucket is a message count for one day of the week (0 = Sunday).
type WeekdayBucket struct {
	Day   int `db:"day"`
	Count int `db:"count"`
}

// SenderCount pairs a sender with their message count in some range.
type SenderCount struct {
	PhoneNumber  string `db:"phone_number"`
	MessageCount int    `db:"message_count"`
}

// MessageCounts holds total and media message counts for one sender.
type MessageCounts struct {
	Total int `db:"total"`
	Media int `db:"media"`
}

// TextLengthStats aggregates content length over text messages only. Both
// fields are null when the range contains no text messages.
type TextLengthStats struct {
	AvgLength  sql.NullFloat64 `db:"avg_length"`
	TotalChars sql.NullInt64   `db:"total_chars"`
}

// GroupTotals aggregates group-wide counts over a range.
type GroupTotals struct {
	TotalMessages int `db:"total_messages"`
	ActiveUsers   int `db:"active_users"`
	MediaCount    int `db:"media_count"`
}
