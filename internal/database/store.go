package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetUser retrieves a user by phone number. Returns ErrNotFound if absent.
	GetUser(ctx context.Context, phoneNumber string) (*User, error)

	// GetOrCreateUser retrieves a user by phone number, creating the row
	// first when it does not exist.
	GetOrCreateUser(ctx context.Context, phoneNumber string) (*User, error)

	// TouchUserActivity updates a user's last-active timestamp.
	TouchUserActivity(ctx context.Context, phoneNumber string) error

	// SaveMessageBatch persists a batch of parsed messages as a single
	// transaction, creating missing sender rows along the way. Either the
	// whole batch commits or none of it does.
	SaveMessageBatch(ctx context.Context, batch []NewMessage) error

	// UserMessageCounts returns total and media message counts for one
	// sender within [start, end].
	UserMessageCounts(ctx context.Context, phoneNumber string, start, end time.Time) (MessageCounts, error)

	// UserActiveDays counts the distinct calendar dates on which the sender
	// posted at least one message within [start, end].
	UserActiveDays(ctx context.Context, phoneNumber string, start, end time.Time) (int, error)

	// UserTextLengthStats aggregates content length over the sender's text
	// messages within [start, end].
	UserTextLengthStats(ctx context.Context, phoneNumber string, start, end time.Time) (TextLengthStats, error)

	// UserMessageTimestamps returns the sender's message timestamps within
	// [start, end], ordered ascending.
	UserMessageTimestamps(ctx context.Context, phoneNumber string, start, end time.Time) ([]time.Time, error)

	// UserDailyActivity returns per-day activity rows for one sender within
	// [start, end], ordered by date ascending.
	UserDailyActivity(ctx context.Context, phoneNumber string, start, end time.Time) ([]DailyUserActivity, error)

	// GroupTotals aggregates group-wide counts within [start, end].
	GroupTotals(ctx context.Context, start, end time.Time) (GroupTotals, error)

	// GroupDailyActivity returns per-day group activity within [start, end],
	// ordered by date ascending.
	GroupDailyActivity(ctx context.Context, start, end time.Time) ([]DailyGroupActivity, error)

	// TopSenders returns the most active senders within [start, end],
	// ordered by message count descending, capped at limit.
	TopSenders(ctx context.Context, start, end time.Time, limit int) ([]SenderCount, error)

	// HourlyDistribution buckets messages within [start, end] by hour of
	// day, ordered by hour ascending. Hours without messages are omitted.
	HourlyDistribution(ctx context.Context, start, end time.Time) ([]HourBucket, error)

	// WeekdayDistribution buckets messages within [start, end] by day of
	// week (0 = Sunday), ordered ascending. Days without messages are omitted.
	WeekdayDistribution(ctx context.Context, start, end time.Time) ([]WeekdayBucket, error)

	// UpsertUserStatistics creates or overwrites the cached statistics row
	// for one user.
	UpsertUserStatistics(ctx context.Context, stats *UserStatistics) error

	// GetUserStatistics retrieves the cached statistics row for one user.
	// Returns ErrNotFound if the row was never computed.
	GetUserStatistics(ctx context.Context, phoneNumber string) (*UserStatistics, error)

	// UpsertGroupStatistics creates or overwrites the cached group row for
	// its date.
	UpsertGroupStatistics(ctx context.Context, stats *GroupStatistics) error

	// GetGroupStatistics retrieves the cached group row for a date
	// (YYYY-MM-DD). Returns ErrNotFound if the row was never computed.
	GetGroupStatistics(ctx context.Context, date string) (*GroupStatistics, error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// sqliteTimeLayout is the wall-clock text format timestamps are stored
// in. Values are written without a UTC offset, keeping the wall clock of
// the reference timezone they were parsed in, so SQLite's date() and
// strftime() bucket by that calendar day and hour instead of normalizing
// to UTC. Timestamps are therefore always bound as formatted strings,
// never as time.Time, which the driver would serialize with an offset.
const sqliteTimeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.Format(sqliteTimeLayout)
}

// parseStoredTime reads a stored timestamp back. The location is fixed
// to UTC; values carry the stored wall clock and are only ever compared
// against each other.
func parseStoredTime(value string) (time.Time, error) {
	return time.ParseInLocation(sqliteTimeLayout, value, time.UTC)
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetUser(ctx context.Context, phoneNumber string) (*User, error) {
	if phoneNumber == "" {
		return nil, fmt.Errorf("phone number cannot be empty")
	}

	var user User
	query := `SELECT phone_number, display_name, joined_at, last_active
	          FROM users WHERE phone_number = ?`

	err := s.db.GetContext(ctx, &user, query, phoneNumber)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("user %s: %w", phoneNumber, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user", "phone_number", phoneNumber, "error", err)
		return nil, fmt.Errorf("failed to get user %s: %w", phoneNumber, err)
	}
	return &user, nil
}

func (s *sqlxStore) GetOrCreateUser(ctx context.Context, phoneNumber string) (*User, error) {
	user, err := s.GetUser(ctx, phoneNumber)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := formatTime(time.Now().UTC())
	query := `INSERT INTO users (phone_number, display_name, joined_at, last_active)
	          VALUES (?, '', ?, ?)
	          ON CONFLICT (phone_number) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, phoneNumber, now, now); err != nil {
		s.logger.ErrorContext(ctx, "Error creating user", "phone_number", phoneNumber, "error", err)
		return nil, fmt.Errorf("failed to create user %s: %w", phoneNumber, err)
	}

	// Re-read to pick up the row a concurrent writer may have inserted first.
	return s.GetUser(ctx, phoneNumber)
}

func (s *sqlxStore) TouchUserActivity(ctx context.Context, phoneNumber string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_active = ? WHERE phone_number = ?`,
		formatTime(time.Now().UTC()), phoneNumber)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating user activity", "phone_number", phoneNumber, "error", err)
		return fmt.Errorf("failed to update activity for user %s: %w", phoneNumber, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("user %s: %w", phoneNumber, ErrNotFound)
	}
	return nil
}

// SaveMessageBatch persists a batch of parsed messages in one transaction.
func (s *sqlxStore) SaveMessageBatch(ctx context.Context, batch []NewMessage) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for message batch", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	now := formatTime(time.Now().UTC())
	userQuery := `INSERT INTO users (phone_number, display_name, joined_at, last_active)
	              VALUES (?, '', ?, ?)
	              ON CONFLICT (phone_number) DO NOTHING`
	messageQuery := `INSERT INTO messages (id, sender_phone, content, timestamp, message_type, created_at)
	                 VALUES (?, ?, ?, ?, ?, ?)`

	for i := range batch {
		record := &batch[i]
		if record.SenderPhone == "" {
			return fmt.Errorf("message %d in batch has no sender", i)
		}
		if record.Timestamp.IsZero() {
			return fmt.Errorf("message %d in batch has a zero timestamp", i)
		}

		if _, err := tx.ExecContext(ctx, userQuery, record.SenderPhone, now, now); err != nil {
			s.logger.ErrorContext(ctx, "Error creating sender in batch", "phone_number", record.SenderPhone, "error", err)
			return fmt.Errorf("failed to create sender %s: %w", record.SenderPhone, err)
		}

		if _, err := tx.ExecContext(ctx, messageQuery,
			uuid.NewString(), record.SenderPhone, record.Content,
			formatTime(record.Timestamp), record.MessageType, now); err != nil {
			s.logger.ErrorContext(ctx, "Error saving message in batch", "phone_number", record.SenderPhone, "error", err)
			return fmt.Errorf("failed to save message from %s: %w", record.SenderPhone, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit message batch", "size", len(batch), "error", err)
		return fmt.Errorf("failed to commit message batch: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Message batch saved successfully", "size", len(batch))
	return nil
}

func (s *sqlxStore) UserMessageCounts(ctx context.Context, phoneNumber string, start, end time.Time) (MessageCounts, error) {
	var counts MessageCounts
	query := `SELECT COUNT(*) AS total,
	                 COALESCE(SUM(CASE WHEN message_type != 'TEXT' THEN 1 ELSE 0 END), 0) AS media
	          FROM messages
	          WHERE sender_phone = ? AND timestamp BETWEEN ? AND ?`

	if err := s.db.GetContext(ctx, &counts, query, phoneNumber, formatTime(start), formatTime(end)); err != nil {
		s.logger.ErrorContext(ctx, "Error counting user messages", "phone_number", phoneNumber, "error", err)
		return MessageCounts{}, fmt.Errorf("failed to count messages for %s: %w", phoneNumber, err)
	}
	return counts, nil
}

func (s *sqlxStore) UserActiveDays(ctx context.Context, phoneNumber string, start, end time.Time) (int, error) {
	var days int
	query := `SELECT COUNT(DISTINCT date(timestamp))
	          FROM messages
	          WHERE sender_phone = ? AND timestamp BETWEEN ? AND ?`

	if err := s.db.GetContext(ctx, &days, query, phoneNumber, formatTime(start), formatTime(end)); err != nil {
		s.logger.ErrorContext(ctx, "Error counting active days", "phone_number", phoneNumber, "error", err)
		return 0, fmt.Errorf("failed to count active days for %s: %w", phoneNumber, err)
	}
	return days, nil
}

func (s *sqlxStore) UserTextLengthStats(ctx context.Context, phoneNumber string, start, end time.Time) (TextLengthStats, error) {
	var stats TextLengthStats
	query := `SELECT AVG(LENGTH(content)) AS avg_length,
	                 SUM(LENGTH(content)) AS total_chars
	          FROM messages
	          WHERE sender_phone = ? AND message_type = 'TEXT' AND timestamp BETWEEN ? AND ?`

	if err := s.db.GetContext(ctx, &stats, query, phoneNumber, formatTime(start), formatTime(end)); err != nil {
		s.logger.ErrorContext(ctx, "Error aggregating text lengths", "phone_number", phoneNumber, "error", err)
		return TextLengthStats{}, fmt.Errorf("failed to aggregate text lengths for %s: %w", phoneNumber, err)
	}
	return stats, nil
}

func (s *sqlxStore) UserMessageTimestamps(ctx context.Context, phoneNumber string, start, end time.Time) ([]time.Time, error) {
	var raw []string
	query := `SELECT timestamp
	          FROM messages
	          WHERE sender_phone = ? AND timestamp BETWEEN ? AND ?
	          ORDER BY timestamp ASC`

	if err := s.db.SelectContext(ctx, &raw, query, phoneNumber, formatTime(start), formatTime(end)); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching message timestamps", "phone_number", phoneNumber, "error", err)
		return nil, fmt.Errorf("failed to fetch timestamps for %s: %w", phoneNumber, err)
	}

	timestamps := make([]time.Time, 0, len(raw))
	for _, value := range raw {
		ts, err := parseStoredTime(value)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored timestamp %q: %w", value, err)
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps, nil
}

func (s *sqlxStore) UserDailyActivity(ctx context.Context, phoneNumber string, start, end time.Time) ([]DailyUserActivity, error) {
	var rows []DailyUserActivity
	query := `SELECT date(timestamp) AS date,
	                 COUNT(*) AS message_count,
	                 COALESCE(SUM(CASE WHEN message_type != 'TEXT' THEN 1 ELSE 0 END), 0) AS media_count,
	                 AVG(CASE WHEN message_type = 'TEXT' THEN LENGTH(content) END) AS avg_length
	          FROM messages
	          WHERE sender_phone = ? AND timestamp BETWEEN ? AND ?
	          GROUP BY date(timestamp)
	          ORDER BY date(timestamp) ASC`

	if err := s.db.SelectContext(ctx, &rows, query, phoneNumber, formatTime(start), formatTime(end)); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching daily user activity", "phone_number", phoneNumber, "error", err)
		return nil, fmt.Errorf("failed to fetch daily activity for %s: %w", phoneNumber, err)
	}
	return rows, nil
}

func (s *sqlxStore) GroupTotals(ctx context.Context, start, end time.Time) (GroupTotals, error) {
	var totals GroupTotals
	query := `SELECT COUNT(*) AS total_messages,
	                 COUNT(DISTINCT sender_phone) AS active_users,
	                 COALESCE(SUM(CASE WHEN message_type != 'TEXT' THEN 1 ELSE 0 END), 0) AS media_count
	          FROM messages
	          WHERE timestamp BETWEEN ? AND ?`

	if err := s.db.GetContext(ctx, &totals, query, formatTime(start), formatTime(end)); err != nil {
		s.logger.ErrorContext(ctx, "Error aggregating group totals", "error", err)
		return GroupTotals{}, fmt.Errorf("failed to aggregate group totals: %w", err)
	}
	return totals, nil
}

func (s *sqlxStore) GroupDailyActivity(ctx context.Context, start, end time.Time) ([]DailyGroupActivity, error) {
	var rows []DailyGroupActivity
	query := `SELECT date(timestamp) AS date,
	                 COUNT(*) AS count,
	                 COUNT(DISTINCT sender_phone) AS active_users
	          FROM messages
	          WHERE timestamp BETWEEN ? AND ?
	          GROUP BY date(timestamp)
	          ORDER BY date(timestamp) ASC`

	if err := s.db.SelectContext(ctx, &rows, query, formatTime(start), formatTime(end)); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching daily group activity", "error", err)
		return nil, fmt.Errorf("failed to fetch daily group activity: %w", err)
	}
	return rows, nil
}

func (s *sqlxStore) TopSenders(ctx context.Context, start, end time.Time, limit int) ([]SenderCount, error) {
	if limit <= 0 {
		limit = 10
	}

	var rows []SenderCount
	query := `SELECT sender_phone AS phone_number,
	                 COUNT(*) AS message_count
	          FROM messages
	          WHERE timestamp BETWEEN ? AND ?
	          GROUP BY sender_phone
	          ORDER BY message_count DESC, sender_phone ASC
	          LIMIT ?`

	if err := s.db.SelectContext(ctx, &rows, query, formatTime(start), formatTime(end), limit); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching top senders", "error", err)
		return nil, fmt.Errorf("failed to fetch top senders: %w", err)
	}
	return rows, nil
}

func (s *sqlxStore) HourlyDistribution(ctx context.Context, start, end time.Time) ([]HourBucket, error) {
	var rows []HourBucket
	query := `SELECT CAST(strftime('%H', timestamp) AS INTEGER) AS hour,
	                 COUNT(*) AS count
	          FROM messages
	          WHERE timestamp BETWEEN ? AND ?
	          GROUP BY hour
	          ORDER BY hour ASC`

	if err := s.db.SelectContext(ctx, &rows, query, formatTime(start), formatTime(end)); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching hourly distribution", "error", err)
		return nil, fmt.Errorf("failed to fetch hourly distribution: %w", err)
	}
	return rows, nil
}

func (s *sqlxStore) WeekdayDistribution(ctx context.Context, start, end time.Time) ([]WeekdayBucket, error) {
	var rows []WeekdayBucket
	query := `SELECT CAST(strftime('%w', timestamp) AS INTEGER) AS day,
	                 COUNT(*) AS count
	          FROM messages
	          WHERE timestamp BETWEEN ? AND ?
	          GROUP BY day
	          ORDER BY day ASC`

	if err := s.db.SelectContext(ctx, &rows, query, formatTime(start), formatTime(end)); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching weekday distribution", "error", err)
		return nil, fmt.Errorf("failed to fetch weekday distribution: %w", err)
	}
	return rows, nil
}

// UpsertUserStatistics creates or overwrites the cached row for one user.
// Last write wins; the cache is never authoritative.
func (s *sqlxStore) UpsertUserStatistics(ctx context.Context, stats *UserStatistics) error {
	if stats == nil {
		return fmt.Errorf("cannot save nil user statistics")
	}
	if stats.UserPhone == "" {
		return fmt.Errorf("user statistics must reference a user")
	}

	query := `INSERT INTO user_statistics
	              (user_phone, total_messages, media_messages, active_days,
	               avg_message_length, peak_activity_hour, last_calculated)
	          VALUES (?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (user_phone) DO UPDATE SET
	              total_messages = excluded.total_messages,
	              media_messages = excluded.media_messages,
	              active_days = excluded.active_days,
	              avg_message_length = excluded.avg_message_length,
	              peak_activity_hour = excluded.peak_activity_hour,
	              last_calculated = excluded.last_calculated`

	if _, err := s.db.ExecContext(ctx, query,
		stats.UserPhone, stats.TotalMessages, stats.MediaMessages, stats.ActiveDays,
		stats.AvgMessageLength, stats.PeakActivityHour, formatTime(stats.LastCalculated)); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting user statistics", "user_phone", stats.UserPhone, "error", err)
		return fmt.Errorf("failed to upsert statistics for %s: %w", stats.UserPhone, err)
	}

	s.logger.DebugContext(ctx, "User statistics upserted", "user_phone", stats.UserPhone)
	return nil
}

func (s *sqlxStore) GetUserStatistics(ctx context.Context, phoneNumber string) (*UserStatistics, error) {
	var stats UserStatistics
	query := `SELECT user_phone, total_messages, media_messages, active_days,
	                 avg_message_length, peak_activity_hour, last_calculated
	          FROM user_statistics WHERE user_phone = ?`

	err := s.db.GetContext(ctx, &stats, query, phoneNumber)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("statistics for %s: %w", phoneNumber, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user statistics", "phone_number", phoneNumber, "error", err)
		return nil, fmt.Errorf("failed to get statistics for %s: %w", phoneNumber, err)
	}
	return &stats, nil
}

// UpsertGroupStatistics creates or overwrites the cached group row for its date.
func (s *sqlxStore) UpsertGroupStatistics(ctx context.Context, stats *GroupStatistics) error {
	if stats == nil {
		return fmt.Errorf("cannot save nil group statistics")
	}
	if stats.Date == "" {
		return fmt.Errorf("group statistics must have a date")
	}

	query := `INSERT INTO group_statistics
	              (date, total_messages, active_users, media_count, peak_hour)
	          VALUES (:date, :total_messages, :active_users, :media_count, :peak_hour)
	          ON CONFLICT (date) DO UPDATE SET
	              total_messages = excluded.total_messages,
	              active_users = excluded.active_users,
	              media_count = excluded.media_count,
	              peak_hour = excluded.peak_hour`

	if _, err := s.db.NamedExecContext(ctx, query, stats); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting group statistics", "date", stats.Date, "error", err)
		return fmt.Errorf("failed to upsert group statistics for %s: %w", stats.Date, err)
	}

	s.logger.DebugContext(ctx, "Group statistics upserted", "date", stats.Date)
	return nil
}

func (s *sqlxStore) GetGroupStatistics(ctx context.Context, date string) (*GroupStatistics, error) {
	var stats GroupStatistics
	query := `SELECT date, total_messages, active_users, media_count, peak_hour
	          FROM group_statistics WHERE date = ?`

	err := s.db.GetContext(ctx, &stats, query, date)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("group statistics for %s: %w", date, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting group statistics", "date", date, "error", err)
		return nil, fmt.Errorf("failed to get group statistics for %s: %w", date, err)
	}
	return &stats, nil
}
