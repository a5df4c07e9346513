// Package analytics computes per-user and group-wide engagement metrics
// over message history, refreshing the denormalized statistics cache as a
// side effect.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/chatpulse/chatpulse/internal/database"
)

// Trend classification results.
const (
	TrendIncreasing       = "increasing"
	TrendDecreasing       = "decreasing"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// responseGapCutoff is the largest consecutive-message gap still counted
// as a response.
const responseGapCutoff = time.Hour

// trendWindowDays is the trailing window used for the engagement trend
// embedded in user metrics, independent of the requested range.
const trendWindowDays = 30

// Range is a closed timestamp interval.
type Range struct {
	Start time.Time
	End   time.Time
}

// UserMetrics is the full per-user metrics response.
type UserMetrics struct {
	PhoneNumber            string  `json:"phone_number"`
	TotalMessages          int     `json:"total_messages"`
	MediaMessages          int     `json:"media_messages"`
	ActiveDays             int     `json:"active_days"`
	AvgMessageLength       float64 `json:"avg_message_length"`
	TotalCharacters        int     `json:"total_characters"`
	AvgResponseTimeSeconds float64 `json:"avg_response_time_seconds"`
	MessagesPerDay         float64 `json:"messages_per_day"`
	EngagementTrend        string  `json:"engagement_trend"`
}

// DailyStat is one day of a user's activity. AvgLength is null on days
// without text messages.
type DailyStat struct {
	Date         string   `json:"date"`
	MessageCount int      `json:"message_count"`
	MediaCount   int      `json:"media_count"`
	AvgLength    *float64 `json:"avg_length"`
}

// UserTrends pairs a user's daily activity with its trend classification.
type UserTrends struct {
	DailyStats []DailyStat `json:"daily_stats"`
	Trend      string      `json:"trend"`
}

// GroupDailyStat is one day of group-wide activity.
type GroupDailyStat struct {
	Date        string `json:"date"`
	Count       int    `json:"count"`
	ActiveUsers int    `json:"active_users"`
}

// TopUser pairs a sender with their message count.
type TopUser struct {
	PhoneNumber  string `json:"phone_number"`
	MessageCount int    `json:"message_count"`
}

// GroupMetrics is the group-wide metrics response.
type GroupMetrics struct {
	TotalMessages   int              `json:"total_messages"`
	ActiveUsers     int              `json:"active_users"`
	MediaCount      int              `json:"media_count"`
	MessagesPerUser float64          `json:"messages_per_user"`
	DailyStats      []GroupDailyStat `json:"daily_stats"`
	TopUsers        []TopUser        `json:"top_users"`
}

// HourStat is a message count for one hour of the day.
type HourStat struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// WeekdayStat is a message count for one day of the week (0 = Sunday).
type WeekdayStat struct {
	DayOfWeek int `json:"day_of_week"`
	Count     int `json:"count"`
}

// ActivityPatterns holds hourly and weekday message distributions.
type ActivityPatterns struct {
	HourlyDistribution []HourStat    `json:"hourly_distribution"`
	WeeklyDistribution []WeekdayStat `json:"weekly_distribution"`
}

// Service computes engagement metrics over the message store. The default
// range applies when a caller passes no explicit range; deployments set it
// through configuration.
type Service struct {
	store        database.Store
	defaultRange Range
	loc          *time.Location
	now          func() time.Time
	logger       *slog.Logger
}

// NewService creates an analytics Service. loc is the reference timezone
// used for "yesterday" in the group statistics refresh.
func NewService(store database.Store, defaultRange Range, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		defaultRange: defaultRange,
		loc:          loc,
		now:          time.Now,
		logger:       logger.With("component", "analytics"),
	}
}

// Location returns the time zone transcripts are interpreted in.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) resolveRange(r *Range) Range {
	if r == nil {
		return s.defaultRange
	}
	return *r
}

// UserMetrics computes the full metrics object for one user and refreshes
// the user's cached statistics row with the persisted subset.
func (s *Service) UserMetrics(ctx context.Context, phoneNumber string, r *Range) (*UserMetrics, error) {
	rng := s.resolveRange(r)

	counts, err := s.store.UserMessageCounts(ctx, phoneNumber, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	activeDays, err := s.store.UserActiveDays(ctx, phoneNumber, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	textStats, err := s.store.UserTextLengthStats(ctx, phoneNumber, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	timestamps, err := s.store.UserMessageTimestamps(ctx, phoneNumber, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}

	// The embedded trend always looks at the trailing 30 days, whatever
	// range the caller asked for.
	trends, err := s.UserTrends(ctx, phoneNumber, trendWindowDays)
	if err != nil {
		return nil, err
	}

	metrics := &UserMetrics{
		PhoneNumber:            phoneNumber,
		TotalMessages:          counts.Total,
		MediaMessages:          counts.Media,
		ActiveDays:             activeDays,
		AvgMessageLength:       round2(textStats.AvgLength.Float64),
		TotalCharacters:        int(textStats.TotalChars.Int64),
		AvgResponseTimeSeconds: round2(avgResponseSeconds(timestamps)),
		EngagementTrend:        trends.Trend,
	}
	if activeDays > 0 {
		metrics.MessagesPerDay = round2(float64(counts.Total) / float64(activeDays))
	}

	cached := &database.UserStatistics{
		UserPhone:        phoneNumber,
		TotalMessages:    metrics.TotalMessages,
		MediaMessages:    metrics.MediaMessages,
		ActiveDays:       metrics.ActiveDays,
		AvgMessageLength: metrics.AvgMessageLength,
		LastCalculated:   s.now().UTC(),
	}
	if err := s.store.UpsertUserStatistics(ctx, cached); err != nil {
		return nil, fmt.Errorf("failed to refresh user statistics cache: %w", err)
	}

	return metrics, nil
}

// avgResponseSeconds averages the consecutive-message gaps below the
// response cutoff. Gaps of an hour or more are not responses.
func avgResponseSeconds(timestamps []time.Time) float64 {
	var total float64
	var qualifying int
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < responseGapCutoff {
			total += gap.Seconds()
			qualifying++
		}
	}
	if qualifying == 0 {
		return 0
	}
	return total / float64(qualifying)
}

// UserTrends returns per-day activity over the trailing days window and
// its trend classification.
func (s *Service) UserTrends(ctx context.Context, phoneNumber string, days int) (*UserTrends, error) {
	end := s.now()
	start := end.AddDate(0, 0, -days)

	rows, err := s.store.UserDailyActivity(ctx, phoneNumber, start, end)
	if err != nil {
		return nil, err
	}

	daily := make([]DailyStat, 0, len(rows))
	counts := make([]int, 0, len(rows))
	for _, row := range rows {
		stat := DailyStat{
			Date:         row.Date,
			MessageCount: row.MessageCount,
			MediaCount:   row.MediaCount,
		}
		if row.AvgLength.Valid {
			v := row.AvgLength.Float64
			stat.AvgLength = &v
		}
		daily = append(daily, stat)
		counts = append(counts, row.MessageCount)
	}

	return &UserTrends{
		DailyStats: daily,
		Trend:      classifyTrend(counts),
	}, nil
}

// classifyTrend compares the mean daily count of the first seven entries
// against the last seven. With fewer than seven entries the two slices
// overlap, matching the windowing of the per-day aggregation.
func classifyTrend(dailyCounts []int) string {
	if len(dailyCounts) == 0 {
		return TrendInsufficientData
	}

	first := dailyCounts
	if len(first) > 7 {
		first = dailyCounts[:7]
	}
	last := dailyCounts
	if len(last) > 7 {
		last = dailyCounts[len(dailyCounts)-7:]
	}

	difference := mean(last) - mean(first)
	switch {
	case difference > 2:
		return TrendIncreasing
	case difference < -2:
		return TrendDecreasing
	}
	return TrendStable
}

func mean(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// GroupMetrics computes group-wide metrics over the range.
func (s *Service) GroupMetrics(ctx context.Context, r *Range) (*GroupMetrics, error) {
	rng := s.resolveRange(r)

	totals, err := s.store.GroupTotals(ctx, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	dailyRows, err := s.store.GroupDailyActivity(ctx, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	topRows, err := s.store.TopSenders(ctx, rng.Start, rng.End, 10)
	if err != nil {
		return nil, err
	}

	metrics := &GroupMetrics{
		TotalMessages: totals.TotalMessages,
		ActiveUsers:   totals.ActiveUsers,
		MediaCount:    totals.MediaCount,
		DailyStats:    make([]GroupDailyStat, 0, len(dailyRows)),
		TopUsers:      make([]TopUser, 0, len(topRows)),
	}
	if totals.ActiveUsers > 0 {
		metrics.MessagesPerUser = round2(float64(totals.TotalMessages) / float64(totals.ActiveUsers))
	}
	for _, row := range dailyRows {
		metrics.DailyStats = append(metrics.DailyStats, GroupDailyStat{
			Date:        row.Date,
			Count:       row.Count,
			ActiveUsers: row.ActiveUsers,
		})
	}
	for _, row := range topRows {
		metrics.TopUsers = append(metrics.TopUsers, TopUser{
			PhoneNumber:  row.PhoneNumber,
			MessageCount: row.MessageCount,
		})
	}
	return metrics, nil
}

// ActivityPatterns computes hourly and weekday distributions over the range.
func (s *Service) ActivityPatterns(ctx context.Context, r *Range) (*ActivityPatterns, error) {
	rng := s.resolveRange(r)

	hourly, err := s.store.HourlyDistribution(ctx, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	weekly, err := s.store.WeekdayDistribution(ctx, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}

	patterns := &ActivityPatterns{
		HourlyDistribution: make([]HourStat, 0, len(hourly)),
		WeeklyDistribution: make([]WeekdayStat, 0, len(weekly)),
	}
	for _, bucket := range hourly {
		patterns.HourlyDistribution = append(patterns.HourlyDistribution, HourStat{
			Hour:  bucket.Hour,
			Count: bucket.Count,
		})
	}
	for _, bucket := range weekly {
		patterns.WeeklyDistribution = append(patterns.WeeklyDistribution, WeekdayStat{
			DayOfWeek: bucket.Day,
			Count:     bucket.Count,
		})
	}
	return patterns, nil
}

// UpdateGroupStatistics recomputes yesterday's group-wide statistics and
// upserts the cached row. A day without messages still produces a row,
// with peak_hour null. Safe to run repeatedly for the same date.
func (s *Service) UpdateGroupStatistics(ctx context.Context) error {
	now := s.now().In(s.loc)
	yesterday := now.AddDate(0, 0, -1)
	start := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, s.loc)
	end := start.Add(24*time.Hour - time.Nanosecond)

	totals, err := s.store.GroupTotals(ctx, start, end)
	if err != nil {
		return err
	}

	stats := &database.GroupStatistics{
		Date:          start.Format("2006-01-02"),
		TotalMessages: totals.TotalMessages,
		ActiveUsers:   totals.ActiveUsers,
		MediaCount:    totals.MediaCount,
	}

	if totals.TotalMessages > 0 {
		hourly, err := s.store.HourlyDistribution(ctx, start, end)
		if err != nil {
			return err
		}
		if peak, ok := peakHour(hourly); ok {
			stats.PeakHour = sql.NullInt64{Int64: int64(peak), Valid: true}
		}
	}

	if err := s.store.UpsertGroupStatistics(ctx, stats); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Group statistics updated",
		"date", stats.Date,
		"total_messages", stats.TotalMessages,
		"active_users", stats.ActiveUsers)
	return nil
}

// peakHour picks the hour with the highest count; ties resolve to the
// earliest hour because buckets arrive ordered by hour ascending.
func peakHour(buckets []database.HourBucket) (int, bool) {
	if len(buckets) == 0 {
		return 0, false
	}
	best := buckets[0]
	for _, b := range buckets[1:] {
		if b.Count > best.Count {
			best = b
		}
	}
	return best.Hour, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
