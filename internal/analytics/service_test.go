package analytics

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpulse/chatpulse/internal/database"
)

// fakeStore serves canned aggregates and records cache upserts.
type fakeStore struct {
	database.Store

	counts     database.MessageCounts
	activeDays int
	textStats  database.TextLengthStats
	timestamps []time.Time
	daily      []database.DailyUserActivity
	totals     database.GroupTotals
	groupDaily []database.DailyGroupActivity
	topSenders []database.SenderCount
	hourly     []database.HourBucket
	weekly     []database.WeekdayBucket

	userStats  []*database.UserStatistics
	groupStats []*database.GroupStatistics
}

func (f *fakeStore) UserMessageCounts(context.Context, string, time.Time, time.Time) (database.MessageCounts, error) {
	return f.counts, nil
}

func (f *fakeStore) UserActiveDays(context.Context, string, time.Time, time.Time) (int, error) {
	return f.activeDays, nil
}

func (f *fakeStore) UserTextLengthStats(context.Context, string, time.Time, time.Time) (database.TextLengthStats, error) {
	return f.textStats, nil
}

func (f *fakeStore) UserMessageTimestamps(context.Context, string, time.Time, time.Time) ([]time.Time, error) {
	return f.timestamps, nil
}

func (f *fakeStore) UserDailyActivity(context.Context, string, time.Time, time.Time) ([]database.DailyUserActivity, error) {
	return f.daily, nil
}

func (f *fakeStore) GroupTotals(context.Context, time.Time, time.Time) (database.GroupTotals, error) {
	return f.totals, nil
}

func (f *fakeStore) GroupDailyActivity(context.Context, time.Time, time.Time) ([]database.DailyGroupActivity, error) {
	return f.groupDaily, nil
}

func (f *fakeStore) TopSenders(context.Context, time.Time, time.Time, int) ([]database.SenderCount, error) {
	return f.topSenders, nil
}

func (f *fakeStore) HourlyDistribution(context.Context, time.Time, time.Time) ([]database.HourBucket, error) {
	return f.hourly, nil
}

func (f *fakeStore) WeekdayDistribution(context.Context, time.Time, time.Time) ([]database.WeekdayBucket, error) {
	return f.weekly, nil
}

func (f *fakeStore) UpsertUserStatistics(_ context.Context, stats *database.UserStatistics) error {
	copied := *stats
	f.userStats = append(f.userStats, &copied)
	return nil
}

func (f *fakeStore) UpsertGroupStatistics(_ context.Context, stats *database.GroupStatistics) error {
	copied := *stats
	f.groupStats = append(f.groupStats, &copied)
	return nil
}

func newTestService(store *fakeStore) *Service {
	svc := NewService(store, Range{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
	}, time.UTC, nil)
	svc.now = func() time.Time {
		return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func TestClassifyTrend(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		counts   []int
		expected string
	}{
		{
			name:     "no entries",
			counts:   nil,
			expected: TrendInsufficientData,
		},
		{
			name:     "flat activity",
			counts:   []int{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5},
			expected: TrendStable,
		},
		{
			name:     "shift of exactly two stays stable",
			counts:   []int{3, 3, 3, 3, 3, 3, 3, 5, 5, 5, 5, 5, 5, 5},
			expected: TrendStable,
		},
		{
			name:     "sustained plus five",
			counts:   []int{3, 3, 3, 3, 3, 3, 3, 8, 8, 8, 8, 8, 8, 8},
			expected: TrendIncreasing,
		},
		{
			name:     "sustained drop",
			counts:   []int{10, 10, 10, 10, 10, 10, 10, 2, 2, 2, 2, 2, 2, 2},
			expected: TrendDecreasing,
		},
		{
			name:     "fewer than seven entries overlap to stable",
			counts:   []int{4, 6, 5},
			expected: TrendStable,
		},
		{
			name:     "single entry",
			counts:   []int{9},
			expected: TrendStable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, classifyTrend(tc.counts))
		})
	}
}

func TestAvgResponseSeconds(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	timestamps := []time.Time{
		base,
		base.Add(30 * time.Minute), // 1800s, counts
		base.Add(2 * time.Hour),    // 5400s gap, excluded
	}
	assert.Equal(t, 1800.0, avgResponseSeconds(timestamps))

	assert.Equal(t, 0.0, avgResponseSeconds(nil))
	assert.Equal(t, 0.0, avgResponseSeconds(timestamps[:1]))

	// A gap of exactly one hour is not a response.
	exact := []time.Time{base, base.Add(time.Hour)}
	assert.Equal(t, 0.0, avgResponseSeconds(exact))
}

func TestUserMetrics(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		counts:     database.MessageCounts{Total: 10, Media: 3},
		activeDays: 4,
		textStats: database.TextLengthStats{
			AvgLength:  sql.NullFloat64{Float64: 12.345, Valid: true},
			TotalChars: sql.NullInt64{Int64: 86, Valid: true},
		},
		timestamps: []time.Time{base, base.Add(30 * time.Minute), base.Add(2 * time.Hour)},
		daily: []database.DailyUserActivity{
			{Date: "2024-06-10", MessageCount: 5},
			{Date: "2024-06-11", MessageCount: 5},
		},
	}
	svc := newTestService(store)

	metrics, err := svc.UserMetrics(context.Background(), "+1 555 123 4567", nil)
	require.NoError(t, err)

	assert.Equal(t, 10, metrics.TotalMessages)
	assert.Equal(t, 3, metrics.MediaMessages)
	assert.Equal(t, 4, metrics.ActiveDays)
	assert.Equal(t, 12.35, metrics.AvgMessageLength)
	assert.Equal(t, 86, metrics.TotalCharacters)
	assert.Equal(t, 1800.0, metrics.AvgResponseTimeSeconds)
	assert.Equal(t, 2.5, metrics.MessagesPerDay)
	assert.Equal(t, TrendStable, metrics.EngagementTrend)

	// Only the cache subset is persisted.
	require.Len(t, store.userStats, 1)
	cached := store.userStats[0]
	assert.Equal(t, "+1 555 123 4567", cached.UserPhone)
	assert.Equal(t, 10, cached.TotalMessages)
	assert.Equal(t, 3, cached.MediaMessages)
	assert.Equal(t, 4, cached.ActiveDays)
	assert.Equal(t, 12.35, cached.AvgMessageLength)
	assert.False(t, cached.PeakActivityHour.Valid)
	assert.False(t, cached.LastCalculated.IsZero())
}

func TestUserMetricsNoActivity(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	svc := newTestService(store)

	metrics, err := svc.UserMetrics(context.Background(), "+1 555 123 4567", nil)
	require.NoError(t, err)

	assert.Zero(t, metrics.TotalMessages)
	assert.Zero(t, metrics.MessagesPerDay)
	assert.Zero(t, metrics.AvgMessageLength)
	assert.Zero(t, metrics.AvgResponseTimeSeconds)
	assert.Equal(t, TrendInsufficientData, metrics.EngagementTrend)
}

func TestUserTrendsNullAvgLength(t *testing.T) {
	t.Parallel()

	length := 7.5
	store := &fakeStore{
		daily: []database.DailyUserActivity{
			{Date: "2024-06-10", MessageCount: 2, MediaCount: 2},
			{Date: "2024-06-11", MessageCount: 3, MediaCount: 1,
				AvgLength: sql.NullFloat64{Float64: length, Valid: true}},
		},
	}
	svc := newTestService(store)

	trends, err := svc.UserTrends(context.Background(), "+1 555 123 4567", 30)
	require.NoError(t, err)
	require.Len(t, trends.DailyStats, 2)
	assert.Nil(t, trends.DailyStats[0].AvgLength)
	require.NotNil(t, trends.DailyStats[1].AvgLength)
	assert.Equal(t, length, *trends.DailyStats[1].AvgLength)
}

func TestGroupMetricsEmptyRange(t *testing.T) {
	t.Parallel()

	svc := newTestService(&fakeStore{})

	metrics, err := svc.GroupMetrics(context.Background(), nil)
	require.NoError(t, err)

	assert.Zero(t, metrics.TotalMessages)
	assert.Zero(t, metrics.ActiveUsers)
	assert.Zero(t, metrics.MessagesPerUser)
	assert.NotNil(t, metrics.DailyStats)
	assert.Empty(t, metrics.DailyStats)
	assert.NotNil(t, metrics.TopUsers)
	assert.Empty(t, metrics.TopUsers)
}

func TestGroupMetrics(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		totals: database.GroupTotals{TotalMessages: 9, ActiveUsers: 2, MediaCount: 4},
		groupDaily: []database.DailyGroupActivity{
			{Date: "2024-01-02", Count: 6, ActiveUsers: 2},
			{Date: "2024-01-03", Count: 3, ActiveUsers: 1},
		},
		topSenders: []database.SenderCount{
			{PhoneNumber: "+1 555 123 4567", MessageCount: 6},
			{PhoneNumber: "+1 555 765 4321", MessageCount: 3},
		},
	}
	svc := newTestService(store)

	metrics, err := svc.GroupMetrics(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 9, metrics.TotalMessages)
	assert.Equal(t, 4.5, metrics.MessagesPerUser)
	require.Len(t, metrics.DailyStats, 2)
	assert.Equal(t, "2024-01-02", metrics.DailyStats[0].Date)
	require.Len(t, metrics.TopUsers, 2)
	assert.Equal(t, "+1 555 123 4567", metrics.TopUsers[0].PhoneNumber)
}

func TestActivityPatterns(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		hourly: []database.HourBucket{{Hour: 9, Count: 4}, {Hour: 21, Count: 7}},
		weekly: []database.WeekdayBucket{{Day: 0, Count: 3}, {Day: 6, Count: 8}},
	}
	svc := newTestService(store)

	patterns, err := svc.ActivityPatterns(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, patterns.HourlyDistribution, 2)
	assert.Equal(t, 9, patterns.HourlyDistribution[0].Hour)
	require.Len(t, patterns.WeeklyDistribution, 2)
	assert.Equal(t, 6, patterns.WeeklyDistribution[1].DayOfWeek)
}

func TestUpdateGroupStatistics(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		totals: database.GroupTotals{TotalMessages: 12, ActiveUsers: 3, MediaCount: 2},
		hourly: []database.HourBucket{
			{Hour: 8, Count: 5},
			{Hour: 14, Count: 5},
			{Hour: 20, Count: 2},
		},
	}
	svc := newTestService(store)

	require.NoError(t, svc.UpdateGroupStatistics(context.Background()))
	require.Len(t, store.groupStats, 1)

	stats := store.groupStats[0]
	assert.Equal(t, "2024-06-14", stats.Date)
	assert.Equal(t, 12, stats.TotalMessages)
	assert.Equal(t, 3, stats.ActiveUsers)
	assert.Equal(t, 2, stats.MediaCount)
	// Tie between hours 8 and 14 resolves to the earliest hour.
	require.True(t, stats.PeakHour.Valid)
	assert.Equal(t, int64(8), stats.PeakHour.Int64)

	// Running again produces the same row, not a second one with
	// different contents.
	require.NoError(t, svc.UpdateGroupStatistics(context.Background()))
	require.Len(t, store.groupStats, 2)
	assert.Equal(t, store.groupStats[0], store.groupStats[1])
}

func TestUpdateGroupStatisticsEmptyDay(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	svc := newTestService(store)

	require.NoError(t, svc.UpdateGroupStatistics(context.Background()))
	require.Len(t, store.groupStats, 1)

	stats := store.groupStats[0]
	assert.Zero(t, stats.TotalMessages)
	assert.False(t, stats.PeakHour.Valid)
}
