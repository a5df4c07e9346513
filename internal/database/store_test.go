package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpulse/chatpulse/internal/database"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, nil)
}

func seedMessages(t *testing.T, store database.Store, batch []database.NewMessage) {
	t.Helper()
	require.NoError(t, store.SaveMessageBatch(context.Background(), batch))
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 6, day, hour, minute, 0, 0, time.UTC)
}

func TestGetUser(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetUser(ctx, "+2348012345678")
	assert.ErrorIs(t, err, database.ErrNotFound)

	created, err := store.GetOrCreateUser(ctx, "+2348012345678")
	require.NoError(t, err)
	assert.Equal(t, "+2348012345678", created.PhoneNumber)
	assert.False(t, created.JoinedAt.IsZero())

	again, err := store.GetOrCreateUser(ctx, "+2348012345678")
	require.NoError(t, err)
	assert.Equal(t, created.PhoneNumber, again.PhoneNumber)
}

func TestTouchUserActivity(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	err := store.TouchUserActivity(ctx, "+2348012345678")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = store.GetOrCreateUser(ctx, "+2348012345678")
	require.NoError(t, err)
	assert.NoError(t, store.TouchUserActivity(ctx, "+2348012345678"))
}

func TestSaveMessageBatch(t *testing.T) {
	t.Parallel()

	t.Run("creates senders and messages", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		ctx := context.Background()

		seedMessages(t, store, []database.NewMessage{
			{SenderPhone: "+2348011111111", Content: "hello", Timestamp: at(10, 9, 0), MessageType: database.MessageTypeText},
			{SenderPhone: "+2348022222222", Content: "<Media omitted>", Timestamp: at(10, 9, 5), MessageType: database.MessageTypeImage},
		})

		user, err := store.GetUser(ctx, "+2348011111111")
		require.NoError(t, err)
		assert.Equal(t, "+2348011111111", user.PhoneNumber)

		counts, err := store.UserMessageCounts(ctx, "+2348011111111", at(1, 0, 0), at(30, 0, 0))
		require.NoError(t, err)
		assert.Equal(t, database.MessageCounts{Total: 1, Media: 0}, counts)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		assert.NoError(t, store.SaveMessageBatch(context.Background(), nil))
	})

	t.Run("invalid record rolls back the whole batch", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t)
		ctx := context.Background()

		err := store.SaveMessageBatch(ctx, []database.NewMessage{
			{SenderPhone: "+2348011111111", Content: "first", Timestamp: at(10, 9, 0), MessageType: database.MessageTypeText},
			{SenderPhone: "", Content: "orphan", Timestamp: at(10, 9, 1), MessageType: database.MessageTypeText},
		})
		require.Error(t, err)

		totals, err := store.GroupTotals(ctx, at(1, 0, 0), at(30, 0, 0))
		require.NoError(t, err)
		assert.Zero(t, totals.TotalMessages)
	})
}

func TestUserAggregates(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	phone := "+2348011111111"

	seedMessages(t, store, []database.NewMessage{
		{SenderPhone: phone, Content: "good morning", Timestamp: at(10, 9, 0), MessageType: database.MessageTypeText},
		{SenderPhone: phone, Content: "ok", Timestamp: at(10, 9, 30), MessageType: database.MessageTypeText},
		{SenderPhone: phone, Content: "<Media omitted>", Timestamp: at(11, 20, 0), MessageType: database.MessageTypeVideo},
		{SenderPhone: "+2348022222222", Content: "not yours", Timestamp: at(10, 10, 0), MessageType: database.MessageTypeText},
	})

	start, end := at(1, 0, 0), at(30, 23, 59)

	counts, err := store.UserMessageCounts(ctx, phone, start, end)
	require.NoError(t, err)
	assert.Equal(t, database.MessageCounts{Total: 3, Media: 1}, counts)

	days, err := store.UserActiveDays(ctx, phone, start, end)
	require.NoError(t, err)
	assert.Equal(t, 2, days)

	stats, err := store.UserTextLengthStats(ctx, phone, start, end)
	require.NoError(t, err)
	require.True(t, stats.AvgLength.Valid)
	assert.InDelta(t, 7.0, stats.AvgLength.Float64, 0.001) // (12+2)/2
	require.True(t, stats.TotalChars.Valid)
	assert.EqualValues(t, 14, stats.TotalChars.Int64)

	timestamps, err := store.UserMessageTimestamps(ctx, phone, start, end)
	require.NoError(t, err)
	require.Len(t, timestamps, 3)
	assert.True(t, timestamps[0].Before(timestamps[1]))

	daily, err := store.UserDailyActivity(ctx, phone, start, end)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, "2024-06-10", daily[0].Date)
	assert.Equal(t, 2, daily[0].MessageCount)
	assert.True(t, daily[0].AvgLength.Valid)
	assert.Equal(t, "2024-06-11", daily[1].Date)
	assert.Equal(t, 1, daily[1].MediaCount)
	assert.False(t, daily[1].AvgLength.Valid, "media-only day has no text average")
}

func TestAggregatesKeepReferenceWallClock(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	phone := "+2348011111111"
	lagos := time.FixedZone("WAT", 60*60)

	// 00:30 Lagos time is 23:30 UTC the previous day. Bucketing must follow
	// the wall clock the message was parsed in, not the UTC instant.
	seedMessages(t, store, []database.NewMessage{
		{SenderPhone: phone, Content: "up late", Timestamp: time.Date(2024, 6, 10, 0, 30, 0, 0, lagos), MessageType: database.MessageTypeText},
	})

	start := time.Date(2024, 6, 10, 0, 0, 0, 0, lagos)
	end := time.Date(2024, 6, 10, 23, 59, 59, 0, lagos)

	days, err := store.UserActiveDays(ctx, phone, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, days)

	daily, err := store.UserDailyActivity(ctx, phone, start, end)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "2024-06-10", daily[0].Date)

	hours, err := store.HourlyDistribution(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, hours, 1)
	assert.Equal(t, database.HourBucket{Hour: 0, Count: 1}, hours[0])

	timestamps, err := store.UserMessageTimestamps(ctx, phone, start, end)
	require.NoError(t, err)
	require.Len(t, timestamps, 1)
	assert.Equal(t, "2024-06-10 00:30:00", timestamps[0].Format("2006-01-02 15:04:05"))
}

func TestUserTextLengthStatsEmpty(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	stats, err := store.UserTextLengthStats(context.Background(), "+2348011111111", at(1, 0, 0), at(30, 0, 0))
	require.NoError(t, err)
	assert.False(t, stats.AvgLength.Valid)
	assert.False(t, stats.TotalChars.Valid)
}

func TestGroupAggregates(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	seedMessages(t, store, []database.NewMessage{
		{SenderPhone: "+2348011111111", Content: "a", Timestamp: at(10, 9, 0), MessageType: database.MessageTypeText},
		{SenderPhone: "+2348011111111", Content: "b", Timestamp: at(10, 9, 10), MessageType: database.MessageTypeText},
		{SenderPhone: "+2348022222222", Content: "<Media omitted>", Timestamp: at(10, 14, 0), MessageType: database.MessageTypeImage},
		{SenderPhone: "+2348033333333", Content: "c", Timestamp: at(11, 9, 0), MessageType: database.MessageTypeText},
	})

	start, end := at(1, 0, 0), at(30, 23, 59)

	totals, err := store.GroupTotals(ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, database.GroupTotals{TotalMessages: 4, ActiveUsers: 3, MediaCount: 1}, totals)

	daily, err := store.GroupDailyActivity(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, database.DailyGroupActivity{Date: "2024-06-10", Count: 3, ActiveUsers: 2}, daily[0])

	hours, err := store.HourlyDistribution(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, hours, 2)
	assert.Equal(t, database.HourBucket{Hour: 9, Count: 3}, hours[0])
	assert.Equal(t, database.HourBucket{Hour: 14, Count: 1}, hours[1])

	// 2024-06-10 is a Monday, 2024-06-11 a Tuesday.
	weekdays, err := store.WeekdayDistribution(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, weekdays, 2)
	assert.Equal(t, database.WeekdayBucket{Day: 1, Count: 3}, weekdays[0])
	assert.Equal(t, database.WeekdayBucket{Day: 2, Count: 1}, weekdays[1])
}

func TestTopSenders(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	batch := []database.NewMessage{
		{SenderPhone: "+2348033333333", Content: "x", Timestamp: at(10, 9, 0), MessageType: database.MessageTypeText},
		{SenderPhone: "+2348011111111", Content: "x", Timestamp: at(10, 9, 1), MessageType: database.MessageTypeText},
		{SenderPhone: "+2348011111111", Content: "x", Timestamp: at(10, 9, 2), MessageType: database.MessageTypeText},
		{SenderPhone: "+2348022222222", Content: "x", Timestamp: at(10, 9, 3), MessageType: database.MessageTypeText},
		{SenderPhone: "+2348022222222", Content: "x", Timestamp: at(10, 9, 4), MessageType: database.MessageTypeText},
	}
	seedMessages(t, store, batch)

	top, err := store.TopSenders(ctx, at(1, 0, 0), at(30, 0, 0), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)

	// Ties break toward the lexicographically smaller phone number.
	assert.Equal(t, database.SenderCount{PhoneNumber: "+2348011111111", MessageCount: 2}, top[0])
	assert.Equal(t, database.SenderCount{PhoneNumber: "+2348022222222", MessageCount: 2}, top[1])
}

func TestUserStatisticsCache(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreateUser(ctx, "+2348011111111")
	require.NoError(t, err)

	_, err = store.GetUserStatistics(ctx, "+2348011111111")
	assert.ErrorIs(t, err, database.ErrNotFound)

	stats := &database.UserStatistics{
		UserPhone:        "+2348011111111",
		TotalMessages:    42,
		MediaMessages:    5,
		ActiveDays:       7,
		AvgMessageLength: 13.37,
		PeakActivityHour: sql.NullInt64{Int64: 21, Valid: true},
		LastCalculated:   time.Now().UTC(),
	}
	require.NoError(t, store.UpsertUserStatistics(ctx, stats))

	got, err := store.GetUserStatistics(ctx, "+2348011111111")
	require.NoError(t, err)
	assert.Equal(t, 42, got.TotalMessages)
	assert.EqualValues(t, 21, got.PeakActivityHour.Int64)

	stats.TotalMessages = 43
	require.NoError(t, store.UpsertUserStatistics(ctx, stats))

	got, err = store.GetUserStatistics(ctx, "+2348011111111")
	require.NoError(t, err)
	assert.Equal(t, 43, got.TotalMessages)
}

func TestGroupStatisticsCache(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetGroupStatistics(ctx, "2024-06-14")
	assert.ErrorIs(t, err, database.ErrNotFound)

	stats := &database.GroupStatistics{
		Date:          "2024-06-14",
		TotalMessages: 100,
		ActiveUsers:   12,
		MediaCount:    9,
	}
	require.NoError(t, store.UpsertGroupStatistics(ctx, stats))

	got, err := store.GetGroupStatistics(ctx, "2024-06-14")
	require.NoError(t, err)
	assert.Equal(t, 100, got.TotalMessages)
	assert.False(t, got.PeakHour.Valid)

	stats.PeakHour = sql.NullInt64{Int64: 20, Valid: true}
	require.NoError(t, store.UpsertGroupStatistics(ctx, stats))

	got, err = store.GetGroupStatistics(ctx, "2024-06-14")
	require.NoError(t, err)
	assert.EqualValues(t, 20, got.PeakHour.Int64)
}
