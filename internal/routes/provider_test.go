package routes

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"schoolbus-tracking-backend/internal/model"
)

func newTestProvider(t *testing.T) (Provider, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Route{}, &model.RouteStop{}))
	return NewGormProvider(db), db
}

func TestParseTripType(t *testing.T) {
	for _, valid := range []string{"morning_outbound", "midday_outbound", "midday_return", "evening_return"} {
		tt, err := ParseTripType(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, string(tt))
	}

	_, err := ParseTripType("night_shift")
	assert.Error(t, err)
	_, err = ParseTripType("")
	assert.Error(t, err)
}

func TestTowardSchool(t *testing.T) {
	assert.True(t, TripMorningOutbound.TowardSchool())
	assert.True(t, TripMiddayReturn.TowardSchool())
	assert.False(t, TripMiddayOutbound.TowardSchool())
	assert.False(t, TripEveningReturn.TowardSchool())
}

func TestTripTypeForTime(t *testing.T) {
	cases := []struct {
		hour int
		want TripType
	}{
		{6, TripMorningOutbound},
		{9, TripMorningOutbound},
		{10, TripMiddayOutbound},
		{12, TripMiddayOutbound},
		{13, TripMiddayReturn},
		{14, TripMiddayReturn},
		{15, TripEveningReturn},
		{22, TripEveningReturn},
	}
	for _, tc := range cases {
		at := time.Date(2026, 8, 28, tc.hour, 0, 0, 0, time.UTC)
		assert.Equal(t, tc.want, TripTypeForTime(at), "hour %d", tc.hour)
	}
}

func TestRoster(t *testing.T) {
	provider, db := newTestProvider(t)
	ctx := context.Background()

	route := model.Route{
		ID: "R1", Name: "Abobo - École",
		SchoolLat: 5.3473, SchoolLng: -3.9875,
		TerminusLat: 5.4312, TerminusLng: -4.0723,
		PlannedDurationMinutes: 50,
	}
	require.NoError(t, db.Create(&route).Error)

	// Inserted out of stop order on purpose.
	for _, stop := range []model.RouteStop{
		{RouteID: "R1", TripType: "morning_outbound", StudentID: "S3", StopOrder: 3},
		{RouteID: "R1", TripType: "morning_outbound", StudentID: "S1", StopOrder: 1},
		{RouteID: "R1", TripType: "morning_outbound", StudentID: "S2", StopOrder: 2},
		{RouteID: "R1", TripType: "evening_return", StudentID: "S1", StopOrder: 1},
	} {
		require.NoError(t, db.Create(&stop).Error)
	}

	t.Run("unknown route", func(t *testing.T) {
		_, err := provider.Roster(ctx, "ghost", TripMorningOutbound)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stops come back in stop order", func(t *testing.T) {
		roster, err := provider.Roster(ctx, "R1", TripMorningOutbound)
		require.NoError(t, err)
		require.Len(t, roster.Stops, 3)
		assert.Equal(t, "S1", roster.Stops[0].StudentID)
		assert.Equal(t, "S2", roster.Stops[1].StudentID)
		assert.Equal(t, "S3", roster.Stops[2].StudentID)
		assert.Equal(t, 50*time.Minute, roster.PlannedDuration)
	})

	t.Run("toward-school trips end at the school", func(t *testing.T) {
		roster, err := provider.Roster(ctx, "R1", TripMorningOutbound)
		require.NoError(t, err)
		assert.Equal(t, 5.3473, roster.DestLat)
		assert.Equal(t, -3.9875, roster.DestLng)
	})

	t.Run("homeward trips end at the terminus", func(t *testing.T) {
		roster, err := provider.Roster(ctx, "R1", TripEveningReturn)
		require.NoError(t, err)
		assert.Equal(t, 5.4312, roster.DestLat)
		assert.Equal(t, -4.0723, roster.DestLng)
		assert.Len(t, roster.Stops, 1)
	})

	t.Run("slot without stops yields an empty roster", func(t *testing.T) {
		roster, err := provider.Roster(ctx, "R1", TripMiddayReturn)
		require.NoError(t, err)
		assert.Empty(t, roster.Stops)
	})
}
