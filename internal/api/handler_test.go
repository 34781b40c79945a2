package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"schoolbus-tracking-backend/config"
	appdb "schoolbus-tracking-backend/internal/db"
	"schoolbus-tracking-backend/internal/fleet"
	"schoolbus-tracking-backend/internal/live"
	"schoolbus-tracking-backend/internal/model"
	"schoolbus-tracking-backend/internal/refdata"
	"schoolbus-tracking-backend/internal/routes"
	"schoolbus-tracking-backend/internal/trip"
	"schoolbus-tracking-backend/internal/zone"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, appdb.Migrate(db))

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Zones = config.DefaultZones()

	ref := refdata.NewProvider(db)
	liveStore := live.NewStore(cfg.Tracking, db, ref, nil)
	engine := trip.NewEngine(db, routes.NewGormProvider(db), ref, liveStore, nil)
	liveStore.SetTripContext(engine)
	zones := zone.NewClassifier(cfg.Zones)
	aggregator := fleet.NewAggregator(liveStore, ref, zones)

	h := NewHandler(cfg, db, liveStore, engine, aggregator, zones,
		&webpush.Options{TTL: 30, VAPIDPublicKey: "test-public-key"})
	return NewRouter(h), db
}

func seedBusAndRoute(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&model.Driver{ID: "D1", Name: "Konan Yao"}).Error)
	require.NoError(t, db.Create(&model.Route{
		ID: "R1", Name: "Yopougon - École",
		SchoolLat: 5.3473, SchoolLng: -3.9875,
		TerminusLat: 5.3365, TerminusLng: -4.0872,
		PlannedDurationMinutes: 45,
	}).Error)
	driverID, routeID := "D1", "R1"
	require.NoError(t, db.Create(&model.Bus{
		ID: "B1", BusNumber: 1, PlateNumber: "1234 AB 01", Capacity: 30,
		DriverID: &driverID, RouteID: &routeID,
	}).Error)
	busID := "B1"
	require.NoError(t, db.Create(&model.Student{ID: "S1", FirstName: "Awa", LastName: "Koné", BusID: &busID, Active: true}).Error)
	require.NoError(t, db.Create(&model.RouteStop{
		RouteID: "R1", TripType: "morning_outbound", StudentID: "S1", StopOrder: 1, Lat: 5.33, Lng: -4.08,
	}).Error)
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func positionBody(lat, lng, speed float64) gin.H {
	return gin.H{
		"lat": lat, "lng": lng, "speedKmh": speed,
		"capturedAtEpochMs": time.Now().UTC().UnixMilli(),
	}
}

func TestPostPosition(t *testing.T) {
	r, db := newTestServer(t)
	seedBusAndRoute(t, db)

	t.Run("accepts a valid report", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/buses/B1/position", positionBody(5.34, -4.02, 32))
		require.Equal(t, http.StatusOK, w.Code)

		var rec live.Record
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
		assert.Equal(t, "B1", rec.BusID)
		assert.Equal(t, live.StatusEnRoute, rec.Status)
		assert.Equal(t, "D1", rec.DriverID)
	})

	t.Run("rejects out-of-range coordinates", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/buses/B1/position", positionBody(95.0, -4.02, 32))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/buses/B1/position", gin.H{"lat": 5.34})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown bus is 404", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/buses/ghost/position", positionBody(5.34, -4.02, 32))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetPosition(t *testing.T) {
	r, db := newTestServer(t)
	seedBusAndRoute(t, db)

	w := doJSON(r, http.MethodGet, "/api/buses/B1/position", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, doJSON(r, http.MethodPost, "/api/buses/B1/position", positionBody(5.34, -4.02, 32)).Code)

	w = doJSON(r, http.MethodGet, "/api/buses/B1/position", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec live.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, 5.34, rec.Position.Lat)
}

func TestGetHistory(t *testing.T) {
	r, db := newTestServer(t)
	seedBusAndRoute(t, db)
	require.Equal(t, http.StatusOK, doJSON(r, http.MethodPost, "/api/buses/B1/position", positionBody(5.34, -4.02, 32)).Code)

	t.Run("requires a valid date", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/buses/B1/history", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = doJSON(r, http.MethodGet, "/api/buses/B1/history?date=28-08-2026", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns the day's reports", func(t *testing.T) {
		today := time.Now().UTC().Format("2006-01-02")
		w := doJSON(r, http.MethodGet, "/api/buses/B1/history?date="+today, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var rows []model.PositionHistory
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
		assert.Len(t, rows, 1)
	})
}

func TestGetETA(t *testing.T) {
	r, db := newTestServer(t)
	seedBusAndRoute(t, db)
	require.Equal(t, http.StatusOK, doJSON(r, http.MethodPost, "/api/buses/B1/position", positionBody(5.34, -4.02, 30)).Code)

	w := doJSON(r, http.MethodGet, "/api/buses/B1/eta?lat=5.3473&lng=-3.9875", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		BusID      string  `json:"busId"`
		DistanceKm float64 `json:"distanceKm"`
		EtaMinutes float64 `json:"etaMinutes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "B1", body.BusID)
	assert.Greater(t, body.DistanceKm, 0.0)
	assert.Greater(t, body.EtaMinutes, 0.0)

	w = doJSON(r, http.MethodGet, "/api/buses/B1/eta?lat=123", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTripLifecycleOverHTTP(t *testing.T) {
	r, db := newTestServer(t)
	seedBusAndRoute(t, db)
	today := time.Now().UTC().Format("2006-01-02")

	start := gin.H{"routeId": "R1", "tripType": "morning_outbound"}

	w := doJSON(r, http.MethodPost, "/api/buses/B1/trip/start", start)
	require.Equal(t, http.StatusCreated, w.Code)
	var state trip.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, 1, state.TotalStudentCount)

	t.Run("double start conflicts", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/buses/B1/trip/start", start)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("bad trip type", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/buses/B1/trip/start", gin.H{"routeId": "R1", "tripType": "nope"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("next student before any scan", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/buses/B1/next-student", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"S1"`)
	})

	scanBody := gin.H{"studentId": "S1", "busId": "B1", "date": today, "type": "boarding", "driverId": "D1"}
	w = doJSON(r, http.MethodPost, "/api/attendance/scan", scanBody)
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("scan type is validated at the edge", func(t *testing.T) {
		bad := gin.H{"studentId": "S1", "busId": "B1", "date": today, "type": "teleporting", "driverId": "D1"}
		w := doJSON(r, http.MethodPost, "/api/attendance/scan", bad)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown student is 404", func(t *testing.T) {
		bad := gin.H{"studentId": "ghost", "busId": "B1", "date": today, "type": "boarding", "driverId": "D1"}
		w := doJSON(r, http.MethodPost, "/api/attendance/scan", bad)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("off-roster student is 422", func(t *testing.T) {
		require.NoError(t, db.Create(&model.Student{ID: "S9", FirstName: "Out", LastName: "Sider", Active: true}).Error)
		bad := gin.H{"studentId": "S9", "busId": "B1", "date": today, "type": "boarding", "driverId": "D1"}
		w := doJSON(r, http.MethodPost, "/api/attendance/scan", bad)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("trip snapshot reflects the scan", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/buses/B1/trip", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var state trip.State
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
		assert.Equal(t, []string{"S1"}, state.ScannedStudentIDs)
	})

	t.Run("all scanned means next is null", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/buses/B1/next-student", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"next":null}`, w.Body.String())
	})

	t.Run("unscan reverses", func(t *testing.T) {
		body := gin.H{"studentId": "S1", "busId": "B1", "date": today, "driverId": "D1"}
		w := doJSON(r, http.MethodPost, "/api/attendance/unscan", body)
		require.Equal(t, http.StatusOK, w.Code)
		var rec model.AttendanceRecord
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
		assert.True(t, rec.Reversed)

		w = doJSON(r, http.MethodPost, "/api/attendance/unscan", body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("attendance query requires date", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/buses/B1/attendance", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = doJSON(r, http.MethodGet, "/api/buses/B1/attendance?date="+today, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	w = doJSON(r, http.MethodPost, "/api/buses/B1/trip/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("stop without a trip conflicts", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/buses/B1/trip/stop", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestRealtimeEndpoints(t *testing.T) {
	r, db := newTestServer(t)
	seedBusAndRoute(t, db)
	require.Equal(t, http.StatusOK, doJSON(r, http.MethodPost, "/api/buses/B1/position", positionBody(5.3473, -3.9875, 25)).Code)

	t.Run("fleet view", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/realtime/buses", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var buses []fleet.BusRealtimeData
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &buses))
		require.Len(t, buses, 1)
		require.NotNil(t, buses[0].CurrentZone)
		assert.Equal(t, "Cocody", *buses[0].CurrentZone)
	})

	t.Run("single bus", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/realtime/buses/B1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		w = doJSON(r, http.MethodGet, "/api/realtime/buses/ghost", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("statistics", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/realtime/statistics", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var stats fleet.Statistics
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		assert.Equal(t, 1, stats.Total)
		assert.Equal(t, 1, stats.EnRoute)
	})

	t.Run("zone lookup", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/realtime/zone?lat=5.3473&lng=-3.9875", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"zone":"Cocody"}`, w.Body.String())

		w = doJSON(r, http.MethodGet, "/api/realtime/zone?lat=14.69&lng=-17.45", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"zone":null}`, w.Body.String())
	})
}

func TestSubscriptionEndpoints(t *testing.T) {
	r, db := newTestServer(t)
	seedBusAndRoute(t, db)

	put := gin.H{
		"endpoint":            "https://push.example/abc",
		"p256dh":              "key",
		"auth":                "secret",
		"subscribed_students": []string{"S1"},
	}

	w := doJSON(r, http.MethodPut, "/api/subscriptions", put)
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("get returns followed students", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/subscriptions?endpoint=https://push.example/abc", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"subscribed_students":["S1"]}`, w.Body.String())
	})

	t.Run("put is an upsert", func(t *testing.T) {
		put["subscribed_students"] = []string{}
		w := doJSON(r, http.MethodPut, "/api/subscriptions", put)
		require.Equal(t, http.StatusCreated, w.Code)

		var count int64
		db.Model(&model.PushSubscription{}).Count(&count)
		assert.Equal(t, int64(1), count)

		w = doJSON(r, http.MethodGet, "/api/subscriptions?endpoint=https://push.example/abc", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"subscribed_students":[]}`, w.Body.String())
	})

	t.Run("delete removes the subscription", func(t *testing.T) {
		w := doJSON(r, http.MethodDelete, "/api/subscriptions", gin.H{"endpoint": "https://push.example/abc"})
		require.Equal(t, http.StatusNoContent, w.Code)
		w = doJSON(r, http.MethodGet, "/api/subscriptions?endpoint=https://push.example/abc", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("vapid public key", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/vapid_public_key", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"public_key":"test-public-key"}`, w.Body.String())
	})
}
