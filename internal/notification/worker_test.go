package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"schoolbus-tracking-backend/internal/model"
)

type fakeSender struct {
	mu         sync.Mutex
	statusCode int
	sent       []sentPush
}

type sentPush struct {
	endpoint string
	payload  []byte
}

func (f *fakeSender) Send(payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPush{endpoint: sub.Endpoint, payload: payload})
	code := f.statusCode
	if code == 0 {
		code = http.StatusCreated
	}
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (f *fakeSender) endpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.endpoint)
	}
	return out
}

func newTestPool(t *testing.T) (*WorkerPool, *fakeSender, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Student{}, &model.PushSubscription{}))

	pool := NewWorkerPool(2, db, &webpush.Options{TTL: 30})
	sender := &fakeSender{}
	pool.SetSender(sender)
	return pool, sender, db
}

func seedSubscription(t *testing.T, db *gorm.DB, endpoint string, students ...*model.Student) {
	t.Helper()
	sub := model.PushSubscription{
		Endpoint: endpoint,
		P256DH:   "p256dh-key",
		Auth:     "auth-secret",
		Students: students,
	}
	require.NoError(t, db.Create(&sub).Error)
}

func TestDeliverToStudentSubscribers(t *testing.T) {
	pool, sender, db := newTestPool(t)
	busID := "B1"
	s1 := &model.Student{ID: "S1", FirstName: "Awa", LastName: "Koné", BusID: &busID, Active: true}
	s2 := &model.Student{ID: "S2", FirstName: "Issa", LastName: "Traoré", BusID: &busID, Active: true}
	require.NoError(t, db.Create(s1).Error)
	require.NoError(t, db.Create(s2).Error)
	seedSubscription(t, db, "https://push.example/one", s1)
	seedSubscription(t, db, "https://push.example/two", s2)

	pool.deliver(context.Background(), Event{
		Kind:      KindStudentBoarded,
		BusID:     "B1",
		StudentID: "S1",
		Title:     "Attendance update",
		Message:   "Awa Koné boarded bus B1",
	})

	require.Len(t, sender.endpoints(), 1)
	assert.Equal(t, "https://push.example/one", sender.endpoints()[0])

	var evt Event
	require.NoError(t, json.Unmarshal(sender.sent[0].payload, &evt))
	assert.Equal(t, KindStudentBoarded, evt.Kind)
	assert.Equal(t, "Awa Koné boarded bus B1", evt.Message)
}

func TestDeliverBusEventFansOut(t *testing.T) {
	pool, sender, db := newTestPool(t)
	busID := "B1"
	otherBus := "B2"
	s1 := &model.Student{ID: "S1", FirstName: "Awa", LastName: "Koné", BusID: &busID, Active: true}
	s2 := &model.Student{ID: "S2", FirstName: "Issa", LastName: "Traoré", BusID: &busID, Active: true}
	s3 := &model.Student{ID: "S3", FirstName: "Fatou", LastName: "Diabaté", BusID: &otherBus, Active: true}
	require.NoError(t, db.Create(s1).Error)
	require.NoError(t, db.Create(s2).Error)
	require.NoError(t, db.Create(s3).Error)
	// One parent subscribed to both students of B1: fans out once, not twice.
	seedSubscription(t, db, "https://push.example/parent", s1, s2)
	seedSubscription(t, db, "https://push.example/other-bus", s3)

	pool.deliver(context.Background(), Event{
		Kind:    KindArrivalAtSchool,
		BusID:   "B1",
		Title:   "Bus arrived",
		Message: "Bus B1 has arrived",
	})

	endpoints := sender.endpoints()
	require.Len(t, endpoints, 1)
	assert.Equal(t, "https://push.example/parent", endpoints[0])
}

func TestExpiredSubscriptionIsDeleted(t *testing.T) {
	pool, sender, db := newTestPool(t)
	sender.statusCode = http.StatusGone
	busID := "B1"
	s1 := &model.Student{ID: "S1", FirstName: "Awa", LastName: "Koné", BusID: &busID, Active: true}
	require.NoError(t, db.Create(s1).Error)
	seedSubscription(t, db, "https://push.example/stale", s1)

	pool.deliver(context.Background(), Event{Kind: KindDelayDetected, BusID: "B1"})

	require.Len(t, sender.endpoints(), 1)
	var count int64
	db.Model(&model.PushSubscription{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestDispatchThroughWorkers(t *testing.T) {
	pool, sender, db := newTestPool(t)
	busID := "B1"
	s1 := &model.Student{ID: "S1", FirstName: "Awa", LastName: "Koné", BusID: &busID, Active: true}
	require.NoError(t, db.Create(s1).Error)
	seedSubscription(t, db, "https://push.example/one", s1)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	pool.Dispatch(Event{Kind: KindStudentBoarded, BusID: "B1", StudentID: "S1"})

	assert.Eventually(t, func() bool {
		return len(sender.endpoints()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	pool.Wait()
}

func TestDispatchNeverBlocks(t *testing.T) {
	pool, _, _ := newTestPool(t)
	// Workers never started: the queue fills, then further events drop.
	for i := 0; i < cap(pool.Jobs())+10; i++ {
		pool.Dispatch(Event{Kind: KindStudentBoarded, BusID: "B1"})
	}
	assert.Equal(t, cap(pool.Jobs()), len(pool.Jobs()))
}
