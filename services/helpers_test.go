package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/table-join/config"
	"github.com/yeremiapane/table-join/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testEpoch = time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC)

// newTestDB opens a private in-memory sqlite database. One connection keeps
// concurrent transactions serialised the way a row lock would.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Table{},
		&models.JoinRequest{},
		&models.JoinSession{},
		&models.TableOccupancy{},
		&models.Notification{},
	))
	return db
}

func seedTable(t *testing.T, db *gorm.DB, id uint, merchantID string) models.Table {
	t.Helper()
	table := models.Table{ID: id, MerchantID: merchantID, TableNumber: fmt.Sprintf("T%d", id), Status: "available"}
	require.NoError(t, db.Create(&table).Error)
	return table
}

func testJoinConfig() config.JoinConfig {
	cfg := config.DefaultJoinConfig()
	cfg.CodeRetries = 0
	return cfg
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []JoinEvent
}

func (r *recordingNotifier) Notify(_ context.Context, ev JoinEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) types() []JoinEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JoinEventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// cycleReader feeds crypto/rand.Int a fixed byte sequence so generated codes
// are predictable.
type cycleReader struct {
	mu  sync.Mutex
	seq []byte
	pos int
}

func (r *cycleReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range p {
		p[i] = r.seq[r.pos%len(r.seq)]
		r.pos++
	}
	return len(p), nil
}

func newTestCoordinator(t *testing.T, db *gorm.DB, cfg config.JoinConfig) (*JoinCoordinator, *clockwork.FakeClock, *recordingNotifier) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	rec := &recordingNotifier{}
	return NewJoinCoordinator(db, NewDBTableRegistry(db), rec, clock, cfg), clock, rec
}

// assertExclusive checks that no table is committed to more than one live
// request or session and that the occupancy index agrees with the entities.
func assertExclusive(t *testing.T, db *gorm.DB) {
	t.Helper()
	commitments := map[uint]int{}

	var pending []models.JoinRequest
	require.NoError(t, db.Where("status = ?", models.JoinRequestPending).Find(&pending).Error)
	for _, r := range pending {
		commitments[r.FromTableID]++
	}
	var live []models.JoinSession
	require.NoError(t, db.Where("status IN ?", liveSessionStatuses).Find(&live).Error)
	for _, s := range live {
		commitments[s.TableAID]++
		commitments[s.TableBID]++
	}
	for tableID, n := range commitments {
		require.LessOrEqualf(t, n, 1, "table %d holds %d commitments", tableID, n)
	}

	var slots []models.TableOccupancy
	require.NoError(t, db.Find(&slots).Error)
	require.Len(t, slots, len(commitments), "occupancy index out of step with live entities")
	for _, slot := range slots {
		require.Equalf(t, 1, commitments[slot.TableID], "slot on table %d has no live owner", slot.TableID)
	}
}
