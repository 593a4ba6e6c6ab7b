package repository

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-demo/watchparty/internal/model"
	"github.com/go-demo/watchparty/internal/pkg/database"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// 全域計數器確保唯一性
var testCounter int64

// GenerateUniquePrefix 生成唯一的測試前綴
// 使用 UUID 確保並行測試不會衝突
func GenerateUniquePrefix() string {
	count := atomic.AddInt64(&testCounter, 1)
	return uuid.New().String()[:8] + "_" + time.Now().Format("150405") + "_" + string(rune(count%26+'a'))
}

// SetupIsolatedTestDB 建立隔離的測試資料庫連線並套用 schema
// 每個測試使用唯一前綴，避免並行測試衝突
func SetupIsolatedTestDB(t *testing.T) (*sqlx.DB, string) {
	t.Helper()

	dsn := "host=localhost port=5432 user=postgres password=postgres dbname=watchparty_test sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("Skipping test, could not connect to test database: %v", err)
	}

	if err := database.Migrate(context.Background(), db, zap.NewNop()); err != nil {
		db.Close()
		t.Skipf("Skipping test, could not migrate test database: %v", err)
	}

	return db, GenerateUniquePrefix()
}

// CleanupTestDataByPrefix 清理特定前綴的測試資料
// 成員與播放狀態隨房間一併刪除
func CleanupTestDataByPrefix(t *testing.T, db *sqlx.DB, prefix string) {
	t.Helper()

	_, _ = db.ExecContext(context.Background(), "DELETE FROM rooms WHERE owner_id LIKE $1", prefix+"%")
}

// CreateIsolatedTestRoom 建立隔離的測試房間，擁有者 ID 帶有前綴
func CreateIsolatedTestRoom(t *testing.T, store RoomStore, prefix, owner string, capacity int, isPrivate bool) *model.Room {
	t.Helper()

	room := &model.Room{
		OwnerID:     prefix + "_" + owner,
		Name:        prefix + "_room",
		IsPrivate:   isPrivate,
		MaxCapacity: capacity,
	}
	member := &model.RoomMember{UserID: room.OwnerID, Role: model.MemberRoleOwner}
	state := model.NewPlaybackState("", time.Now())

	if err := store.CreateRoom(context.Background(), room, member, state); err != nil {
		t.Fatalf("Failed to create test room: %v", err)
	}

	return room
}
