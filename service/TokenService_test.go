package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mietplatz/model"
	"mietplatz/repository"
	"mietplatz/util"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	// A single connection keeps every goroutine on the same in-memory
	// database and serializes writes the way Postgres row locks would
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&model.User{}, &model.Credential{}, &model.RefreshToken{}, &model.Role{}); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	return db
}

type recordSink struct {
	ch chan Incident
}

func (r *recordSink) Report(_ context.Context, inc Incident) error {
	r.ch <- inc
	return nil
}

func (r *recordSink) wait(t *testing.T) Incident {
	t.Helper()
	select {
	case inc := <-r.ch:
		return inc
	case <-time.After(2 * time.Second):
		t.Fatal("expected an incident, got none")
		return Incident{}
	}
}

func (r *recordSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case inc := <-r.ch:
		t.Fatalf("expected no incident, got %s for user %s", inc.Type, inc.UserID)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestTokenService(t *testing.T) (*TokenService, *gorm.DB, *recordSink) {
	t.Helper()

	db := newTestDB(t)
	sink := &recordSink{ch: make(chan Incident, 16)}
	incidents := NewIncidentService(nil, sink)
	t.Cleanup(incidents.Close)

	svc := NewTokenService(
		repository.NewRefreshTokenRepository(db),
		repository.NewUserRepository(db),
		incidents,
	)
	return svc, db, sink
}

func seedUser(t *testing.T, db *gorm.DB) *model.User {
	t.Helper()

	role := model.Role{Name: "Tenant " + uuid.NewString()[:8], Code: "tenant-" + uuid.NewString()[:8]}
	if err := db.Create(&role).Error; err != nil {
		t.Fatalf("failed to seed role: %v", err)
	}

	user := &model.User{
		Name:  "Anna Tester",
		Email: fmt.Sprintf("%s@example.com", uuid.NewString()),
		Roles: []model.Role{role},
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func testMeta() RequestMeta {
	return RequestMeta{DeviceID: "dev-1", ClientIP: "203.0.113.7", UserAgent: "test-agent"}
}

func TestIssueRootToken(t *testing.T) {
	svc, db, _ := newTestTokenService(t)
	user := seedUser(t, db)

	pair, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if pair.RefreshSecret == "" || pair.AccessToken == "" {
		t.Fatal("expected both tokens to be minted")
	}
	if pair.Record.ParentID != nil {
		t.Fatal("fresh login must start a lineage root")
	}
	if pair.Record.SecretHash == pair.RefreshSecret {
		t.Fatal("raw secret must never be stored")
	}
	if pair.Record.SecretHash != util.HashToken(pair.RefreshSecret) {
		t.Fatal("stored hash does not match the returned secret")
	}
	if pair.Record.LastUsedAt != nil || pair.Record.RevokedAt != nil {
		t.Fatal("new record must be unused and unrevoked")
	}
	if pair.Record.ClientIP != "203.0.113.7" || pair.Record.DeviceID != "dev-1" {
		t.Fatal("issuance context not captured")
	}

	remaining := time.Until(pair.Record.ExpiresAt)
	if remaining < 29*24*time.Hour || remaining > 31*24*time.Hour {
		t.Fatalf("unexpected refresh lifetime: %v", remaining)
	}
}

func TestSecretNeverReused(t *testing.T) {
	svc, db, _ := newTestTokenService(t)
	user := seedUser(t, db)

	seen := map[string]bool{}
	pair, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	seen[pair.Record.SecretHash] = true

	secret := pair.RefreshSecret
	for i := 0; i < 5; i++ {
		next, err := svc.Rotate(context.Background(), secret, testMeta())
		if err != nil {
			t.Fatalf("rotation %d failed: %v", i, err)
		}
		if seen[next.Record.SecretHash] {
			t.Fatalf("secret hash reused at rotation %d", i)
		}
		seen[next.Record.SecretHash] = true
		secret = next.RefreshSecret
	}
}

func TestRotateSingleUse(t *testing.T) {
	svc, db, sink := newTestTokenService(t)
	user := seedUser(t, db)

	t0, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	t1, err := svc.Rotate(context.Background(), t0.RefreshSecret, testMeta())
	if err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}
	if t1.Record.ParentID == nil || *t1.Record.ParentID != t0.Record.ID {
		t.Fatal("child must link back to the presented record")
	}

	var parent model.RefreshToken
	if err := db.First(&parent, "id = ?", t0.Record.ID).Error; err != nil {
		t.Fatalf("failed to reload parent: %v", err)
	}
	if parent.RevokedAt == nil || parent.LastUsedAt == nil {
		t.Fatal("rotation must retire the presented record in the same step")
	}

	// Second presentation of the same secret is a replay
	_, err = svc.Rotate(context.Background(), t0.RefreshSecret, testMeta())
	if !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}

	inc := sink.wait(t)
	if inc.Type != model.IncidentTokenReuse || inc.Severity != model.SeverityCritical {
		t.Fatalf("unexpected incident: %+v", inc)
	}
	if inc.UserID != user.ID || inc.RecordID != t0.Record.ID {
		t.Fatalf("incident points at the wrong actors: %+v", inc)
	}

	// The reuse killed the whole family, the fresh leaf included
	var leaf model.RefreshToken
	if err := db.First(&leaf, "id = ?", t1.Record.ID).Error; err != nil {
		t.Fatalf("failed to reload leaf: %v", err)
	}
	if leaf.RevokedAt == nil {
		t.Fatal("replay must revoke the descendant leaf too")
	}
}

func TestRotationChainLeavesOneActiveLeaf(t *testing.T) {
	svc, db, _ := newTestTokenService(t)
	user := seedUser(t, db)

	t0, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	t1, err := svc.Rotate(context.Background(), t0.RefreshSecret, testMeta())
	if err != nil {
		t.Fatalf("rotation to t1 failed: %v", err)
	}
	t2, err := svc.Rotate(context.Background(), t1.RefreshSecret, testMeta())
	if err != nil {
		t.Fatalf("rotation to t2 failed: %v", err)
	}

	var active []model.RefreshToken
	if err := db.Where("user_id = ? AND revoked_at IS NULL", user.ID).Find(&active).Error; err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != t2.Record.ID {
		t.Fatalf("expected exactly the newest leaf active, got %d records", len(active))
	}
}

func TestExpiredTokenIsInvalidNotReplay(t *testing.T) {
	svc, db, sink := newTestTokenService(t)
	user := seedUser(t, db)

	t0, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	// Age the record past its lifetime without ever using it
	if err := db.Model(&model.RefreshToken{}).Where("id = ?", t0.Record.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("failed to age record: %v", err)
	}

	_, err = svc.Rotate(context.Background(), t0.RefreshSecret, testMeta())
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	sink.expectNone(t)
}

func TestRevokedNeverUsedIsInvalidNotReplay(t *testing.T) {
	svc, db, sink := newTestTokenService(t)
	user := seedUser(t, db)

	t0, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	t1, err := svc.Rotate(context.Background(), t0.RefreshSecret, testMeta())
	if err != nil {
		t.Fatalf("rotation failed: %v", err)
	}

	// Replaying t0 shuts the family down, t1 included
	if _, err := svc.Rotate(context.Background(), t0.RefreshSecret, testMeta()); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
	sink.wait(t)

	// t1 was revoked by the walk but never individually consumed, so its
	// presentation is merely invalid and raises no second incident
	_, err = svc.Rotate(context.Background(), t1.RefreshSecret, testMeta())
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	sink.expectNone(t)
}

func TestMidRotationTurnaroundCountsAsReplay(t *testing.T) {
	svc, db, sink := newTestTokenService(t)
	user := seedUser(t, db)

	t0, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	// Simulate a rotation that marked the record used but has not finished:
	// last_used_at set seconds ago, revoked_at still NULL
	if err := db.Model(&model.RefreshToken{}).Where("id = ?", t0.Record.ID).
		Update("last_used_at", time.Now().Add(-time.Second)).Error; err != nil {
		t.Fatalf("failed to mark record used: %v", err)
	}

	_, err = svc.Rotate(context.Background(), t0.RefreshSecret, testMeta())
	if !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
	sink.wait(t)
}

func TestRevokeFamilyIdempotent(t *testing.T) {
	svc, db, _ := newTestTokenService(t)
	user := seedUser(t, db)

	t0, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	t1, err := svc.Rotate(context.Background(), t0.RefreshSecret, testMeta())
	if err != nil {
		t.Fatalf("rotation failed: %v", err)
	}

	// First walk flips the one live leaf (t0 is already revoked by rotation)
	n, err := svc.RevokeFamily(t1.Record)
	if err != nil {
		t.Fatalf("first walk failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 newly revoked record, got %d", n)
	}

	// Second walk is a no-op with the same end state
	n, err = svc.RevokeFamily(t1.Record)
	if err != nil {
		t.Fatalf("second walk errored: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected idempotent second walk, got %d flips", n)
	}

	var count int64
	db.Model(&model.RefreshToken{}).Where("user_id = ? AND revoked_at IS NULL", user.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected everything revoked, %d records still active", count)
	}
}

func TestRevokeFamilyFindsRootFromAnyNode(t *testing.T) {
	svc, db, _ := newTestTokenService(t)
	user := seedUser(t, db)

	t0, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	secret := t0.RefreshSecret
	var leaf *model.RefreshToken
	for i := 0; i < 4; i++ {
		next, err := svc.Rotate(context.Background(), secret, testMeta())
		if err != nil {
			t.Fatalf("rotation %d failed: %v", i, err)
		}
		secret = next.RefreshSecret
		leaf = next.Record
	}

	// A second lineage for the same user must stay untouched
	other, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("second issue failed: %v", err)
	}

	if _, err := svc.RevokeFamily(leaf); err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	var untouched model.RefreshToken
	if err := db.First(&untouched, "id = ?", other.Record.ID).Error; err != nil {
		t.Fatalf("failed to reload sibling lineage: %v", err)
	}
	if untouched.RevokedAt != nil {
		t.Fatal("family revocation must not cross lineage boundaries")
	}

	var revoked int64
	db.Model(&model.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NOT NULL", user.ID).Count(&revoked)
	if revoked != 5 {
		t.Fatalf("expected the full 5-record lineage revoked, got %d", revoked)
	}
}

func TestRevokeFamilyDetectsCorruptLineage(t *testing.T) {
	svc, db, _ := newTestTokenService(t)
	user := seedUser(t, db)

	t0, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	// Corrupt data: a record that is its own parent must not hang the walk
	if err := db.Model(&model.RefreshToken{}).Where("id = ?", t0.Record.ID).
		Update("parent_id", t0.Record.ID).Error; err != nil {
		t.Fatalf("failed to corrupt record: %v", err)
	}

	rec, err := repository.NewRefreshTokenRepository(db).GetByID(t0.Record.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if _, err := svc.RevokeFamily(rec); !errors.Is(err, ErrLineageCorrupt) {
		t.Fatalf("expected ErrLineageCorrupt, got %v", err)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	svc, db, sink := newTestTokenService(t)
	user := seedUser(t, db)

	t0, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	const n = 8
	start := make(chan struct{})
	results := make(chan error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Rotate(context.Background(), t0.RefreshSecret, testMeta())
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	success, replays := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrReplayDetected):
			replays++
		default:
			t.Fatalf("unexpected rotation error: %v", err)
		}
	}

	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
	if replays != n-1 {
		t.Fatalf("expected %d replay losers, got %d", n-1, replays)
	}

	// At least one loser reported the reuse
	sink.wait(t)

	// The race shut the whole family down, the winner's child included
	var active int64
	db.Model(&model.RefreshToken{}).Where("user_id = ? AND revoked_at IS NULL", user.ID).Count(&active)
	if active != 0 {
		t.Fatalf("expected no active records after the race, got %d", active)
	}
}

func TestRevokeBySecretSkipsIncident(t *testing.T) {
	svc, db, sink := newTestTokenService(t)
	user := seedUser(t, db)

	t0, err := svc.Issue(user, testMeta())
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	n, err := svc.RevokeBySecret(t0.RefreshSecret)
	if err != nil {
		t.Fatalf("logout revocation failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 record revoked, got %d", n)
	}

	sink.expectNone(t)

	var rec model.RefreshToken
	if err := db.First(&rec, "id = ?", t0.Record.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if rec.RevokedAt == nil {
		t.Fatal("logout must revoke the record")
	}
}

func TestRotateUnknownSecret(t *testing.T) {
	svc, _, sink := newTestTokenService(t)

	_, err := svc.Rotate(context.Background(), "never-issued", testMeta())
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	sink.expectNone(t)
}
