package api

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cleanwave/internal/model"
)

func TestJoin_CreatesRegistration(t *testing.T) {
	db := newTestDB(t)
	store := dbRegistrationStore{db: db}

	organizer := createUser(t, db, "org@example.com", model.RoleOrganizer)
	volunteer := createUser(t, db, "vol@example.com", model.RoleVolunteer)
	event := createEvent(t, db, organizer.ID, 10)

	if err := store.Join(context.Background(), event.ID, volunteer.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	count, err := store.CountForEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 registration, got %d", count)
	}
}

func TestJoin_DoubleJoinReturnsConflict(t *testing.T) {
	db := newTestDB(t)
	store := dbRegistrationStore{db: db}

	organizer := createUser(t, db, "org@example.com", model.RoleOrganizer)
	volunteer := createUser(t, db, "vol@example.com", model.RoleVolunteer)
	event := createEvent(t, db, organizer.ID, 10)

	if err := store.Join(context.Background(), event.ID, volunteer.ID); err != nil {
		t.Fatalf("first join: %v", err)
	}
	err := store.Join(context.Background(), event.ID, volunteer.ID)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	count, _ := store.CountForEvent(context.Background(), event.ID)
	if count != 1 {
		t.Fatalf("expected exactly 1 registration, got %d", count)
	}
}

func TestJoin_ErrorPriority(t *testing.T) {
	db := newTestDB(t)
	store := dbRegistrationStore{db: db}

	organizer := createUser(t, db, "org@example.com", model.RoleOrganizer)
	volunteer := createUser(t, db, "vol@example.com", model.RoleVolunteer)

	// 不存在的活动优先于一切其他错误
	if err := store.Join(context.Background(), 9999, volunteer.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// 已关闭的活动：即使满员或重复，先报 inactive
	inactive := createEvent(t, db, organizer.ID, 0)
	if err := db.Model(inactive).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := store.Join(context.Background(), inactive.ID, volunteer.ID); !errors.Is(err, model.ErrEventInactive) {
		t.Fatalf("expected ErrEventInactive, got %v", err)
	}

	// 已报名优先于容量
	full := createEvent(t, db, organizer.ID, 1)
	if err := store.Join(context.Background(), full.ID, volunteer.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := store.Join(context.Background(), full.ID, volunteer.ID); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict for registered user on full event, got %v", err)
	}
}

func TestJoin_CapacityBoundary(t *testing.T) {
	db := newTestDB(t)
	store := dbRegistrationStore{db: db}

	organizer := createUser(t, db, "org@example.com", model.RoleOrganizer)
	userA := createUser(t, db, "a@example.com", model.RoleVolunteer)
	userB := createUser(t, db, "b@example.com", model.RoleVolunteer)
	event := createEvent(t, db, organizer.ID, 1)

	if err := store.Join(context.Background(), event.ID, userA.ID); err != nil {
		t.Fatalf("join A: %v", err)
	}
	if err := store.Join(context.Background(), event.ID, userB.ID); !errors.Is(err, model.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded for B, got %v", err)
	}
	if err := store.Leave(context.Background(), event.ID, userA.ID); err != nil {
		t.Fatalf("leave A: %v", err)
	}
	if err := store.Join(context.Background(), event.ID, userB.ID); err != nil {
		t.Fatalf("join B after A left: %v", err)
	}
}

func TestJoin_ConcurrentAtBoundary(t *testing.T) {
	db := newTestDB(t)
	store := dbRegistrationStore{db: db}

	organizer := createUser(t, db, "org@example.com", model.RoleOrganizer)
	event := createEvent(t, db, organizer.ID, 1)

	const workers = 8
	users := make([]*model.User, workers)
	for i := range users {
		users[i] = createUser(t, db, string(rune('a'+i))+"@example.com", model.RoleVolunteer)
	}

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.Join(context.Background(), event.ID, users[i].ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, model.ErrCapacityExceeded) {
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 successful join, got %d", succeeded)
	}

	count, err := store.CountForEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("capacity exceeded: %d registrations for max 1", count)
	}
}

func TestLeave_NotRegistered(t *testing.T) {
	db := newTestDB(t)
	store := dbRegistrationStore{db: db}

	organizer := createUser(t, db, "org@example.com", model.RoleOrganizer)
	volunteer := createUser(t, db, "vol@example.com", model.RoleVolunteer)
	event := createEvent(t, db, organizer.ID, 10)

	if err := store.Leave(context.Background(), event.ID, volunteer.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Leave(context.Background(), 9999, volunteer.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHasRegistration(t *testing.T) {
	db := newTestDB(t)
	store := dbRegistrationStore{db: db}

	organizer := createUser(t, db, "org@example.com", model.RoleOrganizer)
	volunteer := createUser(t, db, "vol@example.com", model.RoleVolunteer)
	event := createEvent(t, db, organizer.ID, 10)

	has, err := store.HasRegistration(context.Background(), event.ID, volunteer.ID)
	if err != nil || has {
		t.Fatalf("expected no registration, got has=%v err=%v", has, err)
	}
	if err := store.Join(context.Background(), event.ID, volunteer.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	has, err = store.HasRegistration(context.Background(), event.ID, volunteer.ID)
	if err != nil || !has {
		t.Fatalf("expected registration, got has=%v err=%v", has, err)
	}
}
