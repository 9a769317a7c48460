package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

func TestEventCRUD(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	id, err := repo.CreateEvent(ctx, &models.Event{
		UserID:    "user-1",
		Title:     "release freeze",
		Color:     "red",
		StartDate: start,
		EndDate:   start.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateEvent error: %v", err)
	}

	got, err := repo.GetEvent(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("GetEvent error: %v", err)
	}
	if got.Title != "release freeze" || got.Color != "red" {
		t.Errorf("event not round-tripped: %+v", got)
	}
	if !got.StartDate.Equal(start) {
		t.Errorf("start date drifted: %v", got.StartDate)
	}

	got.Title = "extended freeze"
	got.EndDate = start.Add(72 * time.Hour)
	if err := repo.UpdateEvent(ctx, "user-1", got); err != nil {
		t.Fatalf("UpdateEvent error: %v", err)
	}
	again, _ := repo.GetEvent(ctx, "user-1", id)
	if again.Title != "extended freeze" {
		t.Errorf("update not persisted: %q", again.Title)
	}

	if _, err := repo.GetEvent(ctx, "user-2", id); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("cross-owner get: expected ErrNotFound, got %v", err)
	}

	if err := repo.DeleteEvent(ctx, "user-1", id); err != nil {
		t.Fatalf("DeleteEvent error: %v", err)
	}
	if err := repo.DeleteEvent(ctx, "user-1", id); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestEventRejectsInvertedRange(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if _, err := repo.CreateEvent(ctx, &models.Event{
		UserID:    "user-1",
		Title:     "bad",
		Color:     "blue",
		StartDate: start,
		EndDate:   start.Add(-time.Hour),
	}); err == nil {
		t.Fatal("expected error for end before start")
	}

	// Zero-length events are allowed.
	id, err := repo.CreateEvent(ctx, &models.Event{
		UserID: "user-1", Title: "point", Color: "blue", StartDate: start, EndDate: start,
	})
	if err != nil {
		t.Fatalf("zero-length event rejected: %v", err)
	}

	ev, _ := repo.GetEvent(ctx, "user-1", id)
	ev.EndDate = ev.StartDate.Add(-time.Minute)
	if err := repo.UpdateEvent(ctx, "user-1", ev); err == nil {
		t.Fatal("expected error for inverted range on update")
	}
}

func TestListEventsOverlapWindow(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2026, 4, d, 0, 0, 0, 0, time.UTC) }
	mk := func(title string, start, end time.Time) {
		if _, err := repo.CreateEvent(ctx, &models.Event{
			UserID: "user-1", Title: title, Color: "green", StartDate: start, EndDate: end,
		}); err != nil {
			t.Fatalf("CreateEvent error: %v", err)
		}
	}
	mk("before", day(1), day(2))
	mk("spans-start", day(4), day(6))
	mk("inside", day(6), day(7))
	mk("spans-end", day(9), day(12))
	mk("after", day(20), day(21))

	events, err := repo.ListEvents(ctx, "user-1", timePtr(day(5)), timePtr(day(10)))
	if err != nil {
		t.Fatalf("ListEvents error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 overlapping events, got %d", len(events))
	}
	// Sorted by start date ascending.
	want := []string{"spans-start", "inside", "spans-end"}
	for i, title := range want {
		if events[i].Title != title {
			t.Errorf("event[%d] = %q, want %q", i, events[i].Title, title)
		}
	}
}
