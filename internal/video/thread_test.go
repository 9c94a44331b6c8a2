package video

import (
	"testing"
	"time"
)

func row(id string, parent *string, timecodeMs int64, createdAt time.Time) CommentRow {
	return CommentRow{
		ID:         id,
		ParentID:   parent,
		Body:       "body-" + id,
		TimecodeMs: timecodeMs,
		Role:       "client",
		CreatedAt:  createdAt,
	}
}

func strptr(s string) *string { return &s }

func TestBuildThread_OrdersRootsByTimecode(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	forest := BuildThread([]CommentRow{
		row("a", nil, 5, base),
		row("b", strptr("a"), 1, base.Add(time.Minute)),
		row("c", nil, 2, base.Add(2*time.Minute)),
	})

	if len(forest) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(forest))
	}
	if forest[0].ID != "c" || forest[1].ID != "a" {
		t.Errorf("expected roots [c a], got [%s %s]", forest[0].ID, forest[1].ID)
	}
	if len(forest[1].Replies) != 1 || forest[1].Replies[0].ID != "b" {
		t.Errorf("expected a.replies == [b], got %+v", forest[1].Replies)
	}
}

func TestBuildThread_TimecodeTieBreaksOnCreatedAt(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	forest := BuildThread([]CommentRow{
		row("later", nil, 10, base.Add(time.Hour)),
		row("earlier", nil, 10, base),
	})

	if len(forest) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(forest))
	}
	if forest[0].ID != "earlier" || forest[1].ID != "later" {
		t.Errorf("expected [earlier later], got [%s %s]", forest[0].ID, forest[1].ID)
	}
}

func TestBuildThread_OrphanPromotedToRoot(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	forest := BuildThread([]CommentRow{
		row("a", nil, 0, base),
		row("orphan", strptr("gone"), 1, base.Add(time.Minute)),
	})

	if len(forest) != 2 {
		t.Fatalf("expected orphan promoted to root, got %d roots", len(forest))
	}
	if forest[1].ID != "orphan" {
		t.Errorf("expected orphan as second root, got %s", forest[1].ID)
	}
}

func TestBuildThread_RepliesSortedRecursively(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	forest := BuildThread([]CommentRow{
		row("root", nil, 0, base),
		row("r2", strptr("root"), 300, base.Add(time.Minute)),
		row("r1", strptr("root"), 100, base.Add(2*time.Minute)),
		row("r1a", strptr("r1"), 900, base.Add(3*time.Minute)),
		row("r1b", strptr("r1"), 200, base.Add(4*time.Minute)),
	})

	if len(forest) != 1 {
		t.Fatalf("expected 1 root, got %d", len(forest))
	}
	replies := forest[0].Replies
	if len(replies) != 2 || replies[0].ID != "r1" || replies[1].ID != "r2" {
		t.Fatalf("expected replies [r1 r2], got %+v", replies)
	}
	nested := replies[0].Replies
	if len(nested) != 2 || nested[0].ID != "r1b" || nested[1].ID != "r1a" {
		t.Errorf("expected nested replies [r1b r1a], got %+v", nested)
	}
}

func TestBuildThread_SelfParentPromoted(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	forest := BuildThread([]CommentRow{row("a", strptr("a"), 0, base)})
	if len(forest) != 1 || forest[0].ID != "a" {
		t.Fatalf("expected self-referencing comment as root, got %+v", forest)
	}
}

func TestBuildThread_EmptyInput(t *testing.T) {
	forest := BuildThread(nil)
	if forest == nil {
		t.Fatal("expected non-nil forest")
	}
	if len(forest) != 0 {
		t.Errorf("expected empty forest, got %d roots", len(forest))
	}
}

func TestBuildThread_CanonicalTimestamps(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	forest := BuildThread([]CommentRow{
		row("a", nil, 0, time.Date(2026, 3, 1, 14, 0, 0, 0, loc)),
	})
	if forest[0].CreatedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("expected UTC RFC3339 timestamp, got %q", forest[0].CreatedAt)
	}
}
