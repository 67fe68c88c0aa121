package audit

import (
	"context"
	"strings"
	"testing"
	"time"
)

type stubRepo struct {
	rows       []TimelineRow
	lastOffset int
	lastLimit  int
	allCalls   int
}

func (s *stubRepo) Timeline(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	s.lastOffset = offset
	s.lastLimit = limit
	if limit < len(s.rows) {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func (s *stubRepo) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	s.allCalls++
	return s.rows, nil
}

func mockRow(ts, action, entity, entityID string, actorID int64) TimelineRow {
	at, _ := time.Parse(time.RFC3339, ts)
	return TimelineRow{At: at, ActorID: actorID, Action: action, Entity: entity, EntityID: entityID}
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{
		mockRow("2026-03-10T10:00:00Z", "approval.submit", "approval", "a1", 1),
		mockRow("2026-03-09T09:00:00Z", "approval.finance_approve", "approval", "a1", 2),
		mockRow("2026-03-08T08:00:00Z", "approval.reject", "approval", "a2", 3),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext {
		t.Fatalf("expected hasNext true")
	}
	if result.Paging.NextPage != 2 {
		t.Fatalf("expected nextPage 2, got %d", result.Paging.NextPage)
	}
	if repo.lastLimit != 3 {
		t.Fatalf("expected limit 3, got %d", repo.lastLimit)
	}
	if repo.lastOffset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastOffset)
	}
}

func TestTimelineSecondPageOffset(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	if _, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 10}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastOffset != 20 {
		t.Fatalf("expected offset 20, got %d", repo.lastOffset)
	}
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	if _, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastLimit != 51 {
		t.Fatalf("expected limit 51, got %d", repo.lastLimit)
	}
}

func TestExportWritesCSV(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{
		mockRow("2026-03-10T10:00:00Z", "approval.submit", "approval", "a1", 1),
		mockRow("2026-03-09T09:00:00Z", "approval.revert", "ESTIMATE_CHANGE", "7", 2),
	}}
	svc := NewService(repo)

	payload, err := svc.Export(context.Background(), TimelineFilters{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	body := string(payload)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "at,actor_id,role,action") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(body, "approval.revert") {
		t.Fatalf("expected revert row in export")
	}
}
