package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/soochol/deskflow/internal/deskflow"
)

func TestMemoryConnectionRepository_CRUD(t *testing.T) {
	repo := NewMemoryConnectionRepository()
	ctx := context.Background()

	conn := &deskflow.Connection{
		ID:       "conn-1",
		TenantID: "acme",
		Name:     "Support Slack",
		Type:     deskflow.ConnTypeSlack,
		Token:    "xoxb-123",
	}

	if err := repo.Create(ctx, conn); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, conn); !errors.Is(err, deskflow.ErrDuplicate) {
		t.Fatalf("duplicate create: got %v, want ErrDuplicate", err)
	}

	got, err := repo.Get(ctx, "acme", "conn-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Token != "xoxb-123" {
		t.Fatalf("expected token 'xoxb-123', got %q", got.Token)
	}

	// Other tenants cannot see it.
	if _, err := repo.Get(ctx, "globex", "conn-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant get: got %v, want ErrNotFound", err)
	}
	list, err := repo.List(ctx, "globex")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected 0 connections for globex, got %d", len(list))
	}

	updated := *conn
	updated.Token = "xoxb-456"
	if err := repo.Update(ctx, &updated); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = repo.Get(ctx, "acme", "conn-1")
	if got.Token != "xoxb-456" {
		t.Fatalf("expected updated token, got %q", got.Token)
	}

	if err := repo.Update(ctx, &deskflow.Connection{ID: "nope", TenantID: "acme"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update nonexistent: got %v", err)
	}

	if err := repo.Delete(ctx, "acme", "conn-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, "acme", "conn-1"); err == nil {
		t.Fatal("get after delete should fail")
	}
	if err := repo.Delete(ctx, "acme", "conn-1"); err == nil {
		t.Fatal("delete nonexistent should fail")
	}
}
