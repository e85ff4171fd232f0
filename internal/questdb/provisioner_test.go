package questdb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"annotator/internal/config"
)

type recordingExec struct {
	stmts  []string
	failOn string
}

func (r *recordingExec) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	r.stmts = append(r.stmts, query)
	if r.failOn != "" && strings.Contains(query, r.failOn) {
		return nil, errors.New("boom")
	}
	return nil, nil
}

func TestProvisionerEnsure(t *testing.T) {
	exec := &recordingExec{}
	p := &Provisioner{DB: exec, Config: config.QuestDBConfig{MaxUncommittedRows: 500000, O3MaxLag: 10 * time.Second}}

	table, err := p.Ensure(context.Background(), "Site-A")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if table != "site_a" {
		t.Fatalf("table=%q want site_a", table)
	}
	if len(exec.stmts) != 3 {
		t.Fatalf("stmts=%d want 3: %v", len(exec.stmts), exec.stmts)
	}
	create := exec.stmts[0]
	for _, part := range []string{`CREATE TABLE IF NOT EXISTS "site_a"`, "amplitude SHORT", "file SYMBOL", "TIMESTAMP(ts)", "PARTITION BY HOUR"} {
		if !strings.Contains(create, part) {
			t.Fatalf("create statement missing %q: %s", part, create)
		}
	}
	if !strings.Contains(exec.stmts[1], "maxUncommittedRows = 500000") {
		t.Fatalf("unexpected tuning stmt: %s", exec.stmts[1])
	}
	if !strings.Contains(exec.stmts[2], "o3MaxLag = 10s") {
		t.Fatalf("unexpected tuning stmt: %s", exec.stmts[2])
	}
}

func TestProvisionerIgnoresTuningFailure(t *testing.T) {
	exec := &recordingExec{failOn: "ALTER TABLE"}
	p := &Provisioner{DB: exec, Config: config.QuestDBConfig{MaxUncommittedRows: 10, O3MaxLag: time.Second}}
	if _, err := p.Ensure(context.Background(), "test1"); err != nil {
		t.Fatalf("tuning failure must not surface: %v", err)
	}
}

func TestProvisionerCreateFailure(t *testing.T) {
	exec := &recordingExec{failOn: "CREATE TABLE"}
	p := &Provisioner{DB: exec}
	if _, err := p.Ensure(context.Background(), "test1"); err == nil {
		t.Fatalf("expected create failure")
	}
}

func TestProvisionerRejectsEmptyName(t *testing.T) {
	exec := &recordingExec{}
	p := &Provisioner{DB: exec}
	if _, err := p.Ensure(context.Background(), "..."); !errors.Is(err, ErrInvalidCollection) {
		t.Fatalf("err=%v want ErrInvalidCollection", err)
	}
	if len(exec.stmts) != 0 {
		t.Fatalf("no statements expected, got %v", exec.stmts)
	}
}
