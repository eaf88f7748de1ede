package session

import (
	"database/sql"
	"errors"
	"testing"
)

func TestDirtyTracker_Lifecycle(t *testing.T) {
	tr := NewDirtyTracker()
	conn := &sql.Conn{}

	if got := tr.Status(conn); got != StatusUntracked {
		t.Fatalf("unregistered conn: got %v", got)
	}
	if err := tr.MarkDirty(conn); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("MarkDirty on unknown conn: got %v", err)
	}

	tr.Register(conn, StatusActive)
	if tr.IsDirty(conn) {
		t.Fatalf("fresh registration must be clean")
	}
	for i := 0; i < 2; i++ {
		if err := tr.MarkDirty(conn); err != nil {
			t.Fatalf("MarkDirty #%d: %v", i, err)
		}
	}
	if !tr.IsDirty(conn) {
		t.Fatalf("expected dirty after MarkDirty")
	}
	if tr.Len() != 1 {
		t.Fatalf("expected one tracked conn, got %d", tr.Len())
	}

	tr.Forget(conn)
	if tr.Len() != 0 || tr.Status(conn) != StatusUntracked {
		t.Fatalf("Forget should drop the conn")
	}
}

func TestDirtyTracker_ReadOnlyRefusesWrites(t *testing.T) {
	tr := NewDirtyTracker()
	conn := &sql.Conn{}
	tr.Register(conn, StatusReadOnly)

	if err := tr.MarkDirty(conn); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if got := tr.Status(conn); got != StatusReadOnly {
		t.Fatalf("status must stay readonly, got %v", got)
	}
}

func TestDirtyTracker_SetReadOnly(t *testing.T) {
	tr := NewDirtyTracker()
	clean, dirty := &sql.Conn{}, &sql.Conn{}
	tr.Register(clean, StatusActive)
	tr.Register(dirty, StatusActive)
	_ = tr.MarkDirty(dirty)

	if err := tr.SetReadOnly(clean); err != nil {
		t.Fatalf("SetReadOnly on clean conn: %v", err)
	}
	if err := tr.SetReadOnly(dirty); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("SetReadOnly on dirty conn: got %v", err)
	}
	if !tr.IsDirty(dirty) {
		t.Fatalf("a dirty conn must never be downgraded")
	}
	if err := tr.SetReadOnly(&sql.Conn{}); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("SetReadOnly on unknown conn: got %v", err)
	}
}

func TestDirtyTracker_RegisterNormalizesStatus(t *testing.T) {
	tr := NewDirtyTracker()
	conn := &sql.Conn{}
	tr.Register(conn, StatusDirty)
	if got := tr.Status(conn); got != StatusActive {
		t.Fatalf("a new unit of work starts active, got %v", got)
	}
}

func TestIsWrite(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"INSERT INTO notes (body) VALUES ('x')", true},
		{"  update notes SET body = 'y'", true},
		{"DELETE FROM notes", true},
		{"CREATE TABLE t (id INTEGER)", true},
		{"(INSERT INTO t VALUES (1))", true},
		{"WITH x AS (SELECT 1) DELETE FROM notes WHERE id IN (SELECT * FROM x)", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
		{"SELECT * FROM notes", false},
		{"SAVEPOINT sp_1", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsWrite(tc.query); got != tc.want {
			t.Errorf("IsWrite(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	if StatusDirty.String() != "dirty" || StatusReadOnly.String() != "readonly" || Status(42).String() != "untracked" {
		t.Fatalf("unexpected Status strings")
	}
}
