package journal

import (
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndVerify(t *testing.T) {
	j := openTestJournal(t)

	j.Append("run-1", "created", "1001", "steve@panel.local", 101, "success", map[string]string{"memory": "2048"})
	j.Append("run-2", "suspended", "1001", "steve@panel.local", 101, "success", map[string]string{"reason": "abuse"})
	j.Append("run-3", "deleted", "1002", "steve@panel.local", 101, "error", nil)

	valid, count, err := Verify(j.DB())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !valid || count != 3 {
		t.Errorf("valid=%v count=%d", valid, count)
	}
}

func TestTamperBreaksChain(t *testing.T) {
	j := openTestJournal(t)

	j.Append("run-1", "created", "1001", "", 1, "success", nil)
	j.Append("run-2", "deleted", "1001", "", 1, "success", nil)

	if _, err := j.DB().Exec("UPDATE action_journal SET initiator = 'intruder' WHERE id = 1"); err != nil {
		t.Fatal(err)
	}

	valid, _, err := Verify(j.DB())
	if valid {
		t.Error("tampered journal must not verify")
	}
	if err == nil {
		t.Error("expected chain-broken error")
	}
}

func TestChainSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	j.Append("run-1", "created", "1001", "", 1, "success", nil)
	j.Close()

	j2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()
	j2.Append("run-2", "resized", "1001", "", 1, "success", nil)

	valid, count, err := Verify(j2.DB())
	if err != nil || !valid || count != 2 {
		t.Errorf("valid=%v count=%d err=%v", valid, count, err)
	}
}

func TestTail(t *testing.T) {
	j := openTestJournal(t)
	j.Append("run-1", "created", "1001", "", 1, "success", nil)
	j.Append("run-2", "suspended", "1001", "", 2, "success", map[string]string{"reason": "billing"})

	entries, err := j.Tail(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Action != "suspended" || entries[0].Detail["reason"] != "billing" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}
