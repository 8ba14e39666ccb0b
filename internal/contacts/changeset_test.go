package contacts

import "testing"

func TestChangeSetRecordsOnlyRealTransitions(t *testing.T) {
	contact := &Contact{ID: 7, FirstName: "Maria", Department: "Physics"}
	set := NewChangeSet(contact, "directory-sync", 1700000000)

	set.Set(FieldFirstName, &contact.FirstName, "Maria")
	set.Set(FieldDepartment, &contact.Department, "Chemistry")

	changes := set.Changes()
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	if changes[0].FieldName != FieldDepartment {
		t.Fatalf("unexpected field: %s", changes[0].FieldName)
	}
	if changes[0].OldValue != "Physics" || changes[0].NewValue != "Chemistry" {
		t.Fatalf("unexpected transition: %q -> %q", changes[0].OldValue, changes[0].NewValue)
	}
	if changes[0].ContactID != 7 {
		t.Fatalf("unexpected contact id %d", changes[0].ContactID)
	}
	if changes[0].ChangedBy != "directory-sync" {
		t.Fatalf("unexpected actor %q", changes[0].ChangedBy)
	}
	if contact.Department != "Chemistry" {
		t.Fatalf("expected department to be written")
	}
}

func TestChangeSetFillIfEmptyNeverOverwrites(t *testing.T) {
	tests := []struct {
		name        string
		current     string
		incoming    string
		expectWrite bool
		expectValue string
	}{
		{name: "fills-empty", current: "", incoming: "1234", expectWrite: true, expectValue: "1234"},
		{name: "keeps-populated", current: "9999", incoming: "1234", expectWrite: false, expectValue: "9999"},
		{name: "ignores-empty-incoming", current: "", incoming: "", expectWrite: false, expectValue: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contact := &Contact{ID: 1, PIN: tt.current}
			set := NewChangeSet(contact, "enrichment", 1700000000)

			wrote := set.FillIfEmpty(FieldPIN, &contact.PIN, tt.incoming)
			if wrote != tt.expectWrite {
				t.Fatalf("write mismatch, want %v got %v", tt.expectWrite, wrote)
			}
			if contact.PIN != tt.expectValue {
				t.Fatalf("unexpected value %q", contact.PIN)
			}
			if tt.expectWrite && len(set.Changes()) != 1 {
				t.Fatalf("expected audit entry for fill")
			}
			if !tt.expectWrite && len(set.Changes()) != 0 {
				t.Fatalf("expected no audit entry")
			}
		})
	}
}

func TestChangeSetBoolAndSourceTransitions(t *testing.T) {
	contact := &Contact{ID: 3, IsActive: false, Source: SourceManual}
	set := NewChangeSet(contact, "directory-sync", 1700000000)

	set.SetBool(FieldIsActive, &contact.IsActive, true)
	set.SetSource(SourceDirectory)
	set.SetSource(SourceDirectory)

	changes := set.Changes()
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].OldValue != "false" || changes[0].NewValue != "true" {
		t.Fatalf("unexpected bool transition: %q -> %q", changes[0].OldValue, changes[0].NewValue)
	}
	if changes[1].OldValue != string(SourceManual) || changes[1].NewValue != string(SourceDirectory) {
		t.Fatalf("unexpected source transition: %q -> %q", changes[1].OldValue, changes[1].NewValue)
	}
}
