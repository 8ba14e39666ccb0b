package contacts

import "strconv"

// Audited field names, matching the persisted column names so the change
// trail reads the same as the schema.
const (
	FieldUID         = "uid"
	FieldDirectoryDN = "directory_dn"
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldEmail       = "email"
	FieldPhone       = "phone"
	FieldDepartment  = "department"
	FieldTitle       = "title"
	FieldPhoneModel  = "phone_model"
	FieldMACAddress  = "mac_address"
	FieldPIN         = "pin"
	FieldIsActive    = "is_active"
	FieldSource      = "source"
	FieldHasConflict = "has_conflict"
)

// ChangeSet applies field writes to one contact and records a ContactChange
// for every value that actually changed. Change identifiers and the owning
// contact id are stamped later, when the set is persisted.
type ChangeSet struct {
	contact   *Contact
	actor     string
	atSeconds int64
	changes   []ContactChange
}

// NewChangeSet starts recording audited writes against the given contact.
func NewChangeSet(contact *Contact, actor string, atSeconds int64) *ChangeSet {
	return &ChangeSet{contact: contact, actor: actor, atSeconds: atSeconds}
}

// Set writes value unconditionally and records the transition when it differs.
func (cs *ChangeSet) Set(field string, target *string, value string) {
	if *target == value {
		return
	}
	cs.record(field, *target, value)
	*target = value
}

// FillIfEmpty writes value only when the current value is empty; a populated
// field is never overwritten by this writer. Reports whether a write happened.
func (cs *ChangeSet) FillIfEmpty(field string, target *string, value string) bool {
	if value == "" || *target != "" {
		return false
	}
	cs.record(field, "", value)
	*target = value
	return true
}

// SetBool writes a boolean flag and records the transition when it differs.
func (cs *ChangeSet) SetBool(field string, target *bool, value bool) {
	if *target == value {
		return
	}
	cs.record(field, strconv.FormatBool(*target), strconv.FormatBool(value))
	*target = value
}

// SetSource reclassifies the contact's origin.
func (cs *ChangeSet) SetSource(value Source) {
	if cs.contact.Source == value {
		return
	}
	cs.record(FieldSource, string(cs.contact.Source), string(value))
	cs.contact.Source = value
}

// Changes returns the recorded transitions in application order.
func (cs *ChangeSet) Changes() []ContactChange {
	return cs.changes
}

func (cs *ChangeSet) record(field, oldValue, newValue string) {
	cs.changes = append(cs.changes, ContactChange{
		ContactID:        cs.contact.ID,
		FieldName:        field,
		OldValue:         oldValue,
		NewValue:         newValue,
		ChangedAtSeconds: cs.atSeconds,
		ChangedBy:        cs.actor,
	})
}
