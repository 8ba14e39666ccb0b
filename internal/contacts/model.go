package contacts

// Source identifies where a contact record originated.
type Source string

const (
	// SourceManual marks a record created by an operator.
	SourceManual Source = "manual"
	// SourceDirectory marks a record created or claimed by directory sync.
	SourceDirectory Source = "directory"
)

// Contact models a directory-derived or manually created person entry.
//
// At most one active record may hold a given non-empty UID, and at most one
// record may hold a given non-empty DirectoryDN. The two constraints are
// independent; the sync engine treats a simultaneous violation by two
// different records as an identity conflict.
type Contact struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Uniqueness is enforced only over non-empty values: manual records
	// carry no directory identifier, and only active records own a uid.
	DirectoryDN string `gorm:"column:directory_dn;size:255;uniqueIndex:udx_contacts_directory_dn,where:directory_dn <> ''"`
	UID         string `gorm:"column:uid;size:100;uniqueIndex:udx_contacts_active_uid,where:uid <> '' AND is_active = 1"`

	FirstName  string `gorm:"column:first_name;size:100"`
	LastName   string `gorm:"column:last_name;size:100"`
	Email      string `gorm:"column:email;size:120"`
	Phone      string `gorm:"column:phone;size:20"`
	Department string `gorm:"column:department;size:255"`
	Title      string `gorm:"column:title;size:255"`

	PhoneModel string `gorm:"column:phone_model;size:255"`
	MACAddress string `gorm:"column:mac_address;size:255"`
	PIN        string `gorm:"column:pin;size:255"`
	Notes      string `gorm:"column:notes;type:text"`

	IsActive          bool   `gorm:"column:is_active;not null;default:true"`
	Source            Source `gorm:"column:source;size:20;not null;default:manual"`
	LastSyncAtSeconds int64  `gorm:"column:last_sync_at_s;not null;default:0"`

	HasConflict bool `gorm:"column:has_conflict;not null;default:false"`
	// ConflictPeerID references the other record of a conflicting pair in
	// this same table. Either side can resolve or be deleted independently.
	ConflictPeerID *int64 `gorm:"column:conflict_peer_id"`
}

// TableName provides the explicit table binding for GORM.
func (Contact) TableName() string {
	return "contacts"
}

// FullName joins the profile name fields for display and notifications.
func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// ContactChange captures an append-only audit trail for contact mutations.
// Rows are never updated; they are deleted only in bulk together with the
// owning contact's hard deletion.
type ContactChange struct {
	ChangeID         string `gorm:"column:change_id;primaryKey;size:190;not null"`
	ContactID        int64  `gorm:"column:contact_id;not null;index:idx_changes_contact_time,priority:1"`
	FieldName        string `gorm:"column:field_name;size:50;not null"`
	OldValue         string `gorm:"column:old_value;size:255"`
	NewValue         string `gorm:"column:new_value;size:255"`
	ChangedAtSeconds int64  `gorm:"column:changed_at_s;not null;index:idx_changes_contact_time,priority:2"`
	ChangedBy        string `gorm:"column:changed_by;size:100;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ContactChange) TableName() string {
	return "contact_changes"
}

// Notification is an append-only, human-readable record of sync outcomes,
// consumed by a UI but opaque to the core.
type Notification struct {
	NotificationID   string `gorm:"column:notification_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:100;not null"`
	Message          string `gorm:"column:message;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	Unread           bool   `gorm:"column:unread;not null;default:true"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}
