package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrContactNotFound indicates a lookup by id matched no record.
	ErrContactNotFound = errors.New("contacts: contact not found")
	// ErrContactActive indicates hard deletion was attempted on an active record.
	ErrContactActive = errors.New("contacts: cannot permanently delete an active contact")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")

	noOpLogger = zap.NewNop()
)

// FindByUID returns the contact holding the given uid, active or inactive,
// or nil when absent. Runs against the supplied handle so callers can scope
// it to their own transaction.
func FindByUID(db *gorm.DB, uid string) (*Contact, error) {
	if uid == "" {
		return nil, nil
	}
	var contact Contact
	err := db.Where("uid = ?", uid).Take(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// FindByDN returns the contact holding the given directory identifier, or
// nil when absent.
func FindByDN(db *gorm.DB, dn string) (*Contact, error) {
	if dn == "" {
		return nil, nil
	}
	var contact Contact
	err := db.Where("directory_dn = ?", dn).Take(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// FindByID returns the contact with the given primary key.
func FindByID(db *gorm.DB, id int64) (*Contact, error) {
	var contact Contact
	err := db.Where("id = ?", id).Take(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrContactNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// PersistChanges stamps identifiers onto recorded transitions and appends
// them to the audit trail within the supplied handle.
func PersistChanges(db *gorm.DB, provider IDProvider, contactID int64, changes []ContactChange) error {
	for i := range changes {
		changeID, err := provider.NewID()
		if err != nil {
			return err
		}
		changes[i].ChangeID = changeID
		changes[i].ContactID = contactID
	}
	if len(changes) == 0 {
		return nil
	}
	return db.Create(&changes).Error
}

// StoreConfig describes the dependencies for contact lifecycle operations.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store performs out-of-band lifecycle operations on contacts and the
// notification log.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore validates dependencies and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("contacts: %w", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("contacts: %w", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Deactivate soft-deletes a contact; the record and its audit trail remain.
func (s *Store) Deactivate(ctx context.Context, contactID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contact, err := FindByID(tx, contactID)
		if err != nil {
			return err
		}
		if !contact.IsActive {
			return nil
		}
		set := NewChangeSet(contact, "operator", s.clock().UTC().Unix())
		set.SetBool(FieldIsActive, &contact.IsActive, false)
		if err := tx.Save(contact).Error; err != nil {
			return err
		}
		return PersistChanges(tx, s.idProvider, contact.ID, set.Changes())
	})
}

// HardDelete permanently removes an inactive contact together with its
// change records. Active contacts must be deactivated first.
func (s *Store) HardDelete(ctx context.Context, contactID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contact, err := FindByID(tx, contactID)
		if err != nil {
			return err
		}
		if contact.IsActive {
			return ErrContactActive
		}
		if err := tx.Where("contact_id = ?", contact.ID).Delete(&ContactChange{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(contact).Error; err != nil {
			return err
		}
		return s.appendNotification(tx, "Contact Permanently Deleted",
			fmt.Sprintf("Contact %s (%s) was permanently deleted.", contact.FullName(), contact.UID))
	})
	if err == nil {
		s.logger.Info("contact permanently deleted", zap.Int64("contact_id", contactID))
	}
	return err
}

// AppendNotification records a human-readable message for the UI.
func (s *Store) AppendNotification(ctx context.Context, title, message string) error {
	return s.appendNotification(s.db.WithContext(ctx), title, message)
}

// UnreadNotifications lists unread notifications, newest first.
func (s *Store) UnreadNotifications(ctx context.Context) ([]Notification, error) {
	var notifications []Notification
	err := s.db.WithContext(ctx).
		Where("unread = ?", true).
		Order("created_at_s DESC").
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

func (s *Store) appendNotification(db *gorm.DB, title, message string) error {
	id, err := s.idProvider.NewID()
	if err != nil {
		return err
	}
	return db.Create(&Notification{
		NotificationID:   id,
		Title:            title,
		Message:          message,
		CreatedAtSeconds: s.clock().UTC().Unix(),
		Unread:           true,
	}).Error
}
