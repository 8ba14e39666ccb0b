package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/contacts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const actorImport = "directory-import"

// ImporterConfig describes the dependencies of the single-record importer.
type ImporterConfig struct {
	Database   *gorm.DB
	Directory  Directory
	Enricher   Enricher
	Clock      func() time.Time
	IDProvider contacts.IDProvider
	Logger     *zap.Logger
}

// Importer imports or merges one directory entry on demand. It shares the
// identity-matching and enrichment rules of the bulk engine but commits a
// single-entry transaction and surfaces its conflict synchronously.
type Importer struct {
	db         *gorm.DB
	directory  Directory
	enricher   Enricher
	clock      func() time.Time
	idProvider contacts.IDProvider
	logger     *zap.Logger
}

// NewImporter validates dependencies and constructs an Importer.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opImport, "missing_database", errMissingDatabase)
	}
	if cfg.Directory == nil {
		return nil, newServiceError(opImport, "missing_directory", errMissingDirectory)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opImport, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Importer{
		db:         cfg.Database,
		directory:  cfg.Directory,
		enricher:   cfg.Enricher,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Import fetches the entry addressed by dn and creates or updates the
// matching local record. Without force, a collision with a manually created
// record holding the same uid fails with UIDConflictError carrying the
// competing id so the caller can decide to force, merge, or abandon. When the
// entry's identifier and username match two different records, the identifier
// match wins and the other record releases the username.
func (i *Importer) Import(ctx context.Context, dn string, force bool) error {
	session, err := i.directory.Connect()
	if err != nil {
		logError(i.logger, opImport, "directory_connect_failed", err, zap.String("dn", dn))
		return newServiceError(opImport, "directory_connect_failed", err)
	}
	defer session.Close()

	entry, err := session.Lookup(dn)
	if err != nil {
		logError(i.logger, opImport, "directory_lookup_failed", err, zap.String("dn", dn))
		return newServiceError(opImport, "directory_lookup_failed", err)
	}
	if entry == nil {
		return fmt.Errorf("%w: %q", ErrEntryNotFound, dn)
	}

	txErr := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existingByUID, err := contacts.FindByUID(tx, entry.UID)
		if err != nil {
			return err
		}
		if existingByUID != nil && existingByUID.Source == contacts.SourceManual && !force {
			return &UIDConflictError{UID: entry.UID, ExistingID: existingByUID.ID}
		}
		existingByDN, err := contacts.FindByDN(tx, entry.DN)
		if err != nil {
			return err
		}

		nowSeconds := i.clock().UTC().Unix()

		target := existingByDN
		if target == nil {
			target = existingByUID
		}
		if existingByUID != nil && existingByDN != nil && existingByUID.ID != existingByDN.ID {
			// The record holding the directory identifier keeps the uid; the
			// competing record releases its claim so at most one active record
			// owns the username.
			release := contacts.NewChangeSet(existingByUID, actorImport, nowSeconds)
			release.Set(contacts.FieldUID, &existingByUID.UID, "")
			if err := tx.Save(existingByUID).Error; err != nil {
				return err
			}
			if err := contacts.PersistChanges(tx, i.idProvider, existingByUID.ID, release.Changes()); err != nil {
				return err
			}
		}

		created := false
		if target == nil {
			target = &contacts.Contact{
				DirectoryDN: entry.DN,
				Source:      contacts.SourceDirectory,
				IsActive:    true,
			}
			created = true
		}

		set := contacts.NewChangeSet(target, actorImport, nowSeconds)
		if !created {
			set.Set(contacts.FieldDirectoryDN, &target.DirectoryDN, entry.DN)
		}
		applyDirectoryProfile(set, target, *entry, nowSeconds)
		enrichContact(i.enricher, set, target, i.logger)

		if created {
			if err := tx.Create(target).Error; err != nil {
				return err
			}
		} else if err := tx.Save(target).Error; err != nil {
			return err
		}
		return contacts.PersistChanges(tx, i.idProvider, target.ID, set.Changes())
	})

	var conflict *UIDConflictError
	if errors.As(txErr, &conflict) {
		return conflict
	}
	if txErr != nil {
		logError(i.logger, opImport, "commit_failed", txErr, zap.String("dn", dn))
		return newServiceError(opImport, "commit_failed", txErr)
	}

	i.logger.Info("directory entry imported", zap.String("dn", dn), zap.Bool("force", force))
	return nil
}
