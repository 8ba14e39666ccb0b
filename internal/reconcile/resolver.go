package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/contacts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const actorResolve = "conflict-resolution"

var errMissingImporter = errors.New("importer is required")

// ResolverConfig describes the dependencies of the conflict resolver.
type ResolverConfig struct {
	Database   *gorm.DB
	Directory  Directory
	Importer   *Importer
	Clock      func() time.Time
	IDProvider contacts.IDProvider
	Logger     *zap.Logger
}

// Resolver applies an operator-chosen strategy to a contact flagged with an
// identity conflict.
type Resolver struct {
	db         *gorm.DB
	directory  Directory
	importer   *Importer
	clock      func() time.Time
	idProvider contacts.IDProvider
	logger     *zap.Logger
}

// NewResolver validates dependencies and constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opResolve, "missing_database", errMissingDatabase)
	}
	if cfg.Directory == nil {
		return nil, newServiceError(opResolve, "missing_directory", errMissingDirectory)
	}
	if cfg.Importer == nil {
		return nil, newServiceError(opResolve, "missing_importer", errMissingImporter)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opResolve, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Resolver{
		db:         cfg.Database,
		directory:  cfg.Directory,
		importer:   cfg.Importer,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Resolve applies the chosen strategy to the flagged contact. Resolving a
// contact without a conflict fails with ErrNoConflict; the caller must learn
// its assumption was wrong rather than get a silent no-op.
func (r *Resolver) Resolve(ctx context.Context, contactID int64, strategy Strategy, dn string) error {
	contact, err := contacts.FindByID(r.db.WithContext(ctx), contactID)
	if err != nil {
		return err
	}
	if !contact.HasConflict {
		return ErrNoConflict
	}

	switch strategy {
	case StrategyKeepLocal:
		err = r.keepLocal(ctx, contact)
	case StrategyReplaceWithDirectory:
		err = r.replaceWithDirectory(ctx, contact, dn)
	case StrategyMergeFromDirectory:
		err = r.mergeFromDirectory(ctx, contact, dn)
	default:
		return ErrUnknownStrategy
	}
	if err != nil {
		return err
	}

	r.logger.Info("conflict resolved",
		zap.Int64("contact_id", contactID),
		zap.String("strategy", string(strategy)))
	return nil
}

// keepLocal clears the flag and peer reference without touching any data.
func (r *Resolver) keepLocal(ctx context.Context, contact *contacts.Contact) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.clearAndSave(tx, contact)
	})
}

// replaceWithDirectory force-imports the competing entry, then clears the
// flag on the originally flagged contact. When the entry's record and the
// flagged contact differ, the import strips the flagged contact's uid claim
// and the directory record keeps the username.
func (r *Resolver) replaceWithDirectory(ctx context.Context, contact *contacts.Contact, dn string) error {
	if dn == "" {
		return ErrIdentifierRequired
	}
	if err := r.importer.Import(ctx, dn, true); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The forced import may have rewritten this record; clear the flag
		// on its current state, not the snapshot taken before the import.
		fresh, err := contacts.FindByID(tx, contact.ID)
		if err != nil {
			return err
		}
		return r.clearAndSave(tx, fresh)
	})
}

// mergeFromDirectory fills only empty fields from the competing entry, then
// reclassifies the contact as directory-sourced and stamps its identifier.
// A peer record holding the identifier releases it to the merged contact.
func (r *Resolver) mergeFromDirectory(ctx context.Context, contact *contacts.Contact, dn string) error {
	if dn == "" {
		return ErrIdentifierRequired
	}

	session, err := r.directory.Connect()
	if err != nil {
		logError(r.logger, opResolve, "directory_connect_failed", err)
		return newServiceError(opResolve, "directory_connect_failed", err)
	}
	defer session.Close()

	entry, err := session.Lookup(dn)
	if err != nil {
		logError(r.logger, opResolve, "directory_lookup_failed", err, zap.String("dn", dn))
		return newServiceError(opResolve, "directory_lookup_failed", err)
	}
	if entry == nil {
		return ErrEntryNotFound
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		nowSeconds := r.clock().UTC().Unix()

		// The merged contact takes over the directory identifier; a peer
		// still holding it releases the claim first.
		holder, err := contacts.FindByDN(tx, dn)
		if err != nil {
			return err
		}
		if holder != nil && holder.ID != contact.ID {
			release := contacts.NewChangeSet(holder, actorResolve, nowSeconds)
			release.Set(contacts.FieldDirectoryDN, &holder.DirectoryDN, "")
			if err := tx.Save(holder).Error; err != nil {
				return err
			}
			if err := contacts.PersistChanges(tx, r.idProvider, holder.ID, release.Changes()); err != nil {
				return err
			}
		}

		set := contacts.NewChangeSet(contact, actorResolve, nowSeconds)
		mergeDirectoryProfile(set, contact, *entry, nowSeconds)
		set.Set(contacts.FieldDirectoryDN, &contact.DirectoryDN, dn)
		set.SetSource(contacts.SourceDirectory)
		clearConflict(set, contact)
		if err := tx.Save(contact).Error; err != nil {
			return err
		}
		return contacts.PersistChanges(tx, r.idProvider, contact.ID, set.Changes())
	})
}

func (r *Resolver) clearAndSave(tx *gorm.DB, contact *contacts.Contact) error {
	set := contacts.NewChangeSet(contact, actorResolve, r.clock().UTC().Unix())
	clearConflict(set, contact)
	if err := tx.Save(contact).Error; err != nil {
		return err
	}
	return contacts.PersistChanges(tx, r.idProvider, contact.ID, set.Changes())
}
