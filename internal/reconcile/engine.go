package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/contacts"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/directory"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	actorSync        = "directory-sync"
	defaultBatchSize = 20
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingDirectory  = errors.New("directory client is required")
	errMissingIDProvider = errors.New("id provider is required")

	noOpLogger = zap.NewNop()
)

// EngineConfig describes the dependencies of the reconciliation engine.
type EngineConfig struct {
	Database   *gorm.DB
	Directory  Directory
	Enricher   Enricher
	Clock      func() time.Time
	IDProvider contacts.IDProvider
	Logger     *zap.Logger
	// BatchSize bounds the number of entries committed per transaction.
	BatchSize int
}

// Engine drives bulk reconciliation of the local contact database against
// the upstream directory.
type Engine struct {
	db         *gorm.DB
	directory  Directory
	enricher   Enricher
	clock      func() time.Time
	idProvider contacts.IDProvider
	logger     *zap.Logger
	batchSize  int

	running atomic.Bool
}

// NewEngine validates dependencies and constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opSync, "missing_database", errMissingDatabase)
	}
	if cfg.Directory == nil {
		return nil, newServiceError(opSync, "missing_directory", errMissingDirectory)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opSync, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Engine{
		db:         cfg.Database,
		directory:  cfg.Directory,
		enricher:   cfg.Enricher,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		batchSize:  batchSize,
	}, nil
}

// Sync pages through every matching directory entry and reconciles each one
// against the local database, committing in fixed-size batches. Batches that
// committed before a failure remain committed; only the in-flight batch is
// rolled back. Concurrent invocations are rejected with ErrSyncInProgress.
func (e *Engine) Sync(ctx context.Context) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Report{}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	e.logger.Info("starting directory sync")
	var report Report

	session, err := e.directory.Connect()
	if err != nil {
		logError(e.logger, opSync, "directory_connect_failed", err)
		e.notifyFailure(ctx, err)
		return report, newServiceError(opSync, "directory_connect_failed", err)
	}
	defer session.Close()

	entries, err := session.SearchPeople()
	if err != nil {
		logError(e.logger, opSync, "directory_search_failed", err)
		e.notifyFailure(ctx, err)
		return report, newServiceError(opSync, "directory_search_failed", err)
	}
	e.logger.Info("directory search finished", zap.Int("entries", len(entries)))

	for start := 0; start < len(entries); start += e.batchSize {
		end := min(start+e.batchSize, len(entries))
		committed := report

		txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, entry := range entries[start:end] {
				outcome, err := e.processEntry(tx, entry)
				if err != nil {
					return err
				}
				report.fold(outcome)
			}
			return nil
		})
		if txErr != nil {
			// The failed batch rolled back; report only what committed.
			report = committed
			logError(e.logger, opSync, "batch_commit_failed", txErr,
				zap.Int("batch_start", start))
			e.notifyFailure(ctx, txErr)
			return report, newServiceError(opSync, "batch_commit_failed", txErr)
		}
		e.logger.Info("batch committed", zap.Int("processed", report.Processed))
	}

	e.notify(ctx, "Directory Sync Complete", report.summary())
	e.logger.Info("directory sync finished",
		zap.Int("added", report.Added),
		zap.Int("updated", report.Updated),
		zap.Int("conflicts", len(report.Conflicts)))
	return report, nil
}

// processEntry reconciles one directory entry inside the batch transaction.
func (e *Engine) processEntry(tx *gorm.DB, entry directory.Entry) (entryOutcome, error) {
	if strings.TrimSpace(entry.UID) == "" {
		// Entries without a stable username cannot be reconciled.
		e.logger.Warn("skipping directory entry without uid", zap.String("dn", entry.DN))
		return entryOutcome{kind: outcomeSkipped}, nil
	}

	existingByUID, err := contacts.FindByUID(tx, entry.UID)
	if err != nil {
		return entryOutcome{}, err
	}
	existingByDN, err := contacts.FindByDN(tx, entry.DN)
	if err != nil {
		return entryOutcome{}, err
	}

	nowSeconds := e.clock().UTC().Unix()

	if existingByUID != nil && existingByDN != nil && existingByUID.ID != existingByDN.ID {
		// Two independent records claim the same identity: the uid match and
		// the dn match disagree. Flag the uid-matched record, leave its data
		// untouched, and skip the entry; resolution is an operator decision.
		e.logger.Warn("identity conflict detected",
			zap.String("uid", entry.UID),
			zap.Int64("contact_id", existingByUID.ID),
			zap.Int64("peer_id", existingByDN.ID))

		set := contacts.NewChangeSet(existingByUID, actorSync, nowSeconds)
		set.SetBool(contacts.FieldHasConflict, &existingByUID.HasConflict, true)
		existingByUID.ConflictPeerID = &existingByDN.ID
		if err := tx.Save(existingByUID).Error; err != nil {
			return entryOutcome{}, err
		}
		if err := contacts.PersistChanges(tx, e.idProvider, existingByUID.ID, set.Changes()); err != nil {
			return entryOutcome{}, err
		}
		return entryOutcome{
			kind: outcomeConflict,
			conflict: ConflictDescriptor{
				UID:         entry.UID,
				ContactID:   existingByUID.ID,
				PeerID:      existingByDN.ID,
				DirectoryDN: entry.DN,
			},
		}, nil
	}

	target := existingByDN
	if target == nil {
		// A record matching by uid alone is claimed for the directory rather
		// than duplicated, keeping the uid uniqueness invariant intact.
		target = existingByUID
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

	set := contacts.NewChangeSet(target, actorSync, nowSeconds)
	if !created {
		set.Set(contacts.FieldDirectoryDN, &target.DirectoryDN, entry.DN)
	}
	applyDirectoryProfile(set, target, entry, nowSeconds)
	enrichContact(e.enricher, set, target, e.logger)

	if created {
		if err := tx.Create(target).Error; err != nil {
			return entryOutcome{}, err
		}
	} else if err := tx.Save(target).Error; err != nil {
		return entryOutcome{}, err
	}
	if err := contacts.PersistChanges(tx, e.idProvider, target.ID, set.Changes()); err != nil {
		return entryOutcome{}, err
	}

	if created {
		return entryOutcome{kind: outcomeCreated}, nil
	}
	return entryOutcome{kind: outcomeUpdated}, nil
}

func (e *Engine) notifyFailure(ctx context.Context, cause error) {
	e.notify(ctx, "Directory Sync Failed", "Error during sync: "+cause.Error())
}

// notify appends to the notification log. Failures here are logged and
// swallowed: the sync outcome must not depend on the notification sink.
func (e *Engine) notify(ctx context.Context, title, message string) {
	id, err := e.idProvider.NewID()
	if err != nil {
		logError(e.logger, opSync, "notification_id_failed", err)
		return
	}
	notification := contacts.Notification{
		NotificationID:   id,
		Title:            title,
		Message:          message,
		CreatedAtSeconds: e.clock().UTC().Unix(),
		Unread:           true,
	}
	if err := e.db.WithContext(ctx).Create(&notification).Error; err != nil {
		logError(e.logger, opSync, "notification_write_failed", err)
	}
}
