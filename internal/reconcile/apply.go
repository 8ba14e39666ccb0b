package reconcile

import (
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/contacts"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/directory"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/telephony"
	"go.uber.org/zap"
)

// applyDirectoryProfile overwrites profile fields from the directory entry.
// The directory is authoritative for profile data on every pass; only the
// telephony fields follow the fill-only policy.
func applyDirectoryProfile(set *contacts.ChangeSet, contact *contacts.Contact, entry directory.Entry, nowSeconds int64) {
	set.Set(contacts.FieldUID, &contact.UID, entry.UID)
	set.Set(contacts.FieldFirstName, &contact.FirstName, entry.FirstName)
	set.Set(contacts.FieldLastName, &contact.LastName, entry.LastName)
	set.Set(contacts.FieldEmail, &contact.Email, entry.Email)
	set.Set(contacts.FieldPhone, &contact.Phone, entry.Phone)
	set.Set(contacts.FieldDepartment, &contact.Department, entry.Department)
	set.Set(contacts.FieldTitle, &contact.Title, entry.Title)
	set.SetBool(contacts.FieldIsActive, &contact.IsActive, true)
	set.SetSource(contacts.SourceDirectory)
	contact.LastSyncAtSeconds = nowSeconds
}

// mergeDirectoryProfile fills only empty profile fields from the directory
// entry, preserving every populated local value.
func mergeDirectoryProfile(set *contacts.ChangeSet, contact *contacts.Contact, entry directory.Entry, nowSeconds int64) {
	set.FillIfEmpty(contacts.FieldFirstName, &contact.FirstName, entry.FirstName)
	set.FillIfEmpty(contacts.FieldLastName, &contact.LastName, entry.LastName)
	set.FillIfEmpty(contacts.FieldEmail, &contact.Email, entry.Email)
	set.FillIfEmpty(contacts.FieldPhone, &contact.Phone, entry.Phone)
	set.FillIfEmpty(contacts.FieldDepartment, &contact.Department, entry.Department)
	set.FillIfEmpty(contacts.FieldTitle, &contact.Title, entry.Title)
	contact.LastSyncAtSeconds = nowSeconds
}

// enrichContact opportunistically fills telephony fields from the
// provisioning service. Fields already set are never touched, and lookup
// faults are logged and swallowed: enrichment never aborts the enclosing
// sync or import.
func enrichContact(enricher Enricher, set *contacts.ChangeSet, contact *contacts.Contact, logger *zap.Logger) {
	if enricher == nil || contact.UID == "" {
		return
	}

	if contact.PIN == "" {
		lookup := enricher.SecretCode(contact.UID)
		switch lookup.Outcome {
		case telephony.OutcomeFound:
			set.FillIfEmpty(contacts.FieldPIN, &contact.PIN, lookup.Code)
		case telephony.OutcomeTransientFault:
			logger.Warn("secret code lookup failed",
				zap.String("uid", contact.UID), zap.Error(lookup.Err))
		case telephony.OutcomeNotFound:
		}
	}

	if contact.MACAddress == "" || contact.PhoneModel == "" {
		lookup := enricher.OwnedDevice(contact.UID)
		switch lookup.Outcome {
		case telephony.OutcomeFound:
			set.FillIfEmpty(contacts.FieldMACAddress, &contact.MACAddress, lookup.Device.MAC)
			set.FillIfEmpty(contacts.FieldPhoneModel, &contact.PhoneModel, lookup.Device.Model)
		case telephony.OutcomeTransientFault:
			logger.Warn("owned device lookup failed",
				zap.String("uid", contact.UID), zap.Error(lookup.Err))
		case telephony.OutcomeNotFound:
		}
	}
}

// clearConflict removes the conflict flag and peer reference.
func clearConflict(set *contacts.ChangeSet, contact *contacts.Contact) {
	set.SetBool(contacts.FieldHasConflict, &contact.HasConflict, false)
	contact.ConflictPeerID = nil
}
