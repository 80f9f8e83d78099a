package store

import (
	"context"
	"errors"
	"strings"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/access"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ access.PermissionLookup = (*Store)(nil)

// AccessLevel returns the level granted to the user on the document, or
// access.LevelNone when no grant exists.
func (s *Store) AccessLevel(ctx context.Context, userID document.UserID, documentID document.DocumentID) (access.Level, error) {
	if s.db == nil {
		return access.LevelNone, newServiceError(opAccessLevel, reasonMissingDatabase, errMissingDatabase)
	}
	var row PermissionRow
	err := s.db.WithContext(ctx).
		Where(queryUserDocument, userID.String(), documentID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return access.LevelNone, nil
	}
	if err != nil {
		s.logError(opAccessLevel, reasonQueryFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDocumentID, documentID.String()))
		return access.LevelNone, newServiceError(opAccessLevel, reasonQueryFailed, err)
	}
	level, err := access.ParseLevel(strings.ToLower(strings.TrimSpace(row.Level)))
	if err != nil {
		s.logError(opAccessLevel, reasonInvalidLevel, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDocumentID, documentID.String()),
			zap.String("level", row.Level))
		return access.LevelNone, newServiceError(opAccessLevel, reasonInvalidLevel, err)
	}
	return level, nil
}

// Grant records level for the user on the document, replacing any prior grant.
func (s *Store) Grant(ctx context.Context, userID document.UserID, documentID document.DocumentID, level access.Level) error {
	if s.db == nil {
		return newServiceError(opGrantAccess, reasonMissingDatabase, errMissingDatabase)
	}
	if level <= access.LevelNone {
		return newServiceError(opGrantAccess, reasonInvalidLevel, access.ErrInvalidLevel)
	}
	row := PermissionRow{
		UserID:           userID.String(),
		DocumentID:       documentID.String(),
		Level:            level.String(),
		GrantedAtSeconds: s.clock().UTC().Unix(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: fieldUserID}, {Name: fieldDocumentID}},
		DoUpdates: clause.AssignmentColumns([]string{"level", "granted_at_s"}),
	}).Create(&row).Error
	if err != nil {
		s.logError(opGrantAccess, reasonUpsertFailed, err,
			zap.String(fieldUserID, row.UserID),
			zap.String(fieldDocumentID, row.DocumentID))
		return newServiceError(opGrantAccess, reasonUpsertFailed, err)
	}
	return nil
}

// Revoke removes any grant the user holds on the document.
func (s *Store) Revoke(ctx context.Context, userID document.UserID, documentID document.DocumentID) error {
	if s.db == nil {
		return newServiceError(opRevokeAccess, reasonMissingDatabase, errMissingDatabase)
	}
	err := s.db.WithContext(ctx).
		Where(queryUserDocument, userID.String(), documentID.String()).
		Delete(&PermissionRow{}).Error
	if err != nil {
		s.logError(opRevokeAccess, reasonDeleteFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDocumentID, documentID.String()))
		return newServiceError(opRevokeAccess, reasonDeleteFailed, err)
	}
	return nil
}
