package store

import (
	"context"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

var (
	annotationUpdateColumns = []string{
		"author_id", "kind", "page", "x", "y", "width", "height", "color", "text", "is_deleted",
		"position_ts", "position_origin", "color_ts", "color_origin", "text_ts", "text_origin",
		"deleted_ts", "deleted_origin", "created_ts", "created_origin", "revision", "persisted_at_s",
	}
	commentUpdateColumns = []string{
		"parent_id", "annotation_id", "author_id", "content", "is_resolved", "is_deleted",
		"created_at_s", "updated_at_s", "content_ts", "content_origin", "resolved_ts", "resolved_origin",
		"deleted_ts", "deleted_origin", "created_ts", "created_origin", "revision", "persisted_at_s",
	}
)

// UpsertAnnotation writes the annotation unless a row with an equal or newer
// revision is already stored, so retried or reordered writes never regress.
func (s *Store) UpsertAnnotation(ctx context.Context, annotation document.Annotation) error {
	if s.db == nil {
		return newServiceError(opUpsertAnnotation, reasonMissingDatabase, errMissingDatabase)
	}
	row := annotationToRow(annotation, s.clock().UTC().Unix())
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: fieldDocumentID}, {Name: "annotation_id"}},
		DoUpdates: clause.AssignmentColumns(annotationUpdateColumns),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: AnnotationRow{}.TableName() + ".revision < excluded.revision"},
		}},
	}).Create(&row).Error
	if err != nil {
		s.logError(opUpsertAnnotation, reasonUpsertFailed, err,
			zap.String(fieldDocumentID, row.DocumentID),
			zap.String(fieldEntityID, row.AnnotationID))
		return newServiceError(opUpsertAnnotation, reasonUpsertFailed, err)
	}
	return nil
}

// UpsertComment writes the comment under the same revision rule as
// UpsertAnnotation.
func (s *Store) UpsertComment(ctx context.Context, comment document.Comment) error {
	if s.db == nil {
		return newServiceError(opUpsertComment, reasonMissingDatabase, errMissingDatabase)
	}
	row := commentToRow(comment, s.clock().UTC().Unix())
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: fieldDocumentID}, {Name: "comment_id"}},
		DoUpdates: clause.AssignmentColumns(commentUpdateColumns),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: CommentRow{}.TableName() + ".revision < excluded.revision"},
		}},
	}).Create(&row).Error
	if err != nil {
		s.logError(opUpsertComment, reasonUpsertFailed, err,
			zap.String(fieldDocumentID, row.DocumentID),
			zap.String(fieldEntityID, row.CommentID))
		return newServiceError(opUpsertComment, reasonUpsertFailed, err)
	}
	return nil
}

// LoadDocumentState returns every stored annotation and comment for the
// document. Revision and Clock are the highest values found in the rows.
func (s *Store) LoadDocumentState(ctx context.Context, documentID document.DocumentID) (document.Snapshot, error) {
	snapshot := document.Snapshot{DocumentID: documentID}
	if s.db == nil {
		return snapshot, newServiceError(opLoadDocumentState, reasonMissingDatabase, errMissingDatabase)
	}

	var annotationRows []AnnotationRow
	if err := s.db.WithContext(ctx).
		Where(queryDocumentID, documentID.String()).
		Order("annotation_id ASC").
		Find(&annotationRows).Error; err != nil {
		s.logError(opLoadDocumentState, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID.String()))
		return snapshot, newServiceError(opLoadDocumentState, reasonQueryFailed, err)
	}
	var commentRows []CommentRow
	if err := s.db.WithContext(ctx).
		Where(queryDocumentID, documentID.String()).
		Order("comment_id ASC").
		Find(&commentRows).Error; err != nil {
		s.logError(opLoadDocumentState, reasonQueryFailed, err, zap.String(fieldDocumentID, documentID.String()))
		return snapshot, newServiceError(opLoadDocumentState, reasonQueryFailed, err)
	}

	snapshot.Annotations = make([]document.Annotation, 0, len(annotationRows))
	for _, row := range annotationRows {
		annotation, err := rowToAnnotation(row)
		if err != nil {
			s.logError(opLoadDocumentState, reasonInvalidRecord, err,
				zap.String(fieldDocumentID, row.DocumentID),
				zap.String(fieldEntityID, row.AnnotationID))
			return snapshot, newServiceError(opLoadDocumentState, reasonInvalidRecord, err)
		}
		snapshot.Annotations = append(snapshot.Annotations, annotation)
		snapshot.Revision = max(snapshot.Revision, annotation.Revision)
		snapshot.Clock = max(snapshot.Clock, annotation.Clocks.Max().Timestamp)
	}
	snapshot.Comments = make([]document.Comment, 0, len(commentRows))
	for _, row := range commentRows {
		comment, err := rowToComment(row)
		if err != nil {
			s.logError(opLoadDocumentState, reasonInvalidRecord, err,
				zap.String(fieldDocumentID, row.DocumentID),
				zap.String(fieldEntityID, row.CommentID))
			return snapshot, newServiceError(opLoadDocumentState, reasonInvalidRecord, err)
		}
		snapshot.Comments = append(snapshot.Comments, comment)
		snapshot.Revision = max(snapshot.Revision, comment.Revision)
		snapshot.Clock = max(snapshot.Clock, comment.Clocks.Max().Timestamp)
	}
	return snapshot, nil
}

func annotationToRow(annotation document.Annotation, persistedAt int64) AnnotationRow {
	return AnnotationRow{
		DocumentID:         annotation.DocumentID.String(),
		AnnotationID:       annotation.ID.String(),
		AuthorID:           annotation.Author.String(),
		Kind:               string(annotation.Kind),
		Page:               annotation.Position.Page,
		X:                  annotation.Position.X,
		Y:                  annotation.Position.Y,
		Width:              annotation.Position.Width,
		Height:             annotation.Position.Height,
		Color:              annotation.Color,
		Text:               annotation.Text,
		IsDeleted:          annotation.Deleted,
		CreatedTS:          annotation.Clocks.Created.Timestamp,
		CreatedOrigin:      annotation.Clocks.Created.Origin,
		PositionTS:         annotation.Clocks.Position.Timestamp,
		PositionOrigin:     annotation.Clocks.Position.Origin,
		ColorTS:            annotation.Clocks.Color.Timestamp,
		ColorOrigin:        annotation.Clocks.Color.Origin,
		TextTS:             annotation.Clocks.Text.Timestamp,
		TextOrigin:         annotation.Clocks.Text.Origin,
		DeletedTS:          annotation.Clocks.Deleted.Timestamp,
		DeletedOrigin:      annotation.Clocks.Deleted.Origin,
		Revision:           annotation.Revision,
		PersistedAtSeconds: persistedAt,
	}
}

func rowToAnnotation(row AnnotationRow) (document.Annotation, error) {
	documentID, err := document.NewDocumentID(row.DocumentID)
	if err != nil {
		return document.Annotation{}, err
	}
	annotationID, err := document.NewEntityID(row.AnnotationID)
	if err != nil {
		return document.Annotation{}, err
	}
	kind, err := document.ParseAnnotationKind(row.Kind)
	if err != nil {
		return document.Annotation{}, err
	}
	return document.Annotation{
		ID:         annotationID,
		DocumentID: documentID,
		Author:     document.UserID(row.AuthorID),
		Kind:       kind,
		Position: document.Rect{
			Page:   row.Page,
			X:      row.X,
			Y:      row.Y,
			Width:  row.Width,
			Height: row.Height,
		},
		Color:   row.Color,
		Text:    row.Text,
		Deleted: row.IsDeleted,
		Clocks: document.AnnotationClocks{
			Created:  document.Stamp{Timestamp: row.CreatedTS, Origin: row.CreatedOrigin},
			Position: document.Stamp{Timestamp: row.PositionTS, Origin: row.PositionOrigin},
			Color:    document.Stamp{Timestamp: row.ColorTS, Origin: row.ColorOrigin},
			Text:     document.Stamp{Timestamp: row.TextTS, Origin: row.TextOrigin},
			Deleted:  document.Stamp{Timestamp: row.DeletedTS, Origin: row.DeletedOrigin},
		},
		Revision: row.Revision,
	}, nil
}

func commentToRow(comment document.Comment, persistedAt int64) CommentRow {
	return CommentRow{
		DocumentID:         comment.DocumentID.String(),
		CommentID:          comment.ID.String(),
		ParentID:           comment.ParentID.String(),
		AnnotationID:       comment.AnnotationID.String(),
		AuthorID:           comment.Author.String(),
		Content:            comment.Content,
		IsResolved:         comment.Resolved,
		IsDeleted:          comment.Deleted,
		CreatedAtSeconds:   comment.CreatedAtSeconds,
		UpdatedAtSeconds:   comment.UpdatedAtSeconds,
		CreatedTS:          comment.Clocks.Created.Timestamp,
		CreatedOrigin:      comment.Clocks.Created.Origin,
		ContentTS:          comment.Clocks.Content.Timestamp,
		ContentOrigin:      comment.Clocks.Content.Origin,
		ResolvedTS:         comment.Clocks.Resolved.Timestamp,
		ResolvedOrigin:     comment.Clocks.Resolved.Origin,
		DeletedTS:          comment.Clocks.Deleted.Timestamp,
		DeletedOrigin:      comment.Clocks.Deleted.Origin,
		Revision:           comment.Revision,
		PersistedAtSeconds: persistedAt,
	}
}

func rowToComment(row CommentRow) (document.Comment, error) {
	documentID, err := document.NewDocumentID(row.DocumentID)
	if err != nil {
		return document.Comment{}, err
	}
	commentID, err := document.NewEntityID(row.CommentID)
	if err != nil {
		return document.Comment{}, err
	}
	return document.Comment{
		ID:               commentID,
		DocumentID:       documentID,
		ParentID:         document.EntityID(row.ParentID),
		AnnotationID:     document.EntityID(row.AnnotationID),
		Author:           document.UserID(row.AuthorID),
		Content:          row.Content,
		Resolved:         row.IsResolved,
		Deleted:          row.IsDeleted,
		CreatedAtSeconds: row.CreatedAtSeconds,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
		Clocks: document.CommentClocks{
			Created:  document.Stamp{Timestamp: row.CreatedTS, Origin: row.CreatedOrigin},
			Content:  document.Stamp{Timestamp: row.ContentTS, Origin: row.ContentOrigin},
			Resolved: document.Stamp{Timestamp: row.ResolvedTS, Origin: row.ResolvedOrigin},
			Deleted:  document.Stamp{Timestamp: row.DeletedTS, Origin: row.DeletedOrigin},
		},
		Revision: row.Revision,
	}, nil
}
