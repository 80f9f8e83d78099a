package store

// AnnotationRow persists the merged state of one annotation, including the
// per-field stamps needed to resume conflict resolution after a restart.
type AnnotationRow struct {
	DocumentID         string  `gorm:"column:document_id;primaryKey;size:190;not null"`
	AnnotationID       string  `gorm:"column:annotation_id;primaryKey;size:190;not null"`
	AuthorID           string  `gorm:"column:author_id;size:190;not null"`
	Kind               string  `gorm:"column:kind;size:32;not null"`
	Page               int     `gorm:"column:page;not null;default:0"`
	X                  float64 `gorm:"column:x;not null;default:0"`
	Y                  float64 `gorm:"column:y;not null;default:0"`
	Width              float64 `gorm:"column:width;not null;default:0"`
	Height             float64 `gorm:"column:height;not null;default:0"`
	Color              string  `gorm:"column:color;size:64;not null;default:''"`
	Text               string  `gorm:"column:text;type:text;not null;default:''"`
	IsDeleted          bool    `gorm:"column:is_deleted;not null;default:false"`
	CreatedTS          int64   `gorm:"column:created_ts;not null;default:0"`
	CreatedOrigin      string  `gorm:"column:created_origin;size:64;not null;default:''"`
	PositionTS         int64   `gorm:"column:position_ts;not null;default:0"`
	PositionOrigin     string  `gorm:"column:position_origin;size:64;not null;default:''"`
	ColorTS            int64   `gorm:"column:color_ts;not null;default:0"`
	ColorOrigin        string  `gorm:"column:color_origin;size:64;not null;default:''"`
	TextTS             int64   `gorm:"column:text_ts;not null;default:0"`
	TextOrigin         string  `gorm:"column:text_origin;size:64;not null;default:''"`
	DeletedTS          int64   `gorm:"column:deleted_ts;not null;default:0"`
	DeletedOrigin      string  `gorm:"column:deleted_origin;size:64;not null;default:''"`
	Revision           int64   `gorm:"column:revision;not null;default:0"`
	PersistedAtSeconds int64   `gorm:"column:persisted_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AnnotationRow) TableName() string {
	return "document_annotations"
}

// CommentRow persists the merged state of one comment.
type CommentRow struct {
	DocumentID         string `gorm:"column:document_id;primaryKey;size:190;not null;index:idx_comments_document_parent,priority:1"`
	CommentID          string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	ParentID           string `gorm:"column:parent_id;size:190;not null;default:'';index:idx_comments_document_parent,priority:2"`
	AnnotationID       string `gorm:"column:annotation_id;size:190;not null;default:''"`
	AuthorID           string `gorm:"column:author_id;size:190;not null"`
	Content            string `gorm:"column:content;type:text;not null;default:''"`
	IsResolved         bool   `gorm:"column:is_resolved;not null;default:false"`
	IsDeleted          bool   `gorm:"column:is_deleted;not null;default:false"`
	CreatedAtSeconds   int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds   int64  `gorm:"column:updated_at_s;not null"`
	CreatedTS          int64  `gorm:"column:created_ts;not null;default:0"`
	CreatedOrigin      string `gorm:"column:created_origin;size:64;not null;default:''"`
	ContentTS          int64  `gorm:"column:content_ts;not null;default:0"`
	ContentOrigin      string `gorm:"column:content_origin;size:64;not null;default:''"`
	ResolvedTS         int64  `gorm:"column:resolved_ts;not null;default:0"`
	ResolvedOrigin     string `gorm:"column:resolved_origin;size:64;not null;default:''"`
	DeletedTS          int64  `gorm:"column:deleted_ts;not null;default:0"`
	DeletedOrigin      string `gorm:"column:deleted_origin;size:64;not null;default:''"`
	Revision           int64  `gorm:"column:revision;not null;default:0"`
	PersistedAtSeconds int64  `gorm:"column:persisted_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CommentRow) TableName() string {
	return "document_comments"
}

// PermissionRow grants a user a level on a document.
type PermissionRow struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null;index"`
	Level            string `gorm:"column:level;size:16;not null"`
	GrantedAtSeconds int64  `gorm:"column:granted_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PermissionRow) TableName() string {
	return "document_permissions"
}
