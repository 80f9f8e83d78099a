package document

// Snapshot is the full merged state of a document at a room revision.
// Annotations and Comments are ordered by identifier.
type Snapshot struct {
	DocumentID  DocumentID   `json:"documentId"`
	Revision    int64        `json:"revision"`
	Clock       int64        `json:"clock"`
	Annotations []Annotation `json:"annotations"`
	Comments    []Comment    `json:"comments"`
}

// Empty reports whether the snapshot holds no records.
func (snapshot Snapshot) Empty() bool {
	return len(snapshot.Annotations) == 0 && len(snapshot.Comments) == 0
}
