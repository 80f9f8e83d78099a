package realtime

import (
	"testing"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/merge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		wantErr bool
		want    MessageType
	}{
		{name: "join", raw: `{"type":"join","roomId":"doc-1"}`, want: MessageJoin},
		{name: "mutate with payload", raw: `{"type":"mutate","payload":{"entity":"comment"}}`, want: MessageMutate},
		{name: "missing type", raw: `{"roomId":"doc-1"}`, wantErr: true},
		{name: "unknown type", raw: `{"type":"teleport"}`, wantErr: true},
		{name: "not json", raw: `join`, wantErr: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			envelope, err := DecodeEnvelope([]byte(testCase.raw))
			if testCase.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindInvalid, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.want, envelope.Type)
		})
	}
}

func TestDecodePayloadValidatesFields(t *testing.T) {
	envelope, err := DecodeEnvelope([]byte(`{"type":"presence","payload":{"viewport":{"page":1,"top":0.8,"bottom":0.2}}}`))
	require.NoError(t, err)
	_, err = DecodePayload[PresencePayload](envelope)
	require.Error(t, err)

	envelope, err = DecodeEnvelope([]byte(`{"type":"mutate","payload":{"entity":"annotation","action":"rename"}}`))
	require.NoError(t, err)
	_, err = DecodePayload[MutatePayload](envelope)
	require.Error(t, err)

	envelope, err = DecodeEnvelope([]byte(`{"type":"join"}`))
	require.NoError(t, err)
	_, err = DecodePayload[JoinPayload](envelope)
	require.NoError(t, err)
}

func TestMutatePayloadMutation(t *testing.T) {
	content := "looks good"
	color := "#ff0000"
	testCases := []struct {
		name    string
		payload MutatePayload
		wantErr bool
		check   func(t *testing.T, mutation merge.Mutation)
	}{
		{
			name: "annotation create",
			payload: MutatePayload{
				Entity:     merge.EntityAnnotation,
				Action:     merge.ActionCreate,
				EntityID:   "a-1",
				Annotation: &AnnotationPayload{Kind: "Shape", Position: &RectPayload{Page: 3, Width: 1, Height: 1}},
			},
			check: func(t *testing.T, mutation merge.Mutation) {
				assert.Equal(t, document.AnnotationKindShape, mutation.Annotation.Kind)
				require.NotNil(t, mutation.Annotation.Position)
				assert.Equal(t, 3, mutation.Annotation.Position.Page)
			},
		},
		{
			name:    "annotation create without kind",
			payload: MutatePayload{Entity: merge.EntityAnnotation, Action: merge.ActionCreate, Annotation: &AnnotationPayload{Color: &color}},
			wantErr: true,
		},
		{
			name:    "update without entity id",
			payload: MutatePayload{Entity: merge.EntityAnnotation, Action: merge.ActionUpdate, Annotation: &AnnotationPayload{Color: &color}},
			wantErr: true,
		},
		{
			name:    "update without fields",
			payload: MutatePayload{Entity: merge.EntityAnnotation, Action: merge.ActionUpdate, EntityID: "a-1", Annotation: &AnnotationPayload{}},
			wantErr: true,
		},
		{
			name:    "comment fields on annotation",
			payload: MutatePayload{Entity: merge.EntityAnnotation, Action: merge.ActionUpdate, EntityID: "a-1", Comment: &CommentPayload{Content: &content}},
			wantErr: true,
		},
		{
			name:    "comment create without content",
			payload: MutatePayload{Entity: merge.EntityComment, Action: merge.ActionCreate, Comment: &CommentPayload{ParentID: "c-1"}},
			wantErr: true,
		},
		{
			name:    "reply create",
			payload: MutatePayload{Entity: merge.EntityComment, Action: merge.ActionCreate, Comment: &CommentPayload{ParentID: "c-1", AnnotationID: "a-1", Content: &content}},
			check: func(t *testing.T, mutation merge.Mutation) {
				assert.Equal(t, document.EntityID("c-1"), mutation.Comment.ParentID)
				assert.Equal(t, document.EntityID("a-1"), mutation.Comment.AnnotationID)
				assert.Empty(t, mutation.EntityID)
			},
		},
		{
			name:    "comment delete",
			payload: MutatePayload{Entity: merge.EntityComment, Action: merge.ActionDelete, EntityID: "c-1", Timestamp: 12},
			check: func(t *testing.T, mutation merge.Mutation) {
				assert.Equal(t, int64(12), mutation.Timestamp)
				assert.Equal(t, merge.ActionDelete, mutation.Action)
			},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			mutation, err := testCase.payload.Mutation()
			if testCase.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindInvalid, KindOf(err))
				return
			}
			require.NoError(t, err)
			testCase.check(t, mutation)
		})
	}
}

func TestEncodeEnvelopeCarriesRevision(t *testing.T) {
	raw, err := EncodeEnvelope(MessageError, testDocumentID, 9, ErrorPayload{Reason: ReasonRoomMismatch, Message: "wrong room"})
	require.NoError(t, err)
	envelope := decodeOutbound(t, raw)
	assert.Equal(t, MessageError, envelope.Type)
	assert.Equal(t, testDocumentID.String(), envelope.RoomID)
	assert.Equal(t, int64(9), envelope.Revision)
	assert.Equal(t, ReasonRoomMismatch, payloadOf[ErrorPayload](t, envelope).Reason)
}
