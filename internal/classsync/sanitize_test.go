package classsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexigrade/lexigrade-api/internal/models"
)

func TestAuthorJoinUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantErr  bool
		wantID   string
		wantName string
	}{
		{
			name:     "well formed profile",
			payload:  `{"id":"u1","display_name":"Ana"}`,
			wantID:   "u1",
			wantName: "Ana",
		},
		{
			name:    "null join",
			payload: `null`,
			wantErr: true,
		},
		{
			name:    "error marker",
			payload: `{"error":true}`,
			wantErr: true,
		},
		{
			name:    "missing id",
			payload: `{"display_name":"Ana"}`,
			wantErr: true,
		},
		{
			name:    "empty id",
			payload: `{"id":""}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			payload: `"u1"`,
			wantErr: true,
		},
		{
			name:     "missing display name falls back",
			payload:  `{"id":"u1"}`,
			wantID:   "u1",
			wantName: models.UnknownAuthorName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var join AuthorJoin
			err := json.Unmarshal([]byte(tt.payload), &join)
			require.NoError(t, err, "decode must be total")

			if tt.wantErr {
				assert.True(t, join.Err)
				assert.Nil(t, join.Author)
				return
			}
			require.NotNil(t, join.Author)
			assert.Equal(t, tt.wantID, join.Author.ID)
			assert.Equal(t, tt.wantName, join.Author.DisplayName)
		})
	}
}

func TestSanitizePostUnknownAuthorFallback(t *testing.T) {
	var raw RawPost
	err := json.Unmarshal([]byte(`{
		"id": "p1",
		"class_id": "c1",
		"author_id": "u9",
		"author": {"error": true},
		"content": "hola",
		"created_at": "2026-03-01T10:00:00Z"
	}`), &raw)
	require.NoError(t, err)

	post := SanitizePost(raw)

	assert.Equal(t, "p1", post.ID)
	assert.Equal(t, models.Author{ID: "u9", DisplayName: models.UnknownAuthorName}, post.Author)
	assert.NotNil(t, post.Replies, "replies slice must never be nil")
	assert.Empty(t, post.Replies)
}

func TestSanitizePostSortsReplies(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	raw := RawPost{
		ID:       "p1",
		ClassID:  "c1",
		AuthorID: "u1",
		Author:   AuthorJoin{Author: &models.Author{ID: "u1", DisplayName: "Ana"}},
		Replies: []RawReply{
			{ID: "r2", PostID: "p1", AuthorID: "u2", CreatedAt: base.Add(2 * time.Minute)},
			{ID: "r1", PostID: "p1", AuthorID: "u3", CreatedAt: base.Add(time.Minute)},
		},
	}

	post := SanitizePost(raw)

	require.Len(t, post.Replies, 2)
	assert.Equal(t, "r1", post.Replies[0].ID)
	assert.Equal(t, "r2", post.Replies[1].ID)
	// Replies carry the same fallback rule as posts.
	assert.Equal(t, models.UnknownAuthorName, post.Replies[0].Author.DisplayName)
	assert.Equal(t, "u3", post.Replies[0].Author.ID)
}

func TestSanitizeReplyKeepsResolvedAuthor(t *testing.T) {
	reply := SanitizeReply(RawReply{
		ID:       "r1",
		PostID:   "p1",
		AuthorID: "u2",
		Author:   AuthorJoin{Author: &models.Author{ID: "u2", DisplayName: "Marc"}},
		Content:  "bien dit",
	})

	assert.Equal(t, models.Author{ID: "u2", DisplayName: "Marc"}, reply.Author)
}
