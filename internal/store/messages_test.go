package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazelchat/hazelsync/internal/models"
)

func makeMessageRow(t *testing.T, id, channelID, authorID, content string, deletedAt *time.Time) pgx.Row {
	t.Helper()
	return fakeRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*pgtype.UUID)) = mustParseUUID(t, id)
		*(dest[1].(*pgtype.UUID)) = mustParseUUID(t, channelID)
		*(dest[2].(*pgtype.UUID)) = mustParseUUID(t, authorID)
		*(dest[3].(*string)) = content
		*(dest[4].(*pgtype.UUID)) = pgtype.UUID{}
		*(dest[5].(*pgtype.UUID)) = pgtype.UUID{}
		*(dest[6].(*pgtype.Timestamptz)) = pgtype.Timestamptz{Time: time.Unix(100, 0), Valid: true}
		*(dest[7].(*pgtype.Timestamptz)) = pgtype.Timestamptz{Time: time.Unix(200, 0), Valid: true}
		if deletedAt != nil {
			*(dest[8].(*pgtype.Timestamptz)) = pgtype.Timestamptz{Time: *deletedAt, Valid: true}
		} else {
			*(dest[8].(*pgtype.Timestamptz)) = pgtype.Timestamptz{}
		}
		return nil
	}}
}

const (
	testMessageID = "0d4fd18a-39e5-4b53-9431-f3161313c2bb"
	testChannelID = "b3eb841e-3bcb-4c3e-bb9c-cf0f2caffca8"
	testAuthorID  = "7e14e86c-3996-479d-9c9d-389e2b174f7c"
)

func TestFindByIDReturnsSoftDeletedMessage(t *testing.T) {
	deleted := time.Unix(300, 0)
	dbtx := &fakeDBTX{
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			return makeMessageRow(t, testMessageID, testChannelID, testAuthorID, "gone", &deleted)
		},
	}

	msg, err := NewMessageStore(dbtx).FindByID(context.Background(), testMessageID)

	require.NoError(t, err)
	require.NotNil(t, msg.DeletedAt)
	assert.Equal(t, deleted, *msg.DeletedAt)
}

func TestInsertRejectsActorMismatch(t *testing.T) {
	dbtx := &fakeDBTX{
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			t.Fatal("insert should not run")
			return nil
		},
	}

	_, err := NewMessageStore(dbtx).Insert(context.Background(),
		models.Actor{UserID: "someone-else"},
		InsertMessageParams{ChannelID: testChannelID, AuthorID: testAuthorID, Content: "hi"})

	assert.ErrorIs(t, err, ErrActorMismatch)
}

func TestInsertAllowsSystemActor(t *testing.T) {
	dbtx := &fakeDBTX{
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			return makeMessageRow(t, testMessageID, testChannelID, testAuthorID, "hi", nil)
		},
	}

	msg, err := NewMessageStore(dbtx).Insert(context.Background(), models.SystemActor,
		InsertMessageParams{ChannelID: testChannelID, AuthorID: testAuthorID, Content: "hi"})

	require.NoError(t, err)
	assert.Equal(t, testAuthorID, msg.AuthorID)
	assert.Equal(t, "hi", msg.Content)
}

func TestUpdateContentChecksAuthor(t *testing.T) {
	calls := 0
	dbtx := &fakeDBTX{
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			calls++
			return makeMessageRow(t, testMessageID, testChannelID, testAuthorID, "original", nil)
		},
	}

	_, err := NewMessageStore(dbtx).UpdateContent(context.Background(),
		models.Actor{UserID: "someone-else"}, testMessageID, "edited")

	assert.ErrorIs(t, err, ErrActorMismatch)
	assert.Equal(t, 1, calls)
}

func TestFindUnsyncedByChannelOrdersOldestFirst(t *testing.T) {
	var gotSQL string
	var gotArgs []interface{}
	dbtx := &fakeDBTX{
		queryFunc: func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
			gotSQL = sql
			gotArgs = args
			return &fakeRows{}, nil
		},
	}

	linkID := "52ab86be-3202-4ea5-9a1c-44820bd50d02"
	msgs, err := NewMessageStore(dbtx).FindUnsyncedByChannel(context.Background(), testChannelID, linkID, 50)

	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Contains(t, gotSQL, "ORDER BY m.created_at ASC, m.id ASC")
	assert.Contains(t, gotSQL, "NOT EXISTS")
	require.Len(t, gotArgs, 3)
	assert.Equal(t, 50, gotArgs[2])
}
