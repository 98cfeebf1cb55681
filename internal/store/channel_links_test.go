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

const (
	testConnectionID    = "7b0ff400-97f7-4f49-a4f5-0771a2d01f86"
	testLinkID          = "52ab86be-3202-4ea5-9a1c-44820bd50d02"
	testHazelChannel    = "b3eb841e-3bcb-4c3e-bb9c-cf0f2caffca8"
	testOtherLinkID     = "93c41f3e-86a4-4f09-9b8e-5a86caa6a801"
	testOtherConnID     = "d9b59816-2f9a-4e76-9dce-5b0c05c448a6"
	testExternalChannel = "900100200300400500"
)

func makeChannelLinkScan(t *testing.T, id, connID, direction string) func(dest ...any) error {
	t.Helper()
	return func(dest ...any) error {
		*(dest[0].(*pgtype.UUID)) = mustParseUUID(t, id)
		*(dest[1].(*pgtype.UUID)) = mustParseUUID(t, connID)
		*(dest[2].(*pgtype.UUID)) = mustParseUUID(t, testHazelChannel)
		*(dest[3].(*string)) = testExternalChannel
		*(dest[4].(*string)) = direction
		*(dest[5].(*bool)) = true
		*(dest[6].(*pgtype.Timestamptz)) = pgtype.Timestamptz{}
		*(dest[7].(*pgtype.Timestamptz)) = pgtype.Timestamptz{Time: time.Unix(100, 0), Valid: true}
		*(dest[8].(*pgtype.Timestamptz)) = pgtype.Timestamptz{Time: time.Unix(100, 0), Valid: true}
		return nil
	}
}

func TestFindActiveByExternalChannelSpansConnections(t *testing.T) {
	var gotSQL string
	dbtx := &fakeDBTX{
		queryFunc: func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
			gotSQL = sql
			return &fakeRows{scans: []func(dest ...any) error{
				makeChannelLinkScan(t, testLinkID, testConnectionID, string(models.DirectionBoth)),
				makeChannelLinkScan(t, testOtherLinkID, testOtherConnID, string(models.DirectionHazelToExternal)),
			}}, nil
		},
	}

	links, err := NewChannelLinkStore(dbtx).FindActiveByExternalChannel(context.Background(), testExternalChannel)

	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, testConnectionID, links[0].SyncConnectionID)
	assert.Equal(t, testOtherConnID, links[1].SyncConnectionID)
	assert.Contains(t, gotSQL, "is_active")
	assert.NotContains(t, gotSQL, "LIMIT")
}

func TestFindByExternalChannelNotFound(t *testing.T) {
	dbtx := &fakeDBTX{
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			return makeNoRow()
		},
	}

	_, err := NewChannelLinkStore(dbtx).FindByExternalChannel(context.Background(), testConnectionID, testExternalChannel)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindActiveOutboundTargetsJoinsConnections(t *testing.T) {
	var gotSQL string
	var gotArgs []interface{}
	dbtx := &fakeDBTX{
		queryFunc: func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
			gotSQL = sql
			gotArgs = args
			return &fakeRows{}, nil
		},
	}

	targets, err := NewChannelLinkStore(dbtx).FindActiveOutboundTargets(
		context.Background(), testHazelChannel, models.ProviderDiscord)

	require.NoError(t, err)
	assert.Empty(t, targets)
	assert.Contains(t, gotSQL, "JOIN chat_sync_connections")
	require.Len(t, gotArgs, 3)
	assert.Equal(t, string(models.ProviderDiscord), gotArgs[1])
	assert.Equal(t, string(models.ConnectionStatusActive), gotArgs[2])
}
