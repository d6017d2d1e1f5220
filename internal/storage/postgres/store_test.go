package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewWithPool(nil)
	require.Error(t, err)
}

func TestNextSourceToCheck(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	checked := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(q("ORDER BY last_update_check ASC NULLS FIRST")).
		WillReturnRows(pgxmock.NewRows([]string{"username", "last_post_id", "last_update_check"}).
			AddRow("news", int64(40), &checked))

	src, ok, err := store.NextSourceToCheck(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "news", src.Username)
	assert.Equal(t, int64(40), src.LastPostID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextSourceToCheckEmpty(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(q("FROM source_channel")).WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.NextSourceToCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatermark(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(q("SELECT GREATEST(sc.last_post_id")).
		WithArgs("news").
		WillReturnRows(pgxmock.NewRows([]string{"greatest"}).AddRow(int64(120)))
	mock.ExpectQuery(q("SELECT GREATEST(sc.last_post_id")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	wm, err := store.Watermark(context.Background(), "@news")
	require.NoError(t, err)
	assert.Equal(t, int64(120), wm)

	_, err = store.Watermark(context.Background(), "missing")
	assert.ErrorIs(t, err, relay.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveNewPostsAdvancesWatermarkInTx(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	posts := []relay.Post{
		{ID: 12, Text: "with photo", CreatedAt: created, Media: []relay.Media{{Kind: relay.MediaImage, URL: "https://cdn/1.jpg"}}},
		{ID: 11, Text: "already stored", CreatedAt: created},
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO post")).
		WithArgs(int64(12), "news", pgxmock.AnyArg(), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q("INSERT INTO media")).
		WithArgs(int64(12), "news", 0, "image", "https://cdn/1.jpg").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q("INSERT INTO post")).
		WithArgs(int64(11), "news", pgxmock.AnyArg(), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(q("SET last_post_id = GREATEST(last_post_id, $2)")).
		WithArgs("news", int64(12)).
		WillReturnRows(pgxmock.NewRows([]string{"last_post_id"}).AddRow(int64(12)))
	mock.ExpectCommit()

	wm, err := store.SaveNewPosts(context.Background(), "news", posts)
	require.NoError(t, err)
	assert.Equal(t, int64(12), wm)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveNewPostsRollsBackOnError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO post")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.SaveNewPosts(context.Background(), "news", []relay.Post{{ID: 1, Text: "x"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPostOnlyTouchesUnmarked(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(q("AND mark IS NULL")).
		WithArgs(int64(5), "news", "used").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q("AND mark IS NULL")).
		WithArgs(int64(5), "news", "used").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	changed, err := store.MarkPost(context.Background(), 5, "news", relay.MarkUsed)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.MarkPost(context.Background(), 5, "news", relay.MarkUsed)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = store.MarkPost(context.Background(), 5, "news", relay.MarkNone)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSourceAndTarget(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	link := "https://t.me/+abc"
	mock.ExpectExec(q("UPDATE source_channel SET last_update_check = $2 WHERE username = $1")).
		WithArgs("news", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q("UPDATE target_channel SET invite_link = $2 WHERE id = $1")).
		WithArgs(int64(-1001), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.UpdateSource(context.Background(), "news", relay.SourcePatch{LastCheck: &now}))
	err := store.UpdateTarget(context.Background(), -1001, relay.TargetPatch{InviteLink: &link})
	assert.ErrorIs(t, err, relay.ErrNotFound)

	// An empty patch touches nothing.
	require.NoError(t, store.UpdateSource(context.Background(), "news", relay.SourcePatch{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSourceCascades(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM media")).WithArgs("news").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(q("DELETE FROM post")).WithArgs("news").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(q("DELETE FROM donor")).WithArgs("news").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(q("DELETE FROM source_channel")).WithArgs("news").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteSource(context.Background(), "@news"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTargetMissing(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM donor WHERE channel_id")).WithArgs(int64(9)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(q("DELETE FROM target_channel")).WithArgs(int64(9)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := store.DeleteTarget(context.Background(), 9)
	assert.ErrorIs(t, err, relay.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPostsWithMedia(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q("FROM post WHERE channel_username = $1 AND mark IS NULL ORDER BY created_at DESC, id DESC LIMIT $2")).
		WithArgs("news", 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "channel_username", "text", "created_at", "mark"}).
			AddRow(int64(7), "news", "seven", created, "").
			AddRow(int64(6), "news", "six", created.Add(-time.Hour), ""))
	mock.ExpectQuery(q("FROM media")).
		WithArgs([]int64{7, 6}, []string{"news", "news"}).
		WillReturnRows(pgxmock.NewRows([]string{"post_id", "post_channel_username", "kind", "url"}).
			AddRow(int64(6), "news", "video", "https://cdn/6.mp4"))

	posts, err := store.ListPosts(context.Background(), relay.PostFilter{Source: "news", Limit: 20, Unmarked: true})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Empty(t, posts[0].Media)
	assert.Equal(t, []relay.Media{{Kind: relay.MediaVideo, URL: "https://cdn/6.mp4"}}, posts[1].Media)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPostsByMarkAscending(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	after := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q("WHERE mark = $1 AND created_at >= $2 ORDER BY created_at ASC, id ASC LIMIT $3")).
		WithArgs("ad", after, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "channel_username", "text", "created_at", "mark"}))

	posts, err := store.ListPosts(context.Background(), relay.PostFilter{Mark: relay.MarkAd, Order: relay.OrderAsc, CreatedAfter: &after})
	require.NoError(t, err)
	assert.NotNil(t, posts)
	assert.Empty(t, posts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTargetsAndDonors(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(q("FROM target_channel ORDER BY id")).
		WillReturnRows(pgxmock.NewRows([]string{"id", "invite_link"}).AddRow(int64(-1001), "").AddRow(int64(-1002), "https://t.me/+x"))
	mock.ExpectQuery(q("SELECT username FROM donor")).
		WithArgs(int64(-1001)).
		WillReturnRows(pgxmock.NewRows([]string{"username"}).AddRow("alpha").AddRow("beta"))
	mock.ExpectExec(q("INSERT INTO donor")).
		WithArgs("gamma", int64(-1001)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	targets, err := store.ListTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "https://t.me/+x", targets[1].InviteLink)

	donors, err := store.Donors(context.Background(), -1001)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, donors)

	require.NoError(t, store.AddDonor(context.Background(), relay.Donor{Username: "@gamma", TargetID: -1001}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
