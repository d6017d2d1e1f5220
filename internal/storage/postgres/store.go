// Package postgres implements the relay store on Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/channel-relay/internal/relay"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements relay.Store.
type Store struct {
	pool pool
}

var _ relay.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: p}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// NextSourceToCheck returns the source checked longest ago, never-checked first.
func (s *Store) NextSourceToCheck(ctx context.Context) (relay.SourceChannel, bool, error) {
	var src relay.SourceChannel
	err := s.pool.QueryRow(ctx, `
		SELECT username, last_post_id, last_update_check
		FROM source_channel
		ORDER BY last_update_check ASC NULLS FIRST, username
		LIMIT 1`,
	).Scan(&src.Username, &src.LastPostID, &src.LastCheck)
	if errors.Is(err, pgx.ErrNoRows) {
		return relay.SourceChannel{}, false, nil
	}
	if err != nil {
		return relay.SourceChannel{}, false, fmt.Errorf("select next source: %w", err)
	}
	return src, true, nil
}

// Watermark returns the highest known post id for a source.
func (s *Store) Watermark(ctx context.Context, username string) (int64, error) {
	var wm int64
	err := s.pool.QueryRow(ctx, `
		SELECT GREATEST(sc.last_post_id, COALESCE((SELECT MAX(p.id) FROM post p WHERE p.channel_username = sc.username), 0))
		FROM source_channel sc
		WHERE sc.username = $1`,
		relay.NormalizeHandle(username),
	).Scan(&wm)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("source %q: %w", username, relay.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	return wm, nil
}

// SaveNewPosts inserts posts with their media and advances the watermark in
// one transaction. Posts already stored are left untouched.
func (s *Store) SaveNewPosts(ctx context.Context, username string, posts []relay.Post) (int64, error) {
	handle := relay.NormalizeHandle(username)
	var wm int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var maxID int64
		for _, p := range posts {
			if p.ID > maxID {
				maxID = p.ID
			}
			tag, err := tx.Exec(ctx, `
				INSERT INTO post (id, channel_username, text, created_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id, channel_username) DO NOTHING`,
				p.ID, handle, nullable(p.Text), p.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert post %d: %w", p.ID, err)
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			for i, m := range p.Media {
				_, err := tx.Exec(ctx, `
					INSERT INTO media (post_id, post_channel_username, position, kind, url)
					VALUES ($1, $2, $3, $4, $5)`,
					p.ID, handle, i, string(m.Kind), m.URL,
				)
				if err != nil {
					return fmt.Errorf("insert media for post %d: %w", p.ID, err)
				}
			}
		}
		err := tx.QueryRow(ctx, `
			UPDATE source_channel
			SET last_post_id = GREATEST(last_post_id, $2)
			WHERE username = $1
			RETURNING last_post_id`,
			handle, maxID,
		).Scan(&wm)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("source %q: %w", handle, relay.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return wm, nil
}

// UpdateSource applies the set fields of patch.
func (s *Store) UpdateSource(ctx context.Context, username string, patch relay.SourcePatch) error {
	var u update
	if patch.LastCheck != nil {
		u.set("last_update_check", *patch.LastCheck)
	}
	return s.applyUpdate(ctx, "source_channel", "username", relay.NormalizeHandle(username), u)
}

// UpdateTarget applies the set fields of patch.
func (s *Store) UpdateTarget(ctx context.Context, id int64, patch relay.TargetPatch) error {
	var u update
	if patch.InviteLink != nil {
		u.set("invite_link", nullable(*patch.InviteLink))
	}
	return s.applyUpdate(ctx, "target_channel", "id", id, u)
}

// MarkPost sets a terminal mark on an unmarked post. It reports whether the
// row changed; an already marked or unknown post is not an error.
func (s *Store) MarkPost(ctx context.Context, postID int64, source string, mark relay.Mark) (bool, error) {
	if !mark.Terminal() {
		return false, fmt.Errorf("invalid mark %q", mark)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE post SET mark = $3
		WHERE id = $1 AND channel_username = $2 AND mark IS NULL`,
		postID, relay.NormalizeHandle(source), string(mark),
	)
	if err != nil {
		return false, fmt.Errorf("mark post: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPosts answers read-surface queries with nested media.
func (s *Store) ListPosts(ctx context.Context, f relay.PostFilter) ([]relay.Post, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Source != "" {
		where = append(where, "channel_username = "+arg(relay.NormalizeHandle(f.Source)))
	}
	switch {
	case f.Mark != relay.MarkNone:
		where = append(where, "mark = "+arg(string(f.Mark)))
	case f.Unmarked:
		where = append(where, "mark IS NULL")
	}
	if f.CreatedAfter != nil {
		where = append(where, "created_at >= "+arg(*f.CreatedAfter))
	}
	order := "DESC"
	if f.Order == relay.OrderAsc {
		order = "ASC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, channel_username, COALESCE(text, ''), created_at, COALESCE(mark, '') FROM post`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&sb, " ORDER BY created_at %s, id %s LIMIT %s", order, order, arg(limit))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []relay.Post
	for rows.Next() {
		var (
			p    relay.Post
			mark string
		)
		if err := rows.Scan(&p.ID, &p.Source, &p.Text, &p.CreatedAt, &mark); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		p.Mark = relay.Mark(mark)
		p.Media = []relay.Media{}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	if len(posts) == 0 {
		return []relay.Post{}, nil
	}
	if err := s.attachMedia(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *Store) attachMedia(ctx context.Context, posts []relay.Post) error {
	type key struct {
		id     int64
		source string
	}
	index := make(map[key]int, len(posts))
	ids := make([]int64, 0, len(posts))
	sources := make([]string, 0, len(posts))
	for i, p := range posts {
		index[key{p.ID, p.Source}] = i
		ids = append(ids, p.ID)
		sources = append(sources, p.Source)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT post_id, post_channel_username, kind, url
		FROM media
		WHERE post_id = ANY($1) AND post_channel_username = ANY($2)
		ORDER BY post_channel_username, post_id, position`,
		ids, sources,
	)
	if err != nil {
		return fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k    key
			kind string
			url  string
		)
		if err := rows.Scan(&k.id, &k.source, &kind, &url); err != nil {
			return fmt.Errorf("scan media: %w", err)
		}
		if i, ok := index[k]; ok {
			posts[i].Media = append(posts[i].Media, relay.Media{Kind: relay.MediaKind(kind), URL: url})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate media: %w", err)
	}
	return nil
}

// AddSource registers a source channel; existing sources are kept as is.
func (s *Store) AddSource(ctx context.Context, username string) error {
	handle := relay.NormalizeHandle(username)
	if handle == "" {
		return errors.New("username is required")
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO source_channel (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, handle,
	); err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// DeleteSource removes a source with its posts, media and donor mappings.
func (s *Store) DeleteSource(ctx context.Context, username string) error {
	handle := relay.NormalizeHandle(username)
	return s.inTx(ctx, func(tx pgx.Tx) error {
		steps := []string{
			`DELETE FROM media WHERE post_channel_username = $1`,
			`DELETE FROM post WHERE channel_username = $1`,
			`DELETE FROM donor WHERE username = $1`,
		}
		for _, stmt := range steps {
			if _, err := tx.Exec(ctx, stmt, handle); err != nil {
				return fmt.Errorf("delete source dependents: %w", err)
			}
		}
		tag, err := tx.Exec(ctx, `DELETE FROM source_channel WHERE username = $1`, handle)
		if err != nil {
			return fmt.Errorf("delete source: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("source %q: %w", handle, relay.ErrNotFound)
		}
		return nil
	})
}

// ListSources returns every source ordered by handle.
func (s *Store) ListSources(ctx context.Context) ([]relay.SourceChannel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username, last_post_id, last_update_check FROM source_channel ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()
	var out []relay.SourceChannel
	for rows.Next() {
		var src relay.SourceChannel
		if err := rows.Scan(&src.Username, &src.LastPostID, &src.LastCheck); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// AddTarget registers a target channel.
func (s *Store) AddTarget(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO target_channel (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id,
	); err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

// DeleteTarget removes a target with its donor mappings.
func (s *Store) DeleteTarget(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM donor WHERE channel_id = $1`, id); err != nil {
			return fmt.Errorf("delete donors: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM target_channel WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete target: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("target %d: %w", id, relay.ErrNotFound)
		}
		return nil
	})
}

// AddDonor subscribes a target to a source.
func (s *Store) AddDonor(ctx context.Context, d relay.Donor) error {
	handle := relay.NormalizeHandle(d.Username)
	if handle == "" {
		return errors.New("donor username is required")
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO donor (username, channel_id) VALUES ($1, $2) ON CONFLICT (username, channel_id) DO NOTHING`,
		handle, d.TargetID,
	); err != nil {
		return fmt.Errorf("insert donor: %w", err)
	}
	return nil
}

// RemoveDonor unsubscribes a target from a source.
func (s *Store) RemoveDonor(ctx context.Context, d relay.Donor) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM donor WHERE username = $1 AND channel_id = $2`,
		relay.NormalizeHandle(d.Username), d.TargetID,
	)
	if err != nil {
		return fmt.Errorf("delete donor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("donor %s -> %d: %w", d.Username, d.TargetID, relay.ErrNotFound)
	}
	return nil
}

// ListTargets returns every target channel ordered by id.
func (s *Store) ListTargets(ctx context.Context) ([]relay.TargetChannel, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, COALESCE(invite_link, '') FROM target_channel ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()
	var out []relay.TargetChannel
	for rows.Next() {
		var t relay.TargetChannel
		if err := rows.Scan(&t.ID, &t.InviteLink); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return out, nil
}

// Donors returns the source handles feeding a target.
func (s *Store) Donors(ctx context.Context, targetID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM donor WHERE channel_id = $1 ORDER BY username`, targetID)
	if err != nil {
		return nil, fmt.Errorf("query donors: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan donor: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate donors: %w", err)
	}
	return out, nil
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// update collects column assignments from a typed patch.
type update struct {
	cols []string
	vals []any
}

func (u *update) set(col string, v any) {
	u.cols = append(u.cols, col)
	u.vals = append(u.vals, v)
}

func (s *Store) applyUpdate(ctx context.Context, table, keyCol string, key any, u update) error {
	if len(u.cols) == 0 {
		return nil
	}
	sets := make([]string, len(u.cols))
	for i, c := range u.cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+2)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1", table, strings.Join(sets, ", "), keyCol)
	tag, err := s.pool.Exec(ctx, sql, append([]any{key}, u.vals...)...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %v: %w", table, key, relay.ErrNotFound)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
