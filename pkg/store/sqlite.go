package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/openfroyo/targetd/pkg/engineerr"
	"github.com/openfroyo/targetd/pkg/target"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config configures the SQLite-backed store (the "database_parameters"
// named in §4.1).
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
}

// SQLiteStore is the reference Store implementation: a single SQLite
// file, WAL-mode, with an in-process per-id lock layered on top of the
// database's own transaction to serialize Update calls exactly as
// §4.1/§5 require.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger

	idLocksMu sync.Mutex
	idLocks   map[string]*sync.Mutex
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", path)
}

func Open(cfg Config, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(cfg.Path))
	if err != nil {
		return nil, engineerr.Wrap(engineerr.ConfigError, "open sqlite store", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(1)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	s := &SQLiteStore{db: db, logger: logger.With().Str("component", "store.sqlite").Logger(), idLocks: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	// Deferred-list tokens are process-lifetime only (§9): truncate on
	// every startup so a restarted server never serves stale pages.
	if _, err := db.Exec(`DELETE FROM deferred_queries`); err != nil {
		return nil, engineerr.Wrap(engineerr.ConfigError, "truncate deferred_queries", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return engineerr.Wrap(engineerr.ConfigError, "load embedded migrations", err)
	}
	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return engineerr.Wrap(engineerr.ConfigError, "init migration driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return engineerr.Wrap(engineerr.ConfigError, "init migrator", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return engineerr.Wrap(engineerr.ConfigError, "apply migrations", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func statusClass(t *target.Target) string {
	switch {
	case t.Current().Kind.IsTerminal():
		return "terminal"
	case t.Current().Kind.IsActive():
		return "active"
	default:
		return "passive"
	}
}

func (s *SQLiteStore) lockFor(id string) *sync.Mutex {
	s.idLocksMu.Lock()
	defer s.idLocksMu.Unlock()
	l, ok := s.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.idLocks[id] = l
	}
	return l
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*target.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,name,tags,metadata,dependencies,if_fails,equivalence,condition,build_process,state,product,attempts,fallbacks_fired,version FROM targets WHERE id = ?`, id)
	return scanTarget(row)
}

func scanTarget(row *sql.Row) (*target.Target, error) {
	var (
		t                                                   target.Target
		tags, metadata, deps, iff, cond, bp, state, product sql.NullString
	)
	err := row.Scan(&t.ID, &t.Name, &tags, &metadata, &deps, &iff, &t.Equivalence, &cond, &bp, &state, &product, &t.Attempts, &t.FallbacksFired, &t.Version)
	if err == sql.ErrNoRows {
		return nil, engineerr.New(engineerr.NotFound, "target not found")
	}
	if err != nil {
		return nil, engineerr.Wrap(engineerr.UnixError, "scan target row", err)
	}
	_ = json.Unmarshal([]byte(tags.String), &t.Tags)
	_ = json.Unmarshal([]byte(metadata.String), &t.Metadata)
	_ = json.Unmarshal([]byte(deps.String), &t.Dependencies)
	_ = json.Unmarshal([]byte(iff.String), &t.IfFailsActivate)
	if cond.Valid && cond.String != "" {
		t.Condition = &target.Condition{}
		_ = json.Unmarshal([]byte(cond.String), t.Condition)
	}
	_ = json.Unmarshal([]byte(bp.String), &t.BuildProcess)
	_ = json.Unmarshal([]byte(state.String), &t.State)
	if product.Valid && product.String != "" {
		t.Product = &target.Product{}
		_ = json.Unmarshal([]byte(product.String), t.Product)
	}
	return &t, nil
}

func (s *SQLiteStore) Put(ctx context.Context, t *target.Target) error {
	tags, _ := json.Marshal(t.Tags)
	metadata, _ := json.Marshal(t.Metadata)
	deps, _ := json.Marshal(t.Dependencies)
	iff, _ := json.Marshal(t.IfFailsActivate)
	var cond []byte
	if t.Condition != nil {
		cond, _ = json.Marshal(t.Condition)
	}
	bp, _ := json.Marshal(t.BuildProcess)
	state, _ := json.Marshal(t.State)
	var product []byte
	if t.Product != nil {
		product, _ = json.Marshal(t.Product)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (id,name,tags,metadata,dependencies,if_fails,equivalence,equivalence_key,condition,build_process,state,product,attempts,fallbacks_fired,status_class,version)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, tags=excluded.tags, metadata=excluded.metadata,
			dependencies=excluded.dependencies, if_fails=excluded.if_fails,
			equivalence=excluded.equivalence, equivalence_key=excluded.equivalence_key,
			condition=excluded.condition, build_process=excluded.build_process,
			state=excluded.state, product=excluded.product, attempts=excluded.attempts,
			fallbacks_fired=excluded.fallbacks_fired, status_class=excluded.status_class,
			version=version+1
		WHERE targets.version = ?`,
		t.ID, t.Name, tags, metadata, deps, iff, t.Equivalence, t.EquivalenceKey(), cond, bp, state, product, t.Attempts, t.FallbacksFired, statusClass(t), t.Version, t.Version)
	if err != nil {
		return engineerr.Wrap(engineerr.UnixError, "put target", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 && t.Version != 0 {
		return engineerr.New(engineerr.Conflict, "concurrent writer detected for target "+t.ID)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, f UpdateFunc) (*target.Target, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := f(cur)
	if err != nil {
		return nil, err
	}
	if next == cur {
		return cur, nil
	}
	next.Version = cur.Version
	if err := s.Put(ctx, next); err != nil {
		if engineerr.Of(engineerr.Conflict, err) {
			// Retried once per §7; a second conflict is fatal.
			cur2, gerr := s.Get(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			next2, ferr := f(cur2)
			if ferr != nil {
				return nil, ferr
			}
			next2.Version = cur2.Version
			if perr := s.Put(ctx, next2); perr != nil {
				return nil, engineerr.Wrap(engineerr.Fatal, "repeated store conflict on "+id, perr)
			}
			return next2, nil
		}
		return nil, err
	}
	return next, nil
}

func (s *SQLiteStore) iter(ctx context.Context, classes []string) ([]*target.Target, error) {
	placeholders := ""
	args := make([]any, 0, len(classes))
	for i, c := range classes {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, c)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM targets WHERE status_class IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.UnixError, "iter targets", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, engineerr.Wrap(engineerr.UnixError, "scan id", err)
		}
		ids = append(ids, id)
	}

	out := make([]*target.Target, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *SQLiteStore) IterActive(ctx context.Context) ([]*target.Target, error) {
	return s.iter(ctx, []string{"active"})
}

func (s *SQLiteStore) IterAlive(ctx context.Context) ([]*target.Target, error) {
	return s.iter(ctx, []string{"passive", "active"})
}

func (s *SQLiteStore) IterAll(ctx context.Context) ([]*target.Target, error) {
	return s.iter(ctx, []string{"passive", "active", "terminal"})
}

func (s *SQLiteStore) FindEquivalent(ctx context.Context, candidate *target.Target) (string, bool, error) {
	key := candidate.EquivalenceKey()
	if key == "" {
		return "", false, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT id FROM targets WHERE equivalence_key = ? AND status_class != 'terminal' LIMIT 1`, key)
	var id string
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, engineerr.Wrap(engineerr.UnixError, "find_equivalent", err)
	}
	return id, true, nil
}

// PutDeferred persists a page of target ids under token, backing
// Deferred_list_of_target_ids (§6, §9). Open deletes every stored
// token at startup, matching the "expire on engine restart"
// guarantee.
func (s *SQLiteStore) PutDeferred(ctx context.Context, token string, ids []string) error {
	enc, err := json.Marshal(ids)
	if err != nil {
		return engineerr.Wrap(engineerr.Fatal, "encode deferred ids", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO deferred_queries (token, total, ids, created_at) VALUES (?,?,?,CURRENT_TIMESTAMP)
		ON CONFLICT(token) DO UPDATE SET total=excluded.total, ids=excluded.ids`, token, len(ids), enc)
	if err != nil {
		return engineerr.Wrap(engineerr.UnixError, "put deferred query", err)
	}
	return nil
}

// TakeDeferred reads back a previously stored page. A missing token
// (unknown or expired by restart) reports ok=false so the caller can
// reply Missing_deferred.
func (s *SQLiteStore) TakeDeferred(ctx context.Context, token string) ([]string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT ids FROM deferred_queries WHERE token = ?`, token)
	var raw string
	if err := row.Scan(&raw); err == sql.ErrNoRows {
		return nil, false, nil
	} else if err != nil {
		return nil, false, engineerr.Wrap(engineerr.UnixError, "get deferred query", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, false, engineerr.Wrap(engineerr.Fatal, "decode deferred ids", err)
	}
	return ids, true, nil
}
