package jitlog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS modules (
	module_id     INTEGER PRIMARY KEY,
	module_name   TEXT NOT NULL,
	assembly_id   INTEGER NOT NULL,
	assembly_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS methods (
	function_id         INTEGER PRIMARY KEY,
	compiled            INTEGER NOT NULL,
	entered             INTEGER NOT NULL,
	module_id           INTEGER,
	method_token        INTEGER,
	declaring_module_id INTEGER,
	declaring_token     INTEGER,
	signature           TEXT,
	name                TEXT
);
CREATE TABLE IF NOT EXISTS type_args (
	function_id INTEGER NOT NULL,
	owner       TEXT NOT NULL,
	node        INTEGER NOT NULL,
	parent      INTEGER,
	depth       INTEGER NOT NULL,
	position    INTEGER NOT NULL,
	module_id   INTEGER NOT NULL,
	type_def    INTEGER NOT NULL,
	PRIMARY KEY (function_id, node)
);
`

// OpenDB opens or creates the SQLite database at path.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

type ExportStats struct {
	Modules  int
	Methods  int
	TypeArgs int
}

// sqlite integers are signed; identifiers keep their bit pattern.
func sqlInt(v uint64) int64 { return int64(v) }

// Export replaces the content of db with l in a single transaction.
func Export(ctx context.Context, db *sql.DB, l *Log) (ExportStats, error) {
	var stats ExportStats
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return stats, fmt.Errorf("create schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"modules", "methods", "type_args"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return stats, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	w := exporter{ctx: ctx, tx: tx}
	if err = w.prepare(); err != nil {
		return stats, err
	}
	defer w.close()

	for _, id := range sortedKeys(l.Modules) {
		m := l.Modules[id]
		if _, err = w.module.ExecContext(ctx, sqlInt(m.ModuleID), m.ModuleName, sqlInt(m.AssemblyID), m.AssemblyName); err != nil {
			return stats, fmt.Errorf("insert module 0x%X: %w", id, err)
		}
		stats.Modules++
	}

	signatures := make(map[uint64]string)
	methods, _ := l.Methods()
	for _, m := range methods {
		signatures[m.FunctionID] = m.String()
	}
	compiled := make(map[uint64]bool, len(l.Compiled))
	for _, id := range l.Compiled {
		compiled[id] = true
		if _, ok := l.Entries[id]; ok {
			continue
		}
		if _, err = w.method.ExecContext(ctx, sqlInt(id), true, false, nil, nil, nil, nil, nil, l.name(id)); err != nil {
			return stats, fmt.Errorf("insert method 0x%X: %w", id, err)
		}
		stats.Methods++
	}
	for _, id := range sortedKeys(l.Entries) {
		e := l.Entries[id]
		var sig sql.NullString
		if s, ok := signatures[id]; ok {
			sig = sql.NullString{String: s, Valid: true}
		}
		_, err = w.method.ExecContext(ctx, sqlInt(id), compiled[id], true,
			sqlInt(e.ModuleID), e.MethodToken, sqlInt(e.DeclaringTypeModuleID), e.DeclaringTypeToken, sig, l.name(id))
		if err != nil {
			return stats, fmt.Errorf("insert method 0x%X: %w", id, err)
		}
		stats.Methods++

		w.node = 0
		for _, o := range []struct {
			owner string
			args  []TypeArg
		}{{"declaring", e.DeclaringTypeArgs}, {"method", e.MethodTypeArgs}} {
			n, err := w.typeArgs(id, o.owner, sql.NullInt64{}, 0, o.args)
			if err != nil {
				return stats, err
			}
			stats.TypeArgs += n
		}
	}
	return stats, tx.Commit()
}

func (l *Log) name(id uint64) sql.NullString {
	name, ok := l.Names[id]
	return sql.NullString{String: name, Valid: ok}
}

type exporter struct {
	ctx context.Context
	tx  *sql.Tx

	module  *sql.Stmt
	method  *sql.Stmt
	typeArg *sql.Stmt

	node int64
}

func (w *exporter) prepare() (err error) {
	if w.module, err = w.tx.PrepareContext(w.ctx,
		"INSERT INTO modules VALUES (?, ?, ?, ?)"); err != nil {
		return err
	}
	if w.method, err = w.tx.PrepareContext(w.ctx,
		"INSERT INTO methods VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"); err != nil {
		return err
	}
	w.typeArg, err = w.tx.PrepareContext(w.ctx,
		"INSERT INTO type_args VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	return err
}

func (w *exporter) close() {
	for _, s := range []*sql.Stmt{w.module, w.method, w.typeArg} {
		if s != nil {
			_ = s.Close()
		}
	}
}

func (w *exporter) typeArgs(fn uint64, owner string, parent sql.NullInt64, depth int, args []TypeArg) (int, error) {
	total := 0
	for pos, a := range args {
		w.node++
		node := w.node
		_, err := w.typeArg.ExecContext(w.ctx, sqlInt(fn), owner, node, parent, depth, pos, sqlInt(a.ModuleID), a.TypeDef)
		if err != nil {
			return total, fmt.Errorf("insert type argument of 0x%X: %w", fn, err)
		}
		n, err := w.typeArgs(fn, owner, sql.NullInt64{Int64: node, Valid: true}, depth+1, a.Nested)
		total += n + 1
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
