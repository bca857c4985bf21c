package history

import (
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"demobi/state"
)

// RunList implements the "history" command: details for every history
// database found in the configured directory.
func RunList(ctx *cli.Context) error {
	env := ctx.Generic(state.FlagName).(*state.LocalEnv)
	log := env.Log.Named(driverName)

	entries, err := os.ReadDir(env.Cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("unable to read history directory '%s': %w", env.Cfg.HistoryPath, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) != ".db" {
			continue
		}
		err := report(filepath.Join(env.Cfg.HistoryPath, e.Name()), log)
		if err != nil {
			log.Error("Unable to report history", zap.String("path", filepath.Join(env.Cfg.HistoryPath, e.Name())), zap.Error(err))
		}
	}
	return nil
}

func report(dbpath string, log *zap.Logger) error {
	conn, err := sqlite.OpenConn(dbpath, sqlite.OpenReadOnly)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = sqlitex.ExecuteTransient(conn, `PRAGMA foreign_keys = ON;`, nil)
	if err != nil {
		return err
	}

	var values []string
	if err := sqlitex.Execute(conn, `SELECT value FROM identifiers;`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			values = append(values, stmt.ColumnText(0))
			return nil
		},
	}); err != nil {
		return fmt.Errorf("unable to read history identifiers: %w", err)
	}

	var books []string
	if err := sqlitex.Execute(conn, `SELECT title FROM extractions ORDER BY extraction_id;`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			books = append(books, stmt.ColumnText(0))
			return nil
		},
	}); err != nil {
		return fmt.Errorf("unable to read history extractions: %w", err)
	}

	id, err := lastExtraction(conn)
	if err != nil {
		return fmt.Errorf("unable to read history last extraction: %w", err)
	}

	log.Info("Report", zap.String("path", dbpath), zap.Int64("last extraction", id), zap.Strings("identifiers", values), zap.Strings("books", books))
	return nil
}
