// Package history persists extraction results, one small sqlite database
// per output directory.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// should be usable in the zap log.Named()
const driverName = "history"

// Artifact describes one file produced by an extraction.
type Artifact struct {
	Kind string `json:"kind"` // "text", "image", "cover", "metadata"
	Size int64  `json:"size"`
}

type Connection struct {
	log          *zap.Logger
	conn         *sqlite.Conn
	extractionID int64
}

func Connect(path string, log *zap.Logger) (*Connection, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite)
	if err != nil {
		return nil, err
	}
	err = sqlitex.ExecuteTransient(conn, `PRAGMA foreign_keys = ON;`, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	extractionID, err := lastExtraction(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to read last history extraction value: %w", err)
	}
	return &Connection{log: log.Named(driverName), conn: conn, extractionID: extractionID}, nil
}

func (c *Connection) Disconnect() {
	if c == nil || c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.log.Error("Problems closing history database", zap.Error(err))
	}
	c.conn = nil
}

func (c *Connection) ExtractionID() int64 {
	if c == nil {
		return -1
	}
	return c.extractionID
}

func lastExtraction(conn *sqlite.Conn) (int64, error) {
	var id int64
	if err := sqlitex.Execute(conn, `SELECT extraction_id FROM extractions ORDER BY 1 DESC LIMIT 1;`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			return nil
		},
	}); err != nil {
		return 0, fmt.Errorf("unable to read last history extraction value: %w", err)
	}
	return id, nil
}

func nextExtraction(conn *sqlite.Conn, src, title string) (int64, error) {
	if err := sqlitex.Execute(conn, `INSERT INTO extractions (source, title, created) VALUES (?, ?, ?);`, &sqlitex.ExecOptions{
		Args: []any{src, title, time.Now().UTC().Unix()},
	}); err != nil {
		return 0, fmt.Errorf("unable to create next history extraction: %w", err)
	}
	return lastExtraction(conn)
}

// SaveExtraction records one completed extraction with everything it
// produced in a single transaction.
func (c *Connection) SaveExtraction(src, title string, artifacts map[string]Artifact) (err error) {
	var (
		extractionID = int64(-1)
		endFn        func(*error)
	)

	endFn, err = sqlitex.ImmediateTransaction(c.conn)
	if err != nil {
		return fmt.Errorf("unable to start transaction: %w", err)
	}
	defer func() {
		if err == nil && extractionID > 0 {
			c.extractionID = extractionID
		}
		endFn(&err)
	}()

	extractionID, err = nextExtraction(c.conn, src, title)
	if err != nil {
		return
	}

	for k, v := range artifacts {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("unable to marshal artifact info for '%s': %w", k, err)
		}
		if err := sqlitex.Execute(c.conn, `INSERT INTO artifacts (extraction_id, path, data) VALUES (?, ?, json(?));`, &sqlitex.ExecOptions{
			Args: []any{extractionID, k, string(data)},
		}); err != nil {
			return fmt.Errorf("unable to save artifact '%s' in history: %w", k, err)
		}
	}
	return
}

func extractionArtifacts(conn *sqlite.Conn, extractionID int64) (map[string]Artifact, error) {
	arts := make(map[string]Artifact)
	if extractionID == 0 {
		return arts, nil
	}

	if err := sqlitex.Execute(conn, `SELECT path, data FROM artifacts WHERE extraction_id=?;`, &sqlitex.ExecOptions{
		Args: []any{extractionID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var a Artifact
			path := stmt.ColumnText(0)
			data := stmt.ColumnText(1)
			if err := json.Unmarshal([]byte(data), &a); err != nil {
				return fmt.Errorf("unable to unmarshal artifact info: %w", err)
			}
			arts[path] = a
			return nil
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to retrieve extraction '%d' artifacts from history: %w", extractionID, err)
	}
	return arts, nil
}

// GetArtifacts returns the artifacts of the most recent extraction.
func (c *Connection) GetArtifacts() (map[string]Artifact, error) {
	return extractionArtifacts(c.conn, c.extractionID)
}
