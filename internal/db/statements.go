package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Statement is one chat statement from a game server's rolling log.
type Statement struct {
	StatementID int
	Timestamp   int64
	CharacterID int
	Channel     string
	Text        string
}

// StatementReported reports whether the statement is already the subject
// of a report.
func (d *DB) StatementReported(ctx context.Context, worldID int, timestamp int64, statementID int) (bool, error) {
	row, err := d.queryRow(ctx,
		"SELECT 1 FROM ReportedStatements WHERE WorldID = ?1 AND Timestamp = ?2 AND StatementID = ?3",
		worldID, timestamp, statementID)
	if err != nil {
		return false, err
	}
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("getting reported statement: %w", err)
	}
	return true, nil
}

// InsertStatements archives the context statements of a report. Entries
// with a zero statement id are padding and skipped; duplicates from
// overlapping reports are ignored.
func (d *DB) InsertStatements(ctx context.Context, worldID int, statements []Statement) error {
	for _, s := range statements {
		if s.StatementID == 0 {
			continue
		}
		_, err := d.exec(ctx,
			"INSERT OR IGNORE INTO Statements (WorldID, Timestamp, StatementID, CharacterID,"+
				" Channel, Text) VALUES (?1, ?2, ?3, ?4, ?5, ?6)",
			worldID, s.Timestamp, s.StatementID, s.CharacterID, s.Channel, s.Text)
		if err != nil {
			return fmt.Errorf("inserting statement: %w", err)
		}
	}
	return nil
}

// InsertReportedStatement marks one archived statement as the subject of a
// report.
func (d *DB) InsertReportedStatement(ctx context.Context, worldID int, reported Statement,
	banishmentID, reporterID int, reason, comment string) error {
	_, err := d.exec(ctx,
		"INSERT INTO ReportedStatements (WorldID, Timestamp, StatementID, CharacterID,"+
			" BanishmentID, ReporterID, Reason, Comment) VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)",
		worldID, reported.Timestamp, reported.StatementID, reported.CharacterID,
		banishmentID, reporterID, reason, comment)
	if err != nil {
		return fmt.Errorf("inserting reported statement: %w", err)
	}
	return nil
}
