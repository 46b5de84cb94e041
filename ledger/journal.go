package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
)

//go:embed schema.sql
var schemaSQL string

// ErrJournalCorrupt is returned when a replayed journal does not form a
// valid hash chain or contains a transaction the machine rejects.
var ErrJournalCorrupt = errors.New("journal corrupt")

// JournalEntry is one committed transaction.
type JournalEntry struct {
	Height      uint64
	TxHash      interfaces.TxHash
	Head        common.Hash
	Tx          federation.Tx
	CommittedAt time.Time
}

// Journal persists committed transactions in height order.
type Journal interface {
	// Append must be durable when it returns nil.
	Append(ctx context.Context, entry JournalEntry) error
	// Replay calls fn for every entry in height order.
	Replay(ctx context.Context, fn func(JournalEntry) error) error
	Close() error
}

// SQLiteJournal stores the journal in a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLiteJournal creates or opens the journal database at path.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply journal schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// Append inserts the entry. Appending the same transaction hash twice is a
// no-op.
func (j *SQLiteJournal) Append(ctx context.Context, entry JournalEntry) error {
	payload, err := json.Marshal(entry.Tx)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO transactions
		(height, tx_hash, head, op, caller, payload, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash) DO NOTHING
	`,
		entry.Height,
		entry.TxHash.String(),
		entry.Head.Hex(),
		string(entry.Tx.Op),
		entry.Tx.Caller.String(),
		string(payload),
		entry.CommittedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Replay(ctx context.Context, fn func(JournalEntry) error) error {
	rows, err := j.db.QueryContext(ctx, `
		SELECT height, tx_hash, head, payload, committed_at
		FROM transactions
		ORDER BY height ASC
	`)
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry       JournalEntry
			txHash      string
			head        string
			payload     string
			committedAt int64
		)
		if err := rows.Scan(&entry.Height, &txHash, &head, &payload, &committedAt); err != nil {
			return fmt.Errorf("replay journal: %w", err)
		}
		if err := entry.TxHash.UnmarshalText([]byte(txHash)); err != nil {
			return fmt.Errorf("%w: height %d: %v", ErrJournalCorrupt, entry.Height, err)
		}
		entry.Head = common.HexToHash(head)
		if err := json.Unmarshal([]byte(payload), &entry.Tx); err != nil {
			return fmt.Errorf("%w: height %d: %v", ErrJournalCorrupt, entry.Height, err)
		}
		entry.CommittedAt = time.UnixMilli(committedAt)

		if err := fn(entry); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (j *SQLiteJournal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}
