package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"unison/pkg/models"
)

// SQLite persists room records in a SQLite database. Each room is stored as
// one JSON document next to a few indexed columns. It is safe for concurrent
// use because the underlying *sql.DB is concurrency-safe.
type SQLite struct {
	conn   *sql.DB
	logger *logrus.Logger

	saveRoomStmt   *sql.Stmt
	deleteRoomStmt *sql.Stmt
	loadRoomsStmt  *sql.Stmt
}

// OpenSQLite opens (or creates) the database at dbPath and ensures the rooms
// table exists. Caller should Close() it when finished.
func OpenSQLite(dbPath string, logger *logrus.Logger) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &SQLite{conn: conn, logger: logger}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

func (db *SQLite) createTables() error {
	roomsTable := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_rooms_creator ON rooms(creator_id);",
		"CREATE INDEX IF NOT EXISTS idx_rooms_created ON rooms(created_at);",
	}

	if _, err := db.conn.Exec(roomsTable); err != nil {
		return err
	}
	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}
	return nil
}

func (db *SQLite) prepareStatements() error {
	var err error

	db.saveRoomStmt, err = db.conn.Prepare(`
		INSERT INTO rooms (id, name, creator_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			data = excluded.data,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare save room statement: %w", err)
	}

	db.deleteRoomStmt, err = db.conn.Prepare(`DELETE FROM rooms WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete room statement: %w", err)
	}

	db.loadRoomsStmt, err = db.conn.Prepare(`SELECT id, data FROM rooms ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("failed to prepare load rooms statement: %w", err)
	}

	return nil
}

// SaveRoom inserts or replaces the room record
func (db *SQLite) SaveRoom(room models.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to encode room: %w", err)
	}

	_, err = db.saveRoomStmt.Exec(room.ID, room.Name, room.CreatorID, string(data), room.CreatedAt, room.LastUpdated)
	if err != nil {
		db.logger.WithError(err).WithField("room_id", room.ID).Error("Failed to save room")
		return err
	}
	return nil
}

// DeleteRoom removes the room record. Deleting a missing room is not an error.
func (db *SQLite) DeleteRoom(roomID string) error {
	_, err := db.deleteRoomStmt.Exec(roomID)
	return err
}

// LoadRooms returns every stored room. Rows that cannot be decoded are
// skipped and logged.
func (db *SQLite) LoadRooms() ([]models.Room, error) {
	rows, err := db.loadRoomsStmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}

		var room models.Room
		if err := json.Unmarshal([]byte(data), &room); err != nil {
			db.logger.WithError(err).WithField("room_id", id).Warn("Skipping unreadable room")
			continue
		}
		room.ID = id
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Close closes prepared statements and the database connection
func (db *SQLite) Close() error {
	stmts := []*sql.Stmt{db.saveRoomStmt, db.deleteRoomStmt, db.loadRoomsStmt}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return db.conn.Close()
}

// Ping checks that the database is reachable
func (db *SQLite) Ping() error {
	return db.conn.Ping()
}
