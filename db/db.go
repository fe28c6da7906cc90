package db

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"redskord/models"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound      = errors.New("no rows found")
	ErrUserExists    = errors.New("user already exists")
	ErrWrongPassword = errors.New("wrong password")
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL COLLATE NOCASE,
			email TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			friend_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (user_id, friend_id)
		)`,
		`CREATE TABLE IF NOT EXISTS friend_requests (
			to_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			from_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (to_id, from_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			text TEXT NOT NULL,
			voice TEXT NOT NULL DEFAULT '',
			voice_duration REAL NOT NULL DEFAULT 0,
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channel_messages (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation)`,
		`CREATE INDEX IF NOT EXISTS idx_friends_user ON friends(user_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_to ON friend_requests(to_id, position)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return db.migrate()
}

// migrate performs auto-migration for columns added after the first release
func (db *DB) migrate() error {
	if !db.columnExists("users", "last_seen") {
		// SQLite doesn't support parameters in ALTER TABLE
		if _, err := db.conn.Exec("ALTER TABLE users ADD COLUMN last_seen TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) columnExists(table, column string) bool {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// User methods

// CreateUser stores a new user with a bcrypt hash of password.
func (db *DB) CreateUser(username, email, password string) (*models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Password:  string(hashed),
		Friends:   []string{},
		Requests:  []string{},
		CreatedAt: time.Now().UTC(),
	}
	_, err = db.conn.Exec(
		"INSERT INTO users (id, username, email, password, created_at) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Username, user.Email, user.Password, user.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// CheckPassword returns the user named username if password matches.
func (db *DB) CheckPassword(username, password string) (*models.User, error) {
	user, err := db.GetUserByName(username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}
	return user, nil
}

func (db *DB) GetUser(id string) (*models.User, error) {
	return db.getUser("SELECT id, username, email, password, created_at, last_seen FROM users WHERE id = ?", id)
}

// GetUserByName looks a user up case-insensitively.
func (db *DB) GetUserByName(username string) (*models.User, error) {
	return db.getUser("SELECT id, username, email, password, created_at, last_seen FROM users WHERE username = ?", username)
}

func (db *DB) getUser(query string, arg string) (*models.User, error) {
	user, err := scanUser(db.conn.QueryRow(query, arg))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if user.Friends, err = db.idList("SELECT friend_id FROM friends WHERE user_id = ? ORDER BY position", user.ID); err != nil {
		return nil, err
	}
	if user.Requests, err = db.idList("SELECT from_id FROM friend_requests WHERE to_id = ? ORDER BY position", user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (db *DB) idList(query, id string) ([]string, error) {
	rows, err := db.conn.Query(query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var created, lastSeen string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &created, &lastSeen); err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if lastSeen != "" {
		u.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	}
	u.Friends = []string{}
	u.Requests = []string{}
	return &u, nil
}

// ListUsers returns every user in registration order, with friend and
// request lists loaded.
func (db *DB) ListUsers() ([]*models.User, error) {
	rows, err := db.conn.Query("SELECT id, username, email, password, created_at, last_seen FROM users ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	byID := make(map[string]*models.User)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
		byID[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.fillEdges("SELECT user_id, friend_id FROM friends ORDER BY user_id, position", byID, func(u *models.User, id string) {
		u.Friends = append(u.Friends, id)
	}); err != nil {
		return nil, err
	}
	if err := db.fillEdges("SELECT to_id, from_id FROM friend_requests ORDER BY to_id, position", byID, func(u *models.User, id string) {
		u.Requests = append(u.Requests, id)
	}); err != nil {
		return nil, err
	}
	return users, nil
}

func (db *DB) fillEdges(query string, byID map[string]*models.User, add func(*models.User, string)) error {
	rows, err := db.conn.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var owner, other string
		if err := rows.Scan(&owner, &other); err != nil {
			return err
		}
		if u, ok := byID[owner]; ok {
			add(u, other)
		}
	}
	return rows.Err()
}

// SaveUsers persists the friend and request lists of every given user in a
// single transaction. Either all users are written or none is.
func (db *DB) SaveUsers(users ...*models.User) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range users {
		res, err := tx.Exec("UPDATE users SET email = ? WHERE id = ?", u.Email, u.ID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}

		if _, err := tx.Exec("DELETE FROM friends WHERE user_id = ?", u.ID); err != nil {
			return err
		}
		for i, id := range u.Friends {
			if _, err := tx.Exec("INSERT INTO friends (user_id, friend_id, position) VALUES (?, ?, ?)", u.ID, id, i); err != nil {
				return err
			}
		}

		if _, err := tx.Exec("DELETE FROM friend_requests WHERE to_id = ?", u.ID); err != nil {
			return err
		}
		for i, id := range u.Requests {
			if _, err := tx.Exec("INSERT INTO friend_requests (to_id, from_id, position) VALUES (?, ?, ?)", u.ID, id, i); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// UpdateLastSeen records when the user was last connected.
func (db *DB) UpdateLastSeen(id string, t time.Time) error {
	_, err := db.conn.Exec("UPDATE users SET last_seen = ? WHERE id = ?", t.UTC().Format(time.RFC3339Nano), id)
	return err
}

// SearchUsers returns up to limit users whose name contains query,
// case-insensitively, excluding excludeID.
func (db *DB) SearchUsers(query, excludeID string, limit int) ([]*models.User, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := db.conn.Query(
		`SELECT id, username, email, password, created_at, last_seen FROM users
		WHERE id != ? AND lower(username) LIKE ? ESCAPE '\'
		ORDER BY username LIMIT ?`,
		excludeID, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Message methods

// AppendMessage stores a private message. ID and Timestamp are filled in when empty.
func (db *DB) AppendMessage(m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_, err := db.conn.Exec(
		`INSERT INTO messages (id, conversation, from_id, to_id, text, voice, voice_duration, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, models.ConversationKey(m.FromUserID, m.ToUserID), m.FromUserID, m.ToUserID,
		m.Text, m.VoiceMessage, m.VoiceDuration, m.Timestamp.Format(time.RFC3339Nano),
	)
	return err
}

// GetConversation returns the messages between a and b in the order they were appended.
func (db *DB) GetConversation(a, b string) ([]models.Message, error) {
	rows, err := db.conn.Query(
		`SELECT id, from_id, to_id, text, voice, voice_duration, timestamp
		FROM messages WHERE conversation = ? ORDER BY rowid`,
		models.ConversationKey(a, b),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		var ts string
		if err := rows.Scan(&m.ID, &m.FromUserID, &m.ToUserID, &m.Text, &m.VoiceMessage, &m.VoiceDuration, &ts); err != nil {
			return nil, err
		}
		if m.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (db *DB) AppendChannelMessage(m *models.ChannelMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_, err := db.conn.Exec(
		"INSERT INTO channel_messages (id, user_id, username, text, timestamp) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.UserID, m.Username, m.Text, m.Timestamp.Format(time.RFC3339Nano),
	)
	return err
}

// GetChannelMessages returns the last limit public messages, oldest first.
func (db *DB) GetChannelMessages(limit int) ([]models.ChannelMessage, error) {
	rows, err := db.conn.Query(
		`SELECT id, user_id, username, text, timestamp FROM (
			SELECT rowid AS seq, id, user_id, username, text, timestamp
			FROM channel_messages ORDER BY rowid DESC LIMIT ?
		) ORDER BY seq`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.ChannelMessage{}
	for rows.Next() {
		var m models.ChannelMessage
		var ts string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Username, &m.Text, &ts); err != nil {
			return nil, err
		}
		if m.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
