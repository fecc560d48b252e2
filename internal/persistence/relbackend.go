package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"
)

// RelationalRepository is the database/sql-backed PlayerRepository
// backend spec.md §4.6 calls the "relational backend", generalized from
// the teacher's internal/database.Initialize (which only ever opened
// SQLite and left initializePostgreSQL as a TODO stub) into one
// dialect-agnostic implementation driven by cfg.Persistence.Driver.
type RelationalRepository struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
}

// NewRelationalRepository opens driver ("sqlite" or "postgres") against
// dsn and ensures the players table exists.
func NewRelationalRepository(driver, dsn string) (*RelationalRepository, error) {
	var sqlDriverName string
	switch driver {
	case "sqlite":
		sqlDriverName = "sqlite3"
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("persistence: creating %s: %w", dir, err)
			}
		}
	case "postgres":
		sqlDriverName = "postgres"
	default:
		return nil, fmt.Errorf("persistence: unsupported driver %q", driver)
	}

	db, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: opening %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("persistence: pinging %s: %w", driver, err)
	}

	repo := &RelationalRepository{db: db, dialect: driver}
	if err := repo.ensureSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *RelationalRepository) ensureSchema() error {
	var ddl string
	if r.dialect == "postgres" {
		ddl = `CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			room_id TEXT NOT NULL,
			hp INTEGER NOT NULL, max_hp INTEGER NOT NULL,
			mana INTEGER NOT NULL, max_mana INTEGER NOT NULL,
			level INTEGER NOT NULL, xp_total INTEGER NOT NULL,
			constitution INTEGER NOT NULL, dexterity INTEGER NOT NULL,
			is_staff BOOLEAN NOT NULL DEFAULT false,
			mfa_secret TEXT NOT NULL DEFAULT '',
			builder_keys TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL, updated_at TIMESTAMP NOT NULL
		)`
	} else {
		ddl = `CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			room_id TEXT NOT NULL,
			hp INTEGER NOT NULL, max_hp INTEGER NOT NULL,
			mana INTEGER NOT NULL, max_mana INTEGER NOT NULL,
			level INTEGER NOT NULL, xp_total INTEGER NOT NULL,
			constitution INTEGER NOT NULL, dexterity INTEGER NOT NULL,
			is_staff INTEGER NOT NULL DEFAULT 0,
			mfa_secret TEXT NOT NULL DEFAULT '',
			builder_keys TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL
		)`
	}
	_, err := r.db.Exec(ddl)
	return err
}

// placeholder returns the n-th bind placeholder for the active dialect
// ($1, $2, ... for postgres; ? for sqlite).
func (r *RelationalRepository) placeholder(n int) string {
	if r.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (r *RelationalRepository) scanRow(row *sql.Row) (PlayerRecord, bool, error) {
	var rec PlayerRecord
	var builderKeys string
	err := row.Scan(&rec.ID, &rec.Name, &rec.PasswordHash, &rec.RoomID,
		&rec.HP, &rec.MaxHP, &rec.Mana, &rec.MaxMana,
		&rec.Level, &rec.XPTotal, &rec.Constitution, &rec.Dexterity,
		&rec.IsStaff, &rec.MFASecret, &builderKeys, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return PlayerRecord{}, false, nil
	}
	if err != nil {
		return PlayerRecord{}, false, err
	}
	rec.BuilderKeys = splitBuilderKeys(builderKeys)
	return rec, true, nil
}

func (r *RelationalRepository) FindByID(id string) (PlayerRecord, bool, error) {
	q := fmt.Sprintf(`SELECT id, name, password_hash, room_id, hp, max_hp, mana, max_mana, level, xp_total, constitution, dexterity, is_staff, mfa_secret, builder_keys, created_at, updated_at FROM players WHERE id = %s`, r.placeholder(1))
	return r.scanRow(r.db.QueryRow(q, id))
}

func (r *RelationalRepository) FindByName(name string) (PlayerRecord, bool, error) {
	return r.FindByNameLower(strings.ToLower(name))
}

func (r *RelationalRepository) FindByNameLower(nameLower string) (PlayerRecord, bool, error) {
	q := fmt.Sprintf(`SELECT id, name, password_hash, room_id, hp, max_hp, mana, max_mana, level, xp_total, constitution, dexterity, is_staff, mfa_secret, builder_keys, created_at, updated_at FROM players WHERE lower(name) = %s`, r.placeholder(1))
	return r.scanRow(r.db.QueryRow(q, nameLower))
}

// splitBuilderKeys parses the comma-joined builder_keys column back into
// a slice, mirroring the empty-string-means-nil convention Save writes.
func splitBuilderKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (r *RelationalRepository) Create(name, startRoomID string, now time.Time) (PlayerRecord, error) {
	rec := PlayerRecord{
		ID: uuid.NewString(), Name: name, RoomID: startRoomID,
		HP: 20, MaxHP: 20, Mana: 10, MaxMana: 10, Level: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := r.Save(rec); err != nil {
		return PlayerRecord{}, err
	}
	return rec, nil
}

func (r *RelationalRepository) Save(record PlayerRecord) error {
	record.UpdatedAt = time.Now()

	var q string
	isStaff := 0
	if record.IsStaff {
		isStaff = 1
	}
	builderKeys := strings.Join(record.BuilderKeys, ",")

	if r.dialect == "postgres" {
		q = `INSERT INTO players (id, name, password_hash, room_id, hp, max_hp, mana, max_mana, level, xp_total, constitution, dexterity, is_staff, mfa_secret, builder_keys, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			ON CONFLICT (id) DO UPDATE SET
				name=$2, password_hash=$3, room_id=$4, hp=$5, max_hp=$6, mana=$7, max_mana=$8,
				level=$9, xp_total=$10, constitution=$11, dexterity=$12, is_staff=$13, mfa_secret=$14,
				builder_keys=$15, updated_at=$17`
	} else {
		q = `INSERT INTO players (id, name, password_hash, room_id, hp, max_hp, mana, max_mana, level, xp_total, constitution, dexterity, is_staff, mfa_secret, builder_keys, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET
				name=excluded.name, password_hash=excluded.password_hash, room_id=excluded.room_id,
				hp=excluded.hp, max_hp=excluded.max_hp, mana=excluded.mana, max_mana=excluded.max_mana,
				level=excluded.level, xp_total=excluded.xp_total, constitution=excluded.constitution,
				dexterity=excluded.dexterity, is_staff=excluded.is_staff, mfa_secret=excluded.mfa_secret,
				builder_keys=excluded.builder_keys, updated_at=excluded.updated_at`
	}

	_, err := r.db.Exec(q, record.ID, record.Name, record.PasswordHash, record.RoomID,
		record.HP, record.MaxHP, record.Mana, record.MaxMana,
		record.Level, record.XPTotal, record.Constitution, record.Dexterity,
		isStaff, record.MFASecret, builderKeys, record.CreatedAt, record.UpdatedAt)
	return err
}

func (r *RelationalRepository) Delete(id string) error {
	q := fmt.Sprintf(`DELETE FROM players WHERE id = %s`, r.placeholder(1))
	_, err := r.db.Exec(q, id)
	return err
}
