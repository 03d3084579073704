package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/kathakali/internal/guider"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Profile is a named guider configuration tuned to one performer or camera.
type Profile struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Config      guider.Config `json:"config"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ParseProfileConfig reads a YAML guider config on top of the defaults, so a
// profile only needs to name what it changes.
func ParseProfileConfig(data []byte) (guider.Config, error) {
	cfg := guider.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse profile config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ProfileRepository provides CRUD operations for profiles.
type ProfileRepository struct {
	db *sql.DB
}

// Profiles returns the profile repository for this store.
func (s *Store) Profiles() *ProfileRepository {
	return &ProfileRepository{db: s.db}
}

// Create inserts a new profile. The config is validated first.
func (r *ProfileRepository) Create(p *Profile) error {
	body, err := encodeConfig(p.Config)
	if err != nil {
		return err
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err = r.db.Exec(
		`INSERT INTO profiles (id, name, description, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, body, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetByID retrieves a profile by its ID.
func (r *ProfileRepository) GetByID(id string) (*Profile, error) {
	return r.get(`SELECT id, name, description, config, created_at, updated_at
		 FROM profiles WHERE id = ?`, id)
}

// GetByName retrieves a profile by its name.
func (r *ProfileRepository) GetByName(name string) (*Profile, error) {
	return r.get(`SELECT id, name, description, config, created_at, updated_at
		 FROM profiles WHERE name = ?`, name)
}

// Lookup finds a profile by ID, then by name.
func (r *ProfileRepository) Lookup(ref string) (*Profile, error) {
	p, err := r.GetByID(ref)
	if errors.Is(err, ErrNotFound) {
		return r.GetByName(ref)
	}
	return p, err
}

func (r *ProfileRepository) get(query string, arg any) (*Profile, error) {
	p, err := scanProfile(r.db.QueryRow(query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// List retrieves all profiles, newest first.
func (r *ProfileRepository) List() ([]*Profile, error) {
	rows, err := r.db.Query(
		`SELECT id, name, description, config, created_at, updated_at
		 FROM profiles ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}

// Update replaces the name, description and config of an existing profile.
func (r *ProfileRepository) Update(p *Profile) error {
	body, err := encodeConfig(p.Config)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE profiles SET name = ?, description = ?, config = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, p.Description, body, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// Delete removes a profile. Sessions recorded with it keep their samples.
func (r *ProfileRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	p := &Profile{}
	var body string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &body, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	cfg, err := ParseProfileConfig([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.Name, err)
	}
	p.Config = cfg
	return p, nil
}

func encodeConfig(cfg guider.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode profile config: %w", err)
	}
	return string(body), nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
