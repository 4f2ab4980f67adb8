package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"ticketpay/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements profile persistence over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - CreateProfile relies on uq_profiles_email_norm, never on a prior read.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the profile store (default "ticketpay").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "ticketpay",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const profileColumns = `id, email, email_norm, display_name, phone, slug, public_url, organization, industry, created_at`

// GetProfileByEmail loads a profile by normalized email.
func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	const op = "identity.GetProfileByEmail"

	if s == nil || s.pool == nil {
		return Profile{}, invalidInput(op, "nil store")
	}
	norm := NormalizeEmail(email)
	if norm == "" {
		return Profile{}, invalidInput(op, "email is required")
	}

	profiles := pgIdent(s.schema, "profiles")
	row := s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM `+profiles+` WHERE email_norm = $1`, norm)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, NotFoundError{Op: op, Resource: "profile"}
		}
		return Profile{}, err
	}
	return p, nil
}

// CreateProfile inserts a profile row. Duplicate emails surface as ConflictError{Field: "email"}.
func (s *PostgresStore) CreateProfile(ctx context.Context, in CreateProfileInput) (Profile, error) {
	const op = "identity.CreateProfile"

	if s == nil || s.pool == nil {
		return Profile{}, invalidInput(op, "nil store")
	}
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	p, err := newProfile(op, in)
	if err != nil {
		return Profile{}, err
	}

	profiles := pgIdent(s.schema, "profiles")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+profiles+` (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Email, p.EmailNorm, p.DisplayName, p.Phone, p.Slug, p.PublicURL, p.Organization, p.Industry, p.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Profile{}, ConflictError{Op: op, Field: field}
		}
		return Profile{}, err
	}
	return p, nil
}

// newProfile validates input and fills generated fields (id, slug, public url).
func newProfile(op string, in CreateProfileInput) (Profile, error) {
	email := strings.TrimSpace(in.Email)
	norm := NormalizeEmail(email)
	if norm == "" || !strings.Contains(norm, "@") {
		return Profile{}, invalidInput(op, "valid email is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Profile{}, err
	}
	slug, err := NewSlug(in.DisplayName, norm)
	if err != nil {
		return Profile{}, err
	}

	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		name = norm[:strings.IndexByte(norm, '@')]
	}

	return Profile{
		ID:           id,
		Email:        email,
		EmailNorm:    norm,
		DisplayName:  name,
		Phone:        trimPtr(in.Phone),
		Slug:         slug,
		PublicURL:    PublicProfileURL(in.BaseURL, slug),
		Organization: trimPtr(in.Organization),
		Industry:     trimPtr(in.Industry),
		CreatedAt:    now,
	}, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.EmailNorm, &p.DisplayName, &p.Phone, &p.Slug, &p.PublicURL, &p.Organization, &p.Industry, &p.CreatedAt)
	return p, err
}

// SchemaSQL returns the profile table DDL for schema.
func SchemaSQL(schema string) string {
	profiles := pgIdent(schema, "profiles")
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  display_name TEXT NOT NULL,
  phone TEXT NULL,
  slug TEXT NOT NULL,
  public_url TEXT NOT NULL,
  organization TEXT NULL,
  industry TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_profiles_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_profiles_email_norm UNIQUE (email_norm),
  CONSTRAINT uq_profiles_slug UNIQUE (slug)
);
`, profiles)
}

// trimPtr trims a string pointer, returning nil if result is empty.
func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_profiles_email_norm", strings.Contains(c, "email"):
		return "email", true
	case c == "uq_profiles_slug", strings.Contains(c, "slug"):
		return "slug", true
	default:
		return "unique", true
	}
}
