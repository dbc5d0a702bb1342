package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

type ContactRepositoryInterface interface {
	Create(ctx context.Context, c *model.Contact) error
	GetByID(ctx context.Context, id int) (*model.Contact, error)
	GetByPhone(ctx context.Context, phone string) (*model.Contact, error)
	ListByGroups(ctx context.Context, groups []string) ([]*model.Contact, error)
}

type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, name, phone, email, groups, metadata`

func scanContact(row rowScanner) (*model.Contact, error) {
	var c model.Contact
	var groups pq.StringArray
	var metadata []byte
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &groups, &metadata); err != nil {
		return nil, err
	}
	c.Groups = []string(groups)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("contact %d metadata: %w", c.ID, err)
		}
	}
	return &c, nil
}

func (r *ContactRepository) Create(ctx context.Context, c *model.Contact) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return err
	}
	if c.Groups == nil {
		c.Groups = []string{}
	}
	query := `INSERT INTO contacts (name, phone, email, groups, metadata) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	return r.DB.QueryRowContext(ctx, query, c.Name, c.Phone, c.Email, pq.Array(c.Groups), metadata).Scan(&c.ID)
}

func (r *ContactRepository) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	c, err := scanContact(r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %d: %w", id, appErrors.ErrNotFound)
	}
	return c, err
}

func (r *ContactRepository) GetByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	c, err := scanContact(r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE phone=$1`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %s: %w", phone, appErrors.ErrNotFound)
	}
	return c, err
}

// ListByGroups returns contacts in any of the groups, ordered by id. An
// empty filter returns every contact.
func (r *ContactRepository) ListByGroups(ctx context.Context, groups []string) ([]*model.Contact, error) {
	var rows *sql.Rows
	var err error
	if len(groups) == 0 {
		rows, err = r.DB.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY id`)
	} else {
		rows, err = r.DB.QueryContext(ctx,
			`SELECT `+contactColumns+` FROM contacts WHERE groups && $1 ORDER BY id`, pq.Array(groups))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
