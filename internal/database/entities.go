// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driftwatch/driftwatch/internal/models"
)

// entityTable maps an entity type to its canonical table name.
func entityTable(t models.EntityType) (string, error) {
	switch t {
	case models.EntityContact:
		return "contacts", nil
	case models.EntityTicket:
		return "tickets", nil
	case models.EntityInvoice:
		return "invoices", nil
	}
	return "", fmt.Errorf("unknown entity type %q", t)
}

// GetEntity resolves one canonical entity by type and id. Returns ErrNotFound
// when the row does not exist (the entity may have been deleted since a sync
// attempt was logged).
func (db *DB) GetEntity(ctx context.Context, entityType models.EntityType, id int64) (models.Entity, error) {
	switch entityType {
	case models.EntityContact:
		return db.GetContact(ctx, id)
	case models.EntityTicket:
		return db.GetTicket(ctx, id)
	case models.EntityInvoice:
		return db.GetInvoice(ctx, id)
	}
	return nil, fmt.Errorf("unknown entity type %q", entityType)
}

// GetContact fetches one contact by id.
func (db *DB) GetContact(ctx context.Context, id int64) (*models.Contact, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, name, email, phone, company, status,
		       address_street, address_city, address_zip, address_country,
		       created_at, updated_at
		FROM contacts WHERE id = ?`, id)

	var c models.Contact
	var email, phone, company, street, city, zip, country sql.NullString
	err := row.Scan(&c.ContactID, &c.Name, &email, &phone, &company, &c.Status,
		&street, &city, &zip, &country, &c.CreatedAt, &c.UpdatedAt)
	observe("select", "contacts", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact %d: %w", id, err)
	}
	c.Email = email.String
	c.Phone = phone.String
	c.Company = company.String
	c.Address = models.Address{Street: street.String, City: city.String, Zip: zip.String, Country: country.String}
	return &c, nil
}

// UpsertContact writes a contact row, replacing any existing row with the
// same id.
func (db *DB) UpsertContact(ctx context.Context, c *models.Contact) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO contacts
			(id, name, email, phone, company, status,
			 address_street, address_city, address_zip, address_country,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ContactID, c.Name, nullString(c.Email), nullString(c.Phone),
		nullString(c.Company), c.Status,
		nullString(c.Address.Street), nullString(c.Address.City),
		nullString(c.Address.Zip), nullString(c.Address.Country),
		c.CreatedAt, c.UpdatedAt)
	observe("upsert", "contacts", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert contact %d: %w", c.ContactID, err)
	}
	return nil
}

// DeleteContact removes a contact row. Sync log entries referencing it stay
// in the ledger; the sweeper marks them permanently failed on replay.
func (db *DB) DeleteContact(ctx context.Context, id int64) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	observe("delete", "contacts", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete contact %d: %w", id, err)
	}
	return nil
}

// ListContacts returns all contacts ordered by id. Used by the
// reconciliation engine's full comparison pass.
func (db *DB) ListContacts(ctx context.Context) ([]*models.Contact, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, email, phone, company, status,
		       address_street, address_city, address_zip, address_country,
		       created_at, updated_at
		FROM contacts ORDER BY id`)
	observe("select", "contacts", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		var c models.Contact
		var email, phone, company, street, city, zip, country sql.NullString
		if err := rows.Scan(&c.ContactID, &c.Name, &email, &phone, &company, &c.Status,
			&street, &city, &zip, &country, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		c.Email = email.String
		c.Phone = phone.String
		c.Company = company.String
		c.Address = models.Address{Street: street.String, City: city.String, Zip: zip.String, Country: country.String}
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}

// GetTicket fetches one ticket by id.
func (db *DB) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, contact_id, subject, body, status, priority, created_at, updated_at
		FROM tickets WHERE id = ?`, id)

	var t models.Ticket
	var body sql.NullString
	err := row.Scan(&t.TicketID, &t.ContactID, &t.Subject, &body, &t.Status,
		&t.Priority, &t.CreatedAt, &t.UpdatedAt)
	observe("select", "tickets", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket %d: %w", id, err)
	}
	t.Body = body.String
	return &t, nil
}

// UpsertTicket writes a ticket row.
func (db *DB) UpsertTicket(ctx context.Context, t *models.Ticket) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO tickets
			(id, contact_id, subject, body, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TicketID, t.ContactID, t.Subject, nullString(t.Body), t.Status,
		t.Priority, t.CreatedAt, t.UpdatedAt)
	observe("upsert", "tickets", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert ticket %d: %w", t.TicketID, err)
	}
	return nil
}

// GetInvoice fetches one invoice by id.
func (db *DB) GetInvoice(ctx context.Context, id int64) (*models.Invoice, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, contact_id, number, amount_cents, currency, status,
		       issued_at, due_at, created_at, updated_at
		FROM invoices WHERE id = ?`, id)

	var inv models.Invoice
	var issuedAt, dueAt sql.NullTime
	err := row.Scan(&inv.InvoiceID, &inv.ContactID, &inv.Number, &inv.AmountCents,
		&inv.Currency, &inv.Status, &issuedAt, &dueAt, &inv.CreatedAt, &inv.UpdatedAt)
	observe("select", "invoices", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %d: %w", id, err)
	}
	inv.IssuedAt = issuedAt.Time
	inv.DueAt = dueAt.Time
	return &inv, nil
}

// UpsertInvoice writes an invoice row.
func (db *DB) UpsertInvoice(ctx context.Context, inv *models.Invoice) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO invoices
			(id, contact_id, number, amount_cents, currency, status,
			 issued_at, due_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.InvoiceID, inv.ContactID, inv.Number, inv.AmountCents, inv.Currency,
		inv.Status, inv.IssuedAt, inv.DueAt, inv.CreatedAt, inv.UpdatedAt)
	observe("upsert", "invoices", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert invoice %d: %w", inv.InvoiceID, err)
	}
	return nil
}

// ListEntityIDs returns all ids for one entity type ordered ascending. Used
// by the sync-log-derived reconciliation pass.
func (db *DB) ListEntityIDs(ctx context.Context, entityType models.EntityType) ([]int64, error) {
	table, err := entityTable(entityType)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	//nolint:gosec // table name comes from the fixed entityTable map, not user input
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, table))
	observe("select", table, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", entityType, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertLegacyContact dual-writes a contact into the legacy secondary store.
func (db *DB) UpsertLegacyContact(ctx context.Context, lc *models.LegacyContact) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO legacy_contacts
			(contact_id, full_name, email, phone, company, status, city, country, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lc.ContactID, nullString(lc.FullName), nullString(lc.Email), nullString(lc.Phone),
		nullString(lc.Company), nullString(lc.Status), nullString(lc.City),
		nullString(lc.Country), lc.UpdatedAt)
	observe("upsert", "legacy_contacts", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert legacy contact %d: %w", lc.ContactID, err)
	}
	return nil
}

// ListLegacyContacts returns the legacy store keyed by contact id.
func (db *DB) ListLegacyContacts(ctx context.Context) (map[int64]*models.LegacyContact, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT contact_id, full_name, email, phone, company, status, city, country, updated_at
		FROM legacy_contacts`)
	observe("select", "legacy_contacts", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy contacts: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*models.LegacyContact)
	for rows.Next() {
		var lc models.LegacyContact
		var fullName, email, phone, company, status, city, country sql.NullString
		var updatedAt sql.NullTime
		if err := rows.Scan(&lc.ContactID, &fullName, &email, &phone, &company,
			&status, &city, &country, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan legacy contact: %w", err)
		}
		lc.FullName = fullName.String
		lc.Email = email.String
		lc.Phone = phone.String
		lc.Company = company.String
		lc.Status = status.String
		lc.City = city.String
		lc.Country = country.String
		lc.UpdatedAt = updatedAt.Time
		out[lc.ContactID] = &lc
	}
	return out, rows.Err()
}

// CountEntities returns the number of canonical rows for one entity type.
func (db *DB) CountEntities(ctx context.Context, entityType models.EntityType) (int, error) {
	table, err := entityTable(entityType)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	var n int
	//nolint:gosec // table name comes from the fixed entityTable map, not user input
	err = db.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	observe("select", table, start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", entityType, err)
	}
	return n, nil
}
