// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/driftwatch/driftwatch/internal/logging"
	"github.com/driftwatch/driftwatch/internal/models"
)

// SeedDemoData inserts a small demo dataset: a handful of contacts (one of
// them a lead), tickets, invoices, and dual-written legacy rows with a
// deliberate drift so a first reconciliation run has something to report.
// Intended for local development only.
func (db *DB) SeedDemoData(ctx context.Context) error {
	now := time.Now().UTC()

	contacts := []*models.Contact{
		{
			ContactID: 1, Name: "Acme Corp", Email: "ops@acme.example", Phone: "+1-555-0101",
			Company: "Acme Corp", Status: models.ContactStatusCustomer,
			Address:   models.Address{Street: "1 Main St", City: "Springfield", Zip: "10001", Country: "US"},
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ContactID: 2, Name: "Borealis GmbH", Email: "kontakt@borealis.example",
			Company: "Borealis GmbH", Status: models.ContactStatusCustomer,
			Address:   models.Address{Street: "Hauptstr. 12", City: "Berlin", Zip: "10115", Country: "DE"},
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ContactID: 3, Name: "Carla Diaz", Email: "carla@example.net",
			Status:    models.ContactStatusLead,
			CreatedAt: now, UpdatedAt: now,
		},
	}
	for _, c := range contacts {
		if err := db.UpsertContact(ctx, c); err != nil {
			return fmt.Errorf("failed to seed contact %d: %w", c.ContactID, err)
		}
	}

	// Legacy rows: contact 1 matches, contact 2 has a drifted email, and
	// contact 3 is missing entirely ("missing in external").
	legacy := []*models.LegacyContact{
		{ContactID: 1, FullName: "Acme Corp", Email: "ops@acme.example", Phone: "+1-555-0101",
			Company: "Acme Corp", Status: models.ContactStatusCustomer,
			City: "Springfield", Country: "US", UpdatedAt: now},
		{ContactID: 2, FullName: "Borealis GmbH", Email: "stale@borealis.example",
			Company: "Borealis GmbH", Status: models.ContactStatusCustomer,
			City: "Berlin", Country: "DE", UpdatedAt: now},
	}
	for _, lc := range legacy {
		if err := db.UpsertLegacyContact(ctx, lc); err != nil {
			return fmt.Errorf("failed to seed legacy contact %d: %w", lc.ContactID, err)
		}
	}

	tickets := []*models.Ticket{
		{TicketID: 1, ContactID: 1, Subject: "Sync stuck on invoice export",
			Status: models.TicketStatusOpen, Priority: "high", CreatedAt: now, UpdatedAt: now},
		{TicketID: 2, ContactID: 2, Subject: "Question about billing address",
			Status: models.TicketStatusClosed, Priority: "normal", CreatedAt: now, UpdatedAt: now},
	}
	for _, t := range tickets {
		if err := db.UpsertTicket(ctx, t); err != nil {
			return fmt.Errorf("failed to seed ticket %d: %w", t.TicketID, err)
		}
	}

	invoices := []*models.Invoice{
		{InvoiceID: 1, ContactID: 1, Number: "INV-2026-0001", AmountCents: 125000,
			Currency: "USD", Status: models.InvoiceStatusSent,
			IssuedAt: now, DueAt: now.AddDate(0, 1, 0), CreatedAt: now, UpdatedAt: now},
		{InvoiceID: 2, ContactID: 2, Number: "INV-2026-0002", AmountCents: 48000,
			Currency: "EUR", Status: models.InvoiceStatusPaid,
			IssuedAt: now, DueAt: now.AddDate(0, 0, 14), CreatedAt: now, UpdatedAt: now},
	}
	for _, inv := range invoices {
		if err := db.UpsertInvoice(ctx, inv); err != nil {
			return fmt.Errorf("failed to seed invoice %d: %w", inv.InvoiceID, err)
		}
	}

	logging.Info().Int("contacts", len(contacts)).Int("tickets", len(tickets)).
		Int("invoices", len(invoices)).Msg("Seeded demo data")
	return nil
}
