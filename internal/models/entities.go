// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

// Package models defines the canonical entities and the bookkeeping records
// (sync log, sync state, reconciliation reports) shared across Driftwatch.
package models

import "time"

// EntityType tags the kind of canonical record being synchronized.
type EntityType string

const (
	EntityContact EntityType = "contact"
	EntityTicket  EntityType = "ticket"
	EntityInvoice EntityType = "invoice"
)

// Valid reports whether the entity type is one of the known kinds.
func (t EntityType) Valid() bool {
	switch t {
	case EntityContact, EntityTicket, EntityInvoice:
		return true
	}
	return false
}

// Entity is implemented by every canonical record the sync engine can push.
type Entity interface {
	Type() EntityType
	ID() int64
}

// Address is the nested postal address carried by contacts. External systems
// receive it as a sub-object or as flattened fields depending on the target.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// Contact lifecycle statuses. Leads are pre-conversion records that some
// targets do not accept.
const (
	ContactStatusLead     = "lead"
	ContactStatusCustomer = "customer"
	ContactStatusArchived = "archived"
)

// Contact is a canonical person or company record.
type Contact struct {
	ContactID int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Company   string    `json:"company"`
	Status    string    `json:"status"`
	Address   Address   `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Contact) Type() EntityType { return EntityContact }
func (c *Contact) ID() int64        { return c.ContactID }

// Ticket statuses form a simple open/closed workflow.
const (
	TicketStatusOpen    = "open"
	TicketStatusPending = "pending"
	TicketStatusClosed  = "closed"
)

// Ticket is a canonical support ticket record.
type Ticket struct {
	TicketID  int64     `json:"id"`
	ContactID int64     `json:"contact_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Ticket) Type() EntityType { return EntityTicket }
func (t *Ticket) ID() int64        { return t.TicketID }

// Invoice statuses.
const (
	InvoiceStatusDraft = "draft"
	InvoiceStatusSent  = "sent"
	InvoiceStatusPaid  = "paid"
	InvoiceStatusVoid  = "void"
)

// Invoice is a canonical invoice/payment record. Amounts are integer cents to
// avoid floating-point drift between systems.
type Invoice struct {
	InvoiceID   int64     `json:"id"`
	ContactID   int64     `json:"contact_id"`
	Number      string    `json:"number"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	IssuedAt    time.Time `json:"issued_at"`
	DueAt       time.Time `json:"due_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (i *Invoice) Type() EntityType { return EntityInvoice }
func (i *Invoice) ID() int64        { return i.InvoiceID }

// LegacyContact is a row in the dual-written legacy contact table used by the
// reconciliation engine's field-by-field comparison mode.
type LegacyContact struct {
	ContactID int64
	FullName  string
	Email     string
	Phone     string
	Company   string
	Status    string
	City      string
	Country   string
	UpdatedAt time.Time
}
