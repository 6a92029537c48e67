// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/driftwatch/driftwatch/internal/models"
)

// Payload builders are pure functions from (entity, target) to the external
// representation. Deterministic by construction: payloads are maps with
// string keys, and the JSON encoder emits map keys sorted, so identical
// entity state always serializes identically. That serialization is what
// gets hashed for the idempotency check.
//
// Target conventions differ on purpose, mirroring real vendor APIs:
//   - system_a takes canonical field names and a nested address object
//   - system_b renames fields and flattens the address
//   - system_c takes a minimal projection
//
// Timestamps (created_at/updated_at) are deliberately excluded: they change
// on every write and would defeat change detection.

// Contact lifecycle statuses translated per target. A status missing from a
// table is a MappingError, not a passthrough.
var contactStatusByTarget = map[models.TargetSystem]map[string]string{
	models.TargetSystemA: {
		models.ContactStatusLead:     "lead",
		models.ContactStatusCustomer: "customer",
		models.ContactStatusArchived: "archived",
	},
	models.TargetSystemB: {
		models.ContactStatusLead:     "prospect",
		models.ContactStatusCustomer: "active",
		models.ContactStatusArchived: "inactive",
	},
	models.TargetSystemC: {
		models.ContactStatusLead:     "LEAD",
		models.ContactStatusCustomer: "CUSTOMER",
		models.ContactStatusArchived: "ARCHIVED",
	},
}

var ticketStatusByTarget = map[models.TargetSystem]map[string]string{
	models.TargetSystemA: {
		models.TicketStatusOpen:    "open",
		models.TicketStatusPending: "pending",
		models.TicketStatusClosed:  "closed",
	},
	models.TargetSystemB: {
		models.TicketStatusOpen:    "new",
		models.TicketStatusPending: "waiting",
		models.TicketStatusClosed:  "resolved",
	},
	models.TargetSystemC: {
		models.TicketStatusOpen:    "OPEN",
		models.TicketStatusPending: "ON_HOLD",
		models.TicketStatusClosed:  "CLOSED",
	},
}

var invoiceStatusByTarget = map[models.TargetSystem]map[string]string{
	models.TargetSystemA: {
		models.InvoiceStatusDraft: "draft",
		models.InvoiceStatusSent:  "sent",
		models.InvoiceStatusPaid:  "paid",
		models.InvoiceStatusVoid:  "void",
	},
	models.TargetSystemB: {
		models.InvoiceStatusDraft: "pending",
		models.InvoiceStatusSent:  "outstanding",
		models.InvoiceStatusPaid:  "settled",
		models.InvoiceStatusVoid:  "cancelled",
	},
	models.TargetSystemC: {
		models.InvoiceStatusDraft: "DRAFT",
		models.InvoiceStatusSent:  "ISSUED",
		models.InvoiceStatusPaid:  "PAID",
		models.InvoiceStatusVoid:  "VOID",
	},
}

// BuildPayload maps an entity to the external representation expected by one
// target system. Returns a MappingError when a required mapping is undefined
// for the entity's current state.
func BuildPayload(entity models.Entity, target models.TargetSystem) (map[string]any, error) {
	switch e := entity.(type) {
	case *models.Contact:
		return buildContactPayload(e, target)
	case *models.Ticket:
		return buildTicketPayload(e, target)
	case *models.Invoice:
		return buildInvoicePayload(e, target)
	}
	return nil, &MappingError{
		EntityType: entity.Type(), EntityID: entity.ID(), Target: target,
		Field: "entity", Reason: fmt.Sprintf("no payload builder for %T", entity),
	}
}

func translateStatus(tables map[models.TargetSystem]map[string]string, entity models.Entity, target models.TargetSystem, status string) (string, error) {
	table, ok := tables[target]
	if !ok {
		return "", &MappingError{
			EntityType: entity.Type(), EntityID: entity.ID(), Target: target,
			Field: "status", Reason: "no status translation table for target",
		}
	}
	translated, ok := table[status]
	if !ok {
		return "", &MappingError{
			EntityType: entity.Type(), EntityID: entity.ID(), Target: target,
			Field: "status", Reason: fmt.Sprintf("status %q has no mapping", status),
		}
	}
	return translated, nil
}

func buildContactPayload(c *models.Contact, target models.TargetSystem) (map[string]any, error) {
	status, err := translateStatus(contactStatusByTarget, c, target, c.Status)
	if err != nil {
		return nil, err
	}
	if c.Name == "" {
		return nil, &MappingError{
			EntityType: c.Type(), EntityID: c.ID(), Target: target,
			Field: "name", Reason: "name is required by all targets",
		}
	}

	switch target {
	case models.TargetSystemB:
		return map[string]any{
			"full_name":       c.Name,
			"email_address":   c.Email,
			"phone":           c.Phone,
			"company_name":    c.Company,
			"lifecycle_stage": status,
			"city":            c.Address.City,
			"country":         c.Address.Country,
		}, nil
	case models.TargetSystemC:
		return map[string]any{
			"name":   c.Name,
			"email":  c.Email,
			"status": status,
		}, nil
	default:
		return map[string]any{
			"name":    c.Name,
			"email":   c.Email,
			"phone":   c.Phone,
			"company": c.Company,
			"status":  status,
			"address": map[string]any{
				"street":  c.Address.Street,
				"city":    c.Address.City,
				"zip":     c.Address.Zip,
				"country": c.Address.Country,
			},
		}, nil
	}
}

func buildTicketPayload(t *models.Ticket, target models.TargetSystem) (map[string]any, error) {
	status, err := translateStatus(ticketStatusByTarget, t, target, t.Status)
	if err != nil {
		return nil, err
	}
	if t.Subject == "" {
		return nil, &MappingError{
			EntityType: t.Type(), EntityID: t.ID(), Target: target,
			Field: "subject", Reason: "subject is required by all targets",
		}
	}

	switch target {
	case models.TargetSystemB:
		return map[string]any{
			"title":       t.Subject,
			"description": t.Body,
			"state":       status,
			"urgency":     t.Priority,
			"customer_id": t.ContactID,
		}, nil
	default:
		return map[string]any{
			"subject":    t.Subject,
			"body":       t.Body,
			"status":     status,
			"priority":   t.Priority,
			"contact_id": t.ContactID,
		}, nil
	}
}

func buildInvoicePayload(inv *models.Invoice, target models.TargetSystem) (map[string]any, error) {
	status, err := translateStatus(invoiceStatusByTarget, inv, target, inv.Status)
	if err != nil {
		return nil, err
	}
	if inv.Currency == "" {
		return nil, &MappingError{
			EntityType: inv.Type(), EntityID: inv.ID(), Target: target,
			Field: "currency", Reason: "currency is required by all targets",
		}
	}

	switch target {
	case models.TargetSystemB:
		// system_b takes decimal major units as a string.
		return map[string]any{
			"invoice_number": inv.Number,
			"amount":         fmt.Sprintf("%d.%02d", inv.AmountCents/100, inv.AmountCents%100),
			"currency_code":  inv.Currency,
			"state":          status,
			"customer_id":    inv.ContactID,
		}, nil
	default:
		return map[string]any{
			"number":       inv.Number,
			"amount_cents": inv.AmountCents,
			"currency":     inv.Currency,
			"status":       status,
			"contact_id":   inv.ContactID,
		}, nil
	}
}

// HashPayload computes the canonical content hash of a built payload: SHA-256
// over the sorted-key JSON serialization, hex encoded. Every idempotency
// comparison in the engine uses this one function; a second algorithm
// anywhere would silently break skip detection.
func HashPayload(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize payload for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
