package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// ChangeStatus is the lifecycle state of a Change.
type ChangeStatus string

// Change lifecycle states.
const (
	ChangeStatusDraft      ChangeStatus = "draft"
	ChangeStatusApproved   ChangeStatus = "approved"
	ChangeStatusRejected   ChangeStatus = "rejected"
	ChangeStatusSimulated  ChangeStatus = "simulated"
	ChangeStatusApplying   ChangeStatus = "applying"
	ChangeStatusApplied    ChangeStatus = "applied"
	ChangeStatusRolledBack ChangeStatus = "roll_back"
)

// changeTransitions lists the legal successor states for each status.
// Terminal states have no entry.
var changeTransitions = map[ChangeStatus][]ChangeStatus{
	ChangeStatusDraft:    {ChangeStatusApproved},
	ChangeStatusApproved: {ChangeStatusRejected, ChangeStatusSimulated, ChangeStatusApplying},
	ChangeStatusApplying: {ChangeStatusApplied, ChangeStatusRolledBack},
}

// Valid reports whether s is a known lifecycle state.
func (s ChangeStatus) Valid() bool {
	switch s {
	case ChangeStatusDraft, ChangeStatusApproved, ChangeStatusRejected, ChangeStatusSimulated,
		ChangeStatusApplying, ChangeStatusApplied, ChangeStatusRolledBack:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
func (s ChangeStatus) CanTransitionTo(next ChangeStatus) bool {
	for _, allowed := range changeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Environment identifies the deployment target of a Change.
type Environment string

// Allowed environments.
const (
	EnvironmentStaging Environment = "staging"
	EnvironmentProd    Environment = "prod"
)

// Valid reports whether e is in the allowed set.
func (e Environment) Valid() bool {
	return e == EnvironmentStaging || e == EnvironmentProd
}

// Change is a proposed set of key/value modifications to an environment.
// It owns its items; assessments and simulation runs refer to it by ID.
type Change struct {
	ID          string
	Title       string
	Description *string
	Environment Environment
	Status      ChangeStatus
	CreatedBy   string
	Items       []ChangeItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChangeItem is one key/old/new triple within a Change. Items are immutable
// once created and ordered by Position.
type ChangeItem struct {
	ID       string
	ChangeID string
	Position int
	Key      string
	OldValue string
	NewValue string
}

// ChangeItemInput is the caller-supplied part of a ChangeItem.
type ChangeItemInput struct {
	Key      string `json:"key" yaml:"key"`
	OldValue string `json:"old_value" yaml:"old_value"`
	NewValue string `json:"new_value" yaml:"new_value"`
}

// CreateChangeRequest holds the fields for creating a Change.
type CreateChangeRequest struct {
	Title       string            `json:"title" yaml:"title"`
	Description *string           `json:"description,omitempty" yaml:"description,omitempty"`
	Environment string            `json:"environment" yaml:"environment"`
	CreatedBy   string            `json:"created_by" yaml:"created_by"`
	Items       []ChangeItemInput `json:"items" yaml:"items"`
}

// Field length limits enforced at the boundary.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MinCreatorLength     = 2
	MaxCreatorLength     = 100
	MaxItemKeyLength     = 200
	MaxItemValueLength   = 500
	MaxActorLength       = 200
)

// Validate checks the request before any entity is constructed.
func (r CreateChangeRequest) Validate() error {
	if err := checkLength("title", r.Title, 1, MaxTitleLength); err != nil {
		return err
	}
	if r.Description != nil && utf8.RuneCountInString(*r.Description) > MaxDescriptionLength {
		return ErrValidation("description must be at most %d characters", MaxDescriptionLength)
	}
	if !Environment(r.Environment).Valid() {
		return ErrValidation("environment must be one of %q, %q; got %q",
			EnvironmentStaging, EnvironmentProd, r.Environment)
	}
	if err := checkLength("created_by", r.CreatedBy, MinCreatorLength, MaxCreatorLength); err != nil {
		return err
	}
	if len(r.Items) == 0 {
		return ErrValidation("items must contain at least one entry")
	}
	for i, it := range r.Items {
		if err := checkLength(fmt.Sprintf("items[%d].key", i), it.Key, 1, MaxItemKeyLength); err != nil {
			return err
		}
		if err := checkLength(fmt.Sprintf("items[%d].old_value", i), it.OldValue, 1, MaxItemValueLength); err != nil {
			return err
		}
		if err := checkLength(fmt.Sprintf("items[%d].new_value", i), it.NewValue, 1, MaxItemValueLength); err != nil {
			return err
		}
	}
	return nil
}

// ValidateActor checks an actor name supplied with a lifecycle operation.
func ValidateActor(actor string) error {
	return checkLength("actor", actor, 1, MaxActorLength)
}

func checkLength(field, value string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(value)
	if n < minLen {
		return ErrValidation("%s must be at least %d characters", field, minLen)
	}
	if n > maxLen {
		return ErrValidation("%s must be at most %d characters", field, maxLen)
	}
	return nil
}
