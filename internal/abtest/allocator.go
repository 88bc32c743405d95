// Package abtest assigns contacts to A/B test variants and resolves
// winners. Assignment is deterministic and sticky: a contact hashes to the
// same variant on every send, and the stored assignment wins any race.
package abtest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// AssignmentStore is the sticky-assignment persistence surface.
// SaveAssignment returns the assignment that actually stuck, which may be a
// concurrent writer's.
type AssignmentStore interface {
	GetAssignment(ctx context.Context, testID, contactID uuid.UUID) (uuid.UUID, error)
	SaveAssignment(ctx context.Context, testID, contactID, variantID uuid.UUID) (uuid.UUID, error)
}

// Allocator decides which variant a contact receives.
type Allocator struct {
	store AssignmentStore
}

// NewAllocator creates an allocator over the given store.
func NewAllocator(store AssignmentStore) *Allocator {
	return &Allocator{store: store}
}

// Assignment is the allocator's decision for one contact. Holdout marks a
// contact outside the experiment split; a nil Variant means the campaign's
// own content goes out.
type Assignment struct {
	Variant *domain.ABTestVariant
	Holdout bool
}

// Assign resolves the variant for a contact. Only a running test splits
// traffic; outside that window everyone gets the test's configured default
// variant (or the campaign content when none is set). Once a winner is
// declared, everyone gets the winner, including previously held-out
// contacts.
func (a *Allocator) Assign(ctx context.Context, test *domain.ABTest, variants []domain.ABTestVariant, contactID uuid.UUID) (Assignment, error) {
	if len(variants) == 0 {
		return Assignment{}, fmt.Errorf("test %s has no variants", test.ID)
	}

	if test.WinningVariantID != nil {
		v := variantByID(variants, *test.WinningVariantID)
		if v == nil {
			return Assignment{}, fmt.Errorf("winning variant %s not found on test %s", test.WinningVariantID, test.ID)
		}
		return Assignment{Variant: v}, nil
	}

	if test.Status != domain.ABTestRunning {
		return a.defaultAssignment(test, variants)
	}

	// Sticky: an existing assignment always wins
	assigned, err := a.store.GetAssignment(ctx, test.ID, contactID)
	if err != nil {
		return Assignment{}, fmt.Errorf("read assignment: %w", err)
	}
	if assigned != uuid.Nil {
		v := variantByID(variants, assigned)
		if v == nil {
			return Assignment{}, fmt.Errorf("assigned variant %s not found on test %s", assigned, test.ID)
		}
		return Assignment{Variant: v}, nil
	}

	// Holdout: contacts hashing past the test percentage wait for the winner
	if bucket(test.ID, contactID, "holdout") >= test.TestPercentage {
		out, err := a.defaultAssignment(test, variants)
		if err != nil {
			return Assignment{}, err
		}
		out.Holdout = true
		return out, nil
	}

	picked := pickWeighted(variants, bucket(test.ID, contactID, "variant"))
	stuck, err := a.store.SaveAssignment(ctx, test.ID, contactID, picked.ID)
	if err != nil {
		return Assignment{}, fmt.Errorf("save assignment: %w", err)
	}
	if stuck != picked.ID {
		// Lost an assignment race; honor whatever landed first
		v := variantByID(variants, stuck)
		if v == nil {
			return Assignment{}, fmt.Errorf("stuck variant %s not found on test %s", stuck, test.ID)
		}
		return Assignment{Variant: v}, nil
	}
	return Assignment{Variant: picked}, nil
}

// defaultAssignment resolves the content contacts outside the split
// receive: the test's configured default variant, or the campaign's own
// content when the test names none.
func (a *Allocator) defaultAssignment(test *domain.ABTest, variants []domain.ABTestVariant) (Assignment, error) {
	if test.DefaultVariantID == nil {
		return Assignment{}, nil
	}
	v := variantByID(variants, *test.DefaultVariantID)
	if v == nil {
		return Assignment{}, fmt.Errorf("default variant %s not found on test %s", test.DefaultVariantID, test.ID)
	}
	return Assignment{Variant: v}, nil
}

// bucket maps (test, contact, salt) deterministically onto [0, 100).
func bucket(testID, contactID uuid.UUID, salt string) int {
	h := sha256.New()
	h.Write(testID[:])
	h.Write(contactID[:])
	h.Write([]byte(salt))
	sum := h.Sum(nil)
	return int(binary.BigEndian.Uint64(sum[:8]) % 100)
}

// pickWeighted selects a variant by walking cumulative weights with the
// contact's bucket scaled onto the weight range.
func pickWeighted(variants []domain.ABTestVariant, b int) *domain.ABTestVariant {
	total := 0
	for i := range variants {
		total += variants[i].Weight
	}
	if total <= 0 {
		return &variants[0]
	}
	target := b * total / 100
	acc := 0
	for i := range variants {
		acc += variants[i].Weight
		if target < acc {
			return &variants[i]
		}
	}
	return &variants[len(variants)-1]
}

func variantByID(variants []domain.ABTestVariant, id uuid.UUID) *domain.ABTestVariant {
	for i := range variants {
		if variants[i].ID == id {
			return &variants[i]
		}
	}
	return nil
}
