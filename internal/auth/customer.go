package auth

import (
	"context"
	"errors"

	assets "coldchain-cloud/internal/assets/domain"
)

var (
	// ErrCustomerMismatch indicates the resource belongs to a different customer.
	ErrCustomerMismatch = errors.New("customer mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// ColdCellReader loads cold cells.
type ColdCellReader interface {
	Get(ctx context.Context, id string) (*assets.ColdCell, error)
}

// ColdCellChecker checks cold cell ownership.
type ColdCellChecker struct {
	cells ColdCellReader
}

// NewColdCellChecker constructs a ColdCellChecker.
func NewColdCellChecker(cells ColdCellReader) *ColdCellChecker {
	if cells == nil {
		return nil
	}
	return &ColdCellChecker{cells: cells}
}

// EnsureColdCellCustomer verifies the cold cell exists and belongs to customerID.
// An empty customerID skips the ownership check.
func (c *ColdCellChecker) EnsureColdCellCustomer(ctx context.Context, customerID, coldCellID string) error {
	if c == nil || c.cells == nil {
		return nil
	}
	if coldCellID == "" {
		return ErrNotFound
	}
	cell, err := c.cells.Get(ctx, coldCellID)
	if err != nil {
		return err
	}
	if cell == nil {
		return ErrNotFound
	}
	if customerID != "" && cell.CustomerID != customerID {
		return ErrCustomerMismatch
	}
	return nil
}
