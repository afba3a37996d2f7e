package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/lending-backend/internal/books"
	"github.com/angelmondragon/lending-backend/internal/borrows"
	"github.com/angelmondragon/lending-backend/pkg/db/models"
	"github.com/angelmondragon/lending-backend/pkg/logger"
	"github.com/angelmondragon/lending-backend/pkg/metrics"
)

// InventoryAuditJobParams wires the inventory audit job.
type InventoryAuditJobParams struct {
	Logger  *logger.Logger
	DB      txRunner
	Books   books.Repository
	Borrows borrows.Repository
	Metrics *metrics.LendingMetrics
	Repair  bool
}

// NewInventoryAuditJob compares every book's available amount with
// total_copies minus its open borrows. With Repair set, drifted rows are
// recomputed under a row lock.
func NewInventoryAuditJob(params InventoryAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Books == nil || params.Borrows == nil {
		return nil, fmt.Errorf("book and borrow repositories required")
	}
	return &inventoryAuditJob{
		logg:    params.Logger,
		db:      params.DB,
		books:   params.Books,
		borrows: params.Borrows,
		metrics: params.Metrics,
		repair:  params.Repair,
	}, nil
}

type inventoryAuditJob struct {
	logg    *logger.Logger
	db      txRunner
	books   books.Repository
	borrows borrows.Repository
	metrics *metrics.LendingMetrics
	repair  bool
}

func (j *inventoryAuditJob) Name() string { return "inventory-audit" }

func (j *inventoryAuditJob) Run(ctx context.Context) error {
	catalog, err := j.books.List(ctx)
	if err != nil {
		return fmt.Errorf("list books: %w", err)
	}
	openByBook, err := j.borrows.CountOpenByBook(ctx)
	if err != nil {
		return fmt.Errorf("count open borrows: %w", err)
	}

	var (
		errs     error
		drifted  int
		repaired int
	)
	for i := range catalog {
		book := &catalog[i]
		open := openByBook[book.ID]
		expected := book.TotalCopies - int(open)
		if book.Amount == expected && expected >= 0 {
			continue
		}
		drifted++

		logCtx := j.logg.WithFields(ctx, map[string]any{
			"book_id":      book.ID.String(),
			"amount":       book.Amount,
			"total_copies": book.TotalCopies,
			"open_borrows": open,
		})
		if expected < 0 {
			errs = multierr.Append(errs, fmt.Errorf("book %s: %d open borrows exceed %d total copies", book.ID, open, book.TotalCopies))
			j.logg.Warn(logCtx, "cron.inventory_audit.overlent")
			continue
		}
		j.logg.Warn(logCtx, "cron.inventory_audit.drift")

		if !j.repair {
			continue
		}
		if err := j.repairBook(ctx, book.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("repair book %s: %w", book.ID, err))
			continue
		}
		repaired++
	}

	j.metrics.SetInventoryDrift(drifted - repaired)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"books_checked":  len(catalog),
		"books_drifted":  drifted,
		"books_repaired": repaired,
	}), "cron.inventory_audit.complete")
	return errs
}

// repairBook recounts inside the transaction so a loan committed after the
// audit snapshot is accounted for.
func (j *inventoryAuditJob) repairBook(ctx context.Context, id uuid.UUID) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.books.WithTx(tx)
		book, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		open, err := j.borrows.WithTx(tx).CountOpenForBook(ctx, id)
		if err != nil {
			return err
		}
		return setStock(ctx, repo, book, int(open))
	})
}

func setStock(ctx context.Context, repo books.Repository, book *models.Book, open int) error {
	expected := book.TotalCopies - open
	if expected < 0 {
		return fmt.Errorf("%d open borrows exceed %d total copies", open, book.TotalCopies)
	}
	if book.Amount == expected {
		return nil
	}
	return repo.SetStock(ctx, book.ID, book.TotalCopies, expected)
}
