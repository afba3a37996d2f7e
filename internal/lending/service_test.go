package lending

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/lending-backend/internal/books"
	"github.com/angelmondragon/lending-backend/internal/borrows"
	"github.com/angelmondragon/lending-backend/internal/members"
	"github.com/angelmondragon/lending-backend/pkg/config"
	"github.com/angelmondragon/lending-backend/pkg/db"
	"github.com/angelmondragon/lending-backend/pkg/db/dbtest"
	"github.com/angelmondragon/lending-backend/pkg/db/models"
	"github.com/angelmondragon/lending-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lending-backend/pkg/errors"
	"github.com/angelmondragon/lending-backend/pkg/logger"
	"github.com/angelmondragon/lending-backend/pkg/metrics"
	"github.com/angelmondragon/lending-backend/pkg/outbox"
)

var today = time.Date(2026, 10, 19, 9, 45, 0, 0, time.UTC)

type harness struct {
	conn     *gorm.DB
	svc      Service
	books    books.Repository
	borrows  borrows.Repository
	locker   *KeyedLocker
	registry *prometheus.Registry
	client   *db.Client
}

func newHarness(t *testing.T, limit int) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	client := db.FromGorm(conn)
	return newHarnessWithRunner(t, conn, client, limit)
}

func newHarnessWithRunner(t *testing.T, conn *gorm.DB, runner txRunner, limit int) *harness {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "lending-test", Output: io.Discard})
	registry := prometheus.NewRegistry()
	locker := NewKeyedLocker(5 * time.Second)
	bookRepo := books.NewRepository(conn)
	borrowRepo := borrows.NewRepository(conn)

	svc, err := NewService(ServiceParams{
		Config: config.LendingConfig{
			MaxActiveBorrows: limit,
			ConflictRetries:  1,
			LockWaitTimeout:  5 * time.Second,
		},
		DB:      runner,
		Members: members.NewRepository(conn),
		Books:   bookRepo,
		Borrows: borrowRepo,
		Outbox:  outbox.NewService(outbox.NewRepository(conn), logg),
		Locker:  locker,
		Metrics: metrics.NewLendingMetrics(registry),
		Logger:  logg,
		Now:     func() time.Time { return today },
	})
	require.NoError(t, err)
	return &harness{
		conn:     conn,
		svc:      svc,
		books:    bookRepo,
		borrows:  borrowRepo,
		locker:   locker,
		registry: registry,
		client:   db.FromGorm(conn),
	}
}

func (h *harness) member(t *testing.T, name string) models.Member {
	t.Helper()
	m := models.Member{Name: name, MembershipDate: dateOf(today)}
	require.NoError(t, h.conn.Create(&m).Error)
	return m
}

func (h *harness) book(t *testing.T, title string, copies int) models.Book {
	t.Helper()
	b := models.Book{Title: title, Author: "Author of " + title, Amount: copies, TotalCopies: copies}
	require.NoError(t, h.conn.Create(&b).Error)
	return b
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *models.Book {
	t.Helper()
	b, err := h.books.FindByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (h *harness) assertInventoryConsistent(t *testing.T, id uuid.UUID) {
	t.Helper()
	b := h.reload(t, id)
	open, err := h.borrows.CountOpenForBook(context.Background(), id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, b.Amount, 0)
	assert.Equal(t, b.TotalCopies, b.Amount+int(open), "amount + open must equal total copies")
}

func (h *harness) outcomeCount(t *testing.T, op, outcome string) float64 {
	t.Helper()
	mfs, err := h.registry.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "lending_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["operation"] == op && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestBorrowThenReturnRoundTrips(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	m := h.member(t, "Alice")
	b := h.book(t, "Dune", 2)

	require.NoError(t, h.svc.Borrow(ctx, m.ID, b.ID))
	assert.Equal(t, 1, h.reload(t, b.ID).Amount)
	h.assertInventoryConsistent(t, b.ID)

	require.NoError(t, h.svc.Return(ctx, m.ID, b.ID))
	assert.Equal(t, 2, h.reload(t, b.ID).Amount)
	h.assertInventoryConsistent(t, b.ID)

	var records []models.BorrowRecord
	require.NoError(t, h.conn.Where("member_id = ?", m.ID).Find(&records).Error)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].ReturnDate)
	assert.False(t, records[0].IsOpen())
	assert.Equal(t, "2026-10-19", records[0].ReturnDate.UTC().Format("2006-01-02"))

	events, err := outbox.NewRepository(h.conn).ListForAggregate(ctx, records[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	types := []enums.OutboxEventType{events[0].EventType, events[1].EventType}
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventBookBorrowed, enums.EventBookReturned}, types)

	assert.Equal(t, float64(1), h.outcomeCount(t, "borrow", "success"))
	assert.Equal(t, float64(1), h.outcomeCount(t, "return", "success"))
}

func TestSecondReturnIsNotBorrowed(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	m := h.member(t, "Bob")
	b := h.book(t, "Emma", 1)

	require.NoError(t, h.svc.Borrow(ctx, m.ID, b.ID))
	require.NoError(t, h.svc.Return(ctx, m.ID, b.ID))

	err := h.svc.Return(ctx, m.ID, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotBorrowed)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotBorrowed))
	assert.Equal(t, 1, h.reload(t, b.ID).Amount)
	h.assertInventoryConsistent(t, b.ID)
	assert.Equal(t, float64(1), h.outcomeCount(t, "return", "not_borrowed"))
}

func TestReturnForUnknownMemberIsNotBorrowed(t *testing.T) {
	h := newHarness(t, 5)
	b := h.book(t, "Walden", 1)

	err := h.svc.Return(context.Background(), uuid.New(), b.ID)
	assert.ErrorIs(t, err, ErrNotBorrowed)
}

func TestBorrowLimitIsEnforced(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	m := h.member(t, "Carol")
	first := h.book(t, "A Tale", 1)
	second := h.book(t, "B Tale", 1)
	third := h.book(t, "C Tale", 1)

	require.NoError(t, h.svc.Borrow(ctx, m.ID, first.ID))
	require.NoError(t, h.svc.Borrow(ctx, m.ID, second.ID))

	err := h.svc.Borrow(ctx, m.ID, third.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeBorrowLimitExceeded))
	assert.Equal(t, 1, h.reload(t, third.ID).Amount)

	open, err := h.borrows.CountOpenForMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), open)
}

func TestBorrowUnavailableUntilAnotherMemberReturns(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	holder := h.member(t, "Holder")
	waiter := h.member(t, "Waiter")
	b := h.book(t, "Ulysses", 1)

	require.NoError(t, h.svc.Borrow(ctx, holder.ID, b.ID))

	err := h.svc.Borrow(ctx, waiter.ID, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBookUnavailable)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeBookUnavailable))
	assert.Equal(t, 0, h.reload(t, b.ID).Amount)

	require.NoError(t, h.svc.Return(ctx, holder.ID, b.ID))
	require.NoError(t, h.svc.Borrow(ctx, waiter.ID, b.ID))
	assert.Equal(t, 0, h.reload(t, b.ID).Amount)
	h.assertInventoryConsistent(t, b.ID)
}

func TestBorrowSameBookTwiceIsAlreadyBorrowed(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	m := h.member(t, "Dana")
	b := h.book(t, "Persuasion", 3)

	require.NoError(t, h.svc.Borrow(ctx, m.ID, b.ID))
	err := h.svc.Borrow(ctx, m.ID, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyBorrowed)
	assert.Equal(t, 2, h.reload(t, b.ID).Amount)
}

func TestBorrowDenialOrder(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	m := h.member(t, "Eve")

	err := h.svc.Borrow(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrMemberNotFound)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeMemberNotFound))

	err = h.svc.Borrow(ctx, m.ID, uuid.New())
	assert.ErrorIs(t, err, ErrBookNotFound)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeBookNotFound))

	err = h.svc.Borrow(ctx, uuid.Nil, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestConcurrentBorrowsOfLastCopy(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	b := h.book(t, "Last Copy", 1)

	const n = 8
	memberIDs := make([]uuid.UUID, n)
	for i := range memberIDs {
		memberIDs[i] = h.member(t, fmt.Sprintf("Member %d", i)).ID
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = h.svc.Borrow(ctx, memberIDs[i], b.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	var successes, unavailable int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrBookUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected borrow error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, unavailable)
	assert.Equal(t, 0, h.reload(t, b.ID).Amount)
	h.assertInventoryConsistent(t, b.ID)
	assert.Zero(t, h.locker.size())
}

func TestInventoryInvariantAcrossSequence(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	alice := h.member(t, "Alice")
	bob := h.member(t, "Bob")
	dune := h.book(t, "Dune", 2)
	emma := h.book(t, "Emma", 1)

	steps := []struct {
		borrow bool
		member uuid.UUID
		book   uuid.UUID
	}{
		{true, alice.ID, dune.ID},
		{true, bob.ID, dune.ID},
		{true, alice.ID, emma.ID},
		{true, bob.ID, emma.ID},
		{false, alice.ID, dune.ID},
		{false, alice.ID, dune.ID},
		{true, bob.ID, dune.ID},
		{false, alice.ID, emma.ID},
		{true, bob.ID, emma.ID},
		{true, alice.ID, dune.ID},
	}
	for _, step := range steps {
		if step.borrow {
			_ = h.svc.Borrow(ctx, step.member, step.book)
		} else {
			_ = h.svc.Return(ctx, step.member, step.book)
		}
		h.assertInventoryConsistent(t, dune.ID)
		h.assertInventoryConsistent(t, emma.ID)
		for _, id := range []uuid.UUID{alice.ID, bob.ID} {
			open, err := h.borrows.CountOpenForMember(ctx, id)
			require.NoError(t, err)
			assert.LessOrEqual(t, open, int64(2))
		}
	}
}

func TestDeleteBookBlockedByOpenBorrow(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	m := h.member(t, "Frank")
	b := h.book(t, "Moby Dick", 1)

	catalog, err := books.NewService(books.ServiceParams{
		DB:      h.client,
		Repo:    h.books,
		Borrows: h.borrows,
		Locker:  h.locker,
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.Borrow(ctx, m.ID, b.ID))
	err = catalog.DeleteBook(ctx, b.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDeleteConstraint))

	require.NoError(t, h.svc.Return(ctx, m.ID, b.ID))
	require.NoError(t, catalog.DeleteBook(ctx, b.ID))
}

func TestReportingProjections(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	alice := h.member(t, "Alice Reader")
	bob := h.member(t, "Bob")
	zorro := h.book(t, "Zorro", 2)
	anna := h.book(t, "Anna Karenina", 2)
	returned := h.book(t, "Returned", 1)

	require.NoError(t, h.svc.Borrow(ctx, alice.ID, zorro.ID))
	require.NoError(t, h.svc.Borrow(ctx, alice.ID, anna.ID))
	require.NoError(t, h.svc.Borrow(ctx, bob.ID, zorro.ID))
	require.NoError(t, h.svc.Borrow(ctx, bob.ID, returned.ID))
	require.NoError(t, h.svc.Return(ctx, bob.ID, returned.ID))

	titles, err := h.svc.ListBorrowedTitles(ctx, "alice READER")
	require.NoError(t, err)
	assert.Equal(t, []string{"Anna Karenina", "Zorro"}, titles)

	_, err = h.svc.ListBorrowedTitles(ctx, "Nobody")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	distinct, err := h.svc.ListDistinctBorrowedTitles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Anna Karenina", "Zorro"}, distinct)

	stats, err := h.svc.BorrowedTitleStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []borrows.TitleCount{
		{Title: "Anna Karenina", Count: 1},
		{Title: "Zorro", Count: 2},
	}, stats)
}

func TestCheckerIsExposedWithConfiguredLimit(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	m := h.member(t, "Gail")
	b := h.book(t, "Checked", 1)

	checker := h.svc.Checker()
	assert.Equal(t, 3, checker.MaxActiveBorrows())

	eligibility, err := checker.CanBorrow(ctx, m.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, eligibility.Book.ID)
	assert.Zero(t, eligibility.OpenBorrows)

	_, err = checker.CanReturn(ctx, m.ID, b.ID)
	assert.ErrorIs(t, err, ErrNotBorrowed)
}

type flakyRunner struct {
	inner    *db.Client
	failures int
	calls    int
}

func (r *flakyRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.calls++
	if r.calls <= r.failures {
		return errors.New("database is locked (5) (SQLITE_BUSY)")
	}
	return r.inner.WithTx(ctx, fn)
}

func TestTransientConflictIsRetriedOnce(t *testing.T) {
	conn := dbtest.Open(t)
	runner := &flakyRunner{inner: db.FromGorm(conn), failures: 1}
	h := newHarnessWithRunner(t, conn, runner, 5)
	m := h.member(t, "Retry")
	b := h.book(t, "Retried", 1)

	require.NoError(t, h.svc.Borrow(context.Background(), m.ID, b.ID))
	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, 0, h.reload(t, b.ID).Amount)
}

func TestPersistentConflictSurfacesAsConflict(t *testing.T) {
	conn := dbtest.Open(t)
	runner := &flakyRunner{inner: db.FromGorm(conn), failures: 10}
	h := newHarnessWithRunner(t, conn, runner, 5)
	m := h.member(t, "Stuck")
	b := h.book(t, "Locked", 1)

	err := h.svc.Borrow(context.Background(), m.ID, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.True(t, pkgerrors.MetadataFor(pkgerrors.CodeConflict).Retryable)
	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, 1, h.reload(t, b.ID).Amount)
	assert.Equal(t, float64(1), h.outcomeCount(t, "borrow", "conflict"))
}

func TestConcurrentBorrowsBySameMemberRespectLimit(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	m := h.member(t, "Eager Reader")

	const n = 8
	bookIDs := make([]uuid.UUID, n)
	for i := range bookIDs {
		bookIDs[i] = h.book(t, fmt.Sprintf("Title %d", i), 1).ID
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = h.svc.Borrow(ctx, m.ID, bookIDs[i])
		}(i)
	}
	close(start)
	wg.Wait()

	var successes, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrLimitExceeded):
			limited++
		default:
			t.Fatalf("unexpected borrow error: %v", err)
		}
	}
	assert.Equal(t, 2, successes)
	assert.Equal(t, n-2, limited)

	open, err := h.borrows.CountOpenForMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), open)
	for _, id := range bookIDs {
		h.assertInventoryConsistent(t, id)
	}
	assert.Zero(t, h.locker.size())
}

// failAfterRunner runs fn inside a real transaction, then fails the
// transaction so every write made by fn is rolled back.
type failAfterRunner struct {
	inner *db.Client
}

var errAfterMutations = errors.New("commit refused")

func (r failAfterRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.inner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errAfterMutations
	})
}

func TestBorrowFailureAfterMutationsRollsBack(t *testing.T) {
	conn := dbtest.Open(t)
	h := newHarnessWithRunner(t, conn, failAfterRunner{inner: db.FromGorm(conn)}, 5)
	ctx := context.Background()
	m := h.member(t, "Rollback")
	b := h.book(t, "Unwritten", 1)

	err := h.svc.Borrow(ctx, m.ID, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errAfterMutations)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	assert.Equal(t, 1, h.reload(t, b.ID).Amount)
	open, err := h.borrows.CountOpenForMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, open)

	var events int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&events).Error)
	assert.Zero(t, events)
	h.assertInventoryConsistent(t, b.ID)
}

func TestReturnAtCapacityClosesLoanAndCountsDrift(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	m := h.member(t, "Drifted")
	b := h.book(t, "Overstocked", 1)

	// open loan without the matching decrement
	record := models.BorrowRecord{MemberID: m.ID, BookID: b.ID, BorrowDate: dateOf(today)}
	require.NoError(t, h.conn.Create(&record).Error)

	require.NoError(t, h.svc.Return(ctx, m.ID, b.ID))

	assert.Equal(t, 1, h.reload(t, b.ID).Amount)
	open, err := h.borrows.CountOpenForBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, open)

	mfs, err := h.registry.Gather()
	require.NoError(t, err)
	var drift float64
	for _, mf := range mfs {
		if mf.GetName() == "lending_inventory_drift_detected_total" {
			drift = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), drift)
}
