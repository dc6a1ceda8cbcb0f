package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/MarkoPoloResearchLab/storewallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	testDatabaseURLEnv = "STOREWALLET_TEST_DATABASE_URL"
	testNowUnixUTC     = int64(1_700_000_000)
)

func TestIsUniqueViolation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "plain", err: errors.New("boom"), expected: false},
		{name: "other constraint", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "accounts_pkey"}, expected: false},
		{name: "other code", err: &pgconn.PgError{Code: "23503", ConstraintName: constraintAccountReference}, expected: false},
		{name: "reference", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintAccountReference}, expected: true},
		{name: "wrapped", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintAccountReference}), expected: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := isUniqueViolation(testCase.err, constraintAccountReference); got != testCase.expected {
				test.Fatalf("expected %v, got %v", testCase.expected, got)
			}
		})
	}
}

func TestStoreAgainstPostgres(test *testing.T) {
	databaseURL := os.Getenv(testDatabaseURLEnv)
	if databaseURL == "" {
		test.Skipf("%s not set", testDatabaseURLEnv)
	}
	ctx := context.Background()
	gormDB, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		test.Fatalf("open gorm: %v", err)
	}
	if err := gormstore.Migrate(gormDB); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		test.Fatalf("pool: %v", err)
	}
	test.Cleanup(pool.Close)

	store := New(pool)
	service, err := wallet.NewService(store, wallet.DefaultCatalog(), func() int64 { return testNowUnixUTC })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	suffix := uuid.NewString()
	ownerID, err := wallet.NewUserID("owner-" + suffix)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	storeID, err := wallet.NewStoreID("store-" + suffix)
	if err != nil {
		test.Fatalf("store id: %v", err)
	}
	if err := service.LinkStore(ctx, storeID, ownerID); err != nil {
		test.Fatalf("link: %v", err)
	}
	amount, err := wallet.NewPositiveAmountCents(8000)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	request, err := service.SubmitWalletRequest(ctx, ownerID, wallet.RequestDeposit, amount, "receipts/pg.png")
	if err != nil {
		test.Fatalf("submit: %v", err)
	}
	if _, err := service.ApproveRequest(ctx, request.RequestID(), "ok"); err != nil {
		test.Fatalf("approve: %v", err)
	}
	if _, err := service.ApproveRequest(ctx, request.RequestID(), "ok"); !errors.Is(err, wallet.ErrAlreadyProcessed) {
		test.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}

	perkType, err := wallet.NewPerkType("verified_badge")
	if err != nil {
		test.Fatalf("perk type: %v", err)
	}
	if _, err := service.PurchasePerk(ctx, storeID, perkType); err != nil {
		test.Fatalf("purchase: %v", err)
	}
	balance, err := service.StoreBalance(ctx, storeID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.AvailableCents != 500 {
		test.Fatalf("expected 500, got %d", balance.AvailableCents)
	}
	reconciliation, err := service.Reconcile(ctx, ownerID)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if !reconciliation.Consistent() {
		test.Fatalf("expected consistent reconciliation, got %+v", reconciliation)
	}
	history, err := service.PerkHistory(ctx, storeID, 10)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].PerkType() != perkType {
		test.Fatalf("unexpected history %+v", history)
	}
}
