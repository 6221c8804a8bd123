package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/escrow"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/payment"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/service"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/testutil"
)

// harness wires every service over an in-memory store and the sandbox
// gateway, the same way cmd/api wires them over Postgres and Stripe.
type harness struct {
	store    *testutil.MemStore
	gw       *payment.Sandbox
	ledger   *service.Ledger
	bookings *service.BookingService
	txs      *service.TransactionService
	trips    *service.TripService
	exports  *service.ExportService
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, service.BookingConfig{}, nil)
}

func newHarnessWith(t *testing.T, cfg service.BookingConfig, guard service.EventGuard) *harness {
	t.Helper()
	logger := zap.NewNop()
	store := testutil.NewMemStore()
	gw := payment.NewSandbox()
	gw.AutoAuthorize = true
	if cfg.Codes == nil {
		cfg.Codes = sequentialCodes()
	}
	if cfg.FeePercent.IsZero() {
		cfg.FeePercent = decimal.NewFromInt(10)
	}

	ledger := service.NewLedger(logger)
	txs := service.NewTransactionService(store, ledger, gw, guard, logger)
	return &harness{
		store:    store,
		gw:       gw,
		ledger:   ledger,
		bookings: service.NewBookingService(store, ledger, gw, cfg, logger),
		txs:      txs,
		trips:    service.NewTripService(store, ledger, txs, "eur", logger),
		exports:  service.NewExportService(store),
	}
}

var (
	traveler = domain.UserActor(uuid.MustParse("00000000-0000-0000-0000-00000000000a"))
	admin    = domain.Actor{ID: uuid.MustParse("00000000-0000-0000-0000-0000000000ad"), Role: domain.RoleAdmin}
)

func kg(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newSender() domain.Actor { return domain.UserActor(uuid.New()) }

// publishedTrip seeds a published trip with the given capacity at 5 per kg.
func (h *harness) publishedTrip(capacity string) domain.Trip {
	return h.store.PutTrip(domain.Trip{
		TravelerID:  traveler.ID,
		Origin:      "Paris",
		Destination: "Algiers",
		DepartureAt: time.Now().Add(72 * time.Hour).UTC(),
		CapacityKg:  kg(capacity),
		PricePerKg:  kg("5"),
		Currency:    "eur",
		Status:      domain.TripPublished,
	})
}

func (h *harness) book(t *testing.T, trip domain.Trip, sender domain.Actor, weight string) domain.Transaction {
	t.Helper()
	co, err := h.bookings.CreateBooking(context.Background(), sender, service.BookingInput{
		TripID:      trip.ID,
		Weight:      kg(weight),
		Description: "two boxes of books",
	})
	require.NoError(t, err)
	return co.Transaction
}

// escrowed books weight and pays for it; the sandbox authorizes at once.
func (h *harness) escrowed(t *testing.T, trip domain.Trip, sender domain.Actor, weight string) domain.Transaction {
	t.Helper()
	tx := h.book(t, trip, sender, weight)
	co, err := h.bookings.StartPayment(context.Background(), sender, tx.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaymentEscrowed, co.Transaction.Status)
	return co.Transaction
}

func (h *harness) pickedUp(t *testing.T, trip domain.Trip, sender domain.Actor, weight string) domain.Transaction {
	t.Helper()
	tx := h.escrowed(t, trip, sender, weight)
	out, err := h.txs.ConfirmPickup(context.Background(), traveler, tx.ID, tx.PickupCode)
	require.NoError(t, err)
	return out
}

func (h *harness) trip(t *testing.T, id uuid.UUID) domain.Trip {
	t.Helper()
	trip, err := h.store.Trips().GetByID(context.Background(), id)
	require.NoError(t, err)
	return trip
}

func (h *harness) tx(t *testing.T, id uuid.UUID) domain.Transaction {
	t.Helper()
	tx, err := h.store.Transactions().GetByID(context.Background(), id)
	require.NoError(t, err)
	return tx
}

// sequentialCodes yields distinct codes that always contain letters, so case
// sensitivity can be tested deterministically.
func sequentialCodes() escrow.CodeGenerator {
	var n atomic.Int64
	return func() (string, error) {
		return fmt.Sprintf("CK%06d", n.Add(1)), nil
	}
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func bookingOn(tripID uuid.UUID, weight string) service.BookingInput {
	return service.BookingInput{TripID: tripID, Weight: kg(weight), Description: "two boxes of books"}
}
