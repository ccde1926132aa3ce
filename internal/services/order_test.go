package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cartloopapp/cartloop/internal/db"
	"github.com/cartloopapp/cartloop/internal/pricing"
)

type fakeOrderStore struct {
	orders map[uuid.UUID]*db.Order

	createErr error
	created   []*db.Order

	statusUpdates  []db.OrderStatus
	paymentUpdates []db.PaymentStatus
}

func newFakeOrderStore(orders ...*db.Order) *fakeOrderStore {
	store := &fakeOrderStore{orders: make(map[uuid.UUID]*db.Order)}
	for _, order := range orders {
		store.orders[order.ID] = order
	}
	return store
}

func (f *fakeOrderStore) Create(_ context.Context, order *db.Order) error {
	if f.createErr != nil {
		return f.createErr
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.OrderNumber = 1000 + len(f.created)
	f.created = append(f.created, order)
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderStore) GetByID(_ context.Context, orderID uuid.UUID) (*db.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, errors.New("order not found")
	}
	return order, nil
}

func (f *fakeOrderStore) ListByCustomer(_ context.Context, customerID uuid.UUID, _ int) ([]*db.Order, error) {
	var orders []*db.Order
	for _, order := range f.orders {
		if order.CustomerID == customerID {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (f *fakeOrderStore) UpdateStatus(_ context.Context, orderID uuid.UUID, from, to db.OrderStatus) error {
	order, ok := f.orders[orderID]
	if !ok || order.Status != from {
		return db.ErrInvalidStatusTransition
	}
	order.Status = to
	f.statusUpdates = append(f.statusUpdates, to)
	return nil
}

func (f *fakeOrderStore) UpdatePaymentStatus(_ context.Context, orderID uuid.UUID, status db.PaymentStatus, paymentID string) error {
	order := f.orders[orderID]
	order.PaymentStatus = status
	order.PaymentID = paymentID
	f.paymentUpdates = append(f.paymentUpdates, status)
	return nil
}

func (f *fakeOrderStore) UpdateShippingStatus(_ context.Context, orderID uuid.UUID, status db.ShippingStatus) error {
	f.orders[orderID].ShippingStatus = status
	return nil
}

func (f *fakeOrderStore) UpdateRefundStatus(_ context.Context, orderID uuid.UUID, status db.RefundStatus) error {
	order, ok := f.orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	order.RefundStatus = status
	return nil
}

func (f *fakeOrderStore) SetShipmentDetails(_ context.Context, orderID uuid.UUID, carrierOrderID, shipmentID, awb, carrierName string) error {
	order := f.orders[orderID]
	order.CarrierOrderID = carrierOrderID
	order.ShipmentID = shipmentID
	order.AWB = awb
	order.CarrierName = carrierName
	return nil
}

type fakeStockReserver struct {
	products map[uuid.UUID]*db.Product

	adjustments []db.AdjustParams
}

func newFakeStockReserver(products ...*db.Product) *fakeStockReserver {
	f := &fakeStockReserver{products: make(map[uuid.UUID]*db.Product)}
	for _, product := range products {
		f.products[product.ID] = product
	}
	return f
}

func (f *fakeStockReserver) GetProduct(_ context.Context, productID uuid.UUID) (*db.Product, error) {
	product, ok := f.products[productID]
	if !ok {
		return nil, errors.New("product not found")
	}
	return product, nil
}

func (f *fakeStockReserver) Adjust(_ context.Context, params db.AdjustParams) (db.AdjustResult, error) {
	product, ok := f.products[params.ProductID]
	if !ok {
		return db.AdjustResult{}, errors.New("product not found")
	}
	next := product.StockQuantity + params.Delta
	if next < 0 {
		if params.FailOnShortfall {
			return db.AdjustResult{}, db.ErrInsufficientStock
		}
		next = 0
	}
	applied := next - product.StockQuantity
	product.StockQuantity = next
	f.adjustments = append(f.adjustments, params)
	return db.AdjustResult{AppliedDelta: applied, NewQuantity: next}, nil
}

type fakeCouponChecker struct {
	check    *CouponCheck
	err      error
	applyErr error

	applied  []uuid.UUID
	reversed []uuid.UUID
}

func (f *fakeCouponChecker) Check(context.Context, string, decimal.Decimal, uuid.UUID) (*CouponCheck, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.check, nil
}

func (f *fakeCouponChecker) Apply(_ context.Context, couponID, _, _ uuid.UUID) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, couponID)
	return nil
}

func (f *fakeCouponChecker) Reverse(_ context.Context, couponID, _ uuid.UUID) error {
	f.reversed = append(f.reversed, couponID)
	return nil
}

type fakeCanceller struct {
	result *CancelResult
	orders []*db.Order
}

func (f *fakeCanceller) Cancel(_ context.Context, order *db.Order, _ string) (*CancelResult, error) {
	f.orders = append(f.orders, order)
	if f.result != nil {
		return f.result, nil
	}
	return &CancelResult{OrderID: order.ID}, nil
}

func testPricer() *pricing.Pricer {
	return pricing.NewPricer(&pricing.Rules{
		Currency:       "INR",
		TaxRatePercent: 18,
		Shipping:       pricing.ShippingRules{Fee: 49, FreeOver: 999},
	})
}

func TestCreateOrderReservesStockAndPrices(t *testing.T) {
	t.Parallel()

	mug := &db.Product{ID: uuid.New(), Name: "Ceramic Mug", SKU: "MUG-1", Price: decimal.RequireFromString("250.00"), StockQuantity: 10}
	stock := newFakeStockReserver(mug)
	orders := newFakeOrderStore()
	coupons := &fakeCouponChecker{}
	emails := newFakeEmailSender()
	service := NewOrderService(orders, stock, coupons, testPricer(), &fakeCanceller{}, emails, testLogger())

	customerID := uuid.New()
	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID:    customerID,
		CustomerEmail: "customer@example.com",
		CustomerName:  "Asha",
		Items:         []CreateOrderItem{{ProductID: mug.ID, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if mug.StockQuantity != 6 {
		t.Errorf("stock after order = %d, want 6", mug.StockQuantity)
	}
	if len(stock.adjustments) != 1 || stock.adjustments[0].ChangeType != db.StockChangeSale || !stock.adjustments[0].FailOnShortfall {
		t.Errorf("adjustments = %+v", stock.adjustments)
	}

	if want := decimal.RequireFromString("1000"); !order.Subtotal.Equal(want) {
		t.Errorf("Subtotal = %s, want %s", order.Subtotal, want)
	}
	if want := decimal.RequireFromString("180"); !order.Tax.Equal(want) {
		t.Errorf("Tax = %s, want %s", order.Tax, want)
	}
	if !order.Shipping.IsZero() {
		t.Errorf("Shipping = %s, want 0 above free threshold", order.Shipping)
	}
	if want := decimal.RequireFromString("1180"); !order.Total.Equal(want) {
		t.Errorf("Total = %s, want %s", order.Total, want)
	}

	if order.Status != db.StatusPending || order.PaymentStatus != db.PaymentPending {
		t.Errorf("new order status = %s/%s", order.Status, order.PaymentStatus)
	}
	if len(order.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(order.Items))
	}
	if order.Items[0].Snapshot["sku"] != "MUG-1" {
		t.Errorf("item snapshot = %v", order.Items[0].Snapshot)
	}
}

func TestCreateOrderRejectsInsufficientStock(t *testing.T) {
	t.Parallel()

	mug := &db.Product{ID: uuid.New(), Name: "Ceramic Mug", SKU: "MUG-1", Price: decimal.RequireFromString("250.00"), StockQuantity: 10}
	poster := &db.Product{ID: uuid.New(), Name: "Poster", SKU: "POST-1", Price: decimal.RequireFromString("100.00"), StockQuantity: 1}
	stock := newFakeStockReserver(mug, poster)
	service := NewOrderService(newFakeOrderStore(), stock, &fakeCouponChecker{}, testPricer(), &fakeCanceller{}, nil, testLogger())

	_, err := service.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: uuid.New(),
		Items: []CreateOrderItem{
			{ProductID: mug.ID, Quantity: 2},
			{ProductID: poster.ID, Quantity: 5},
		},
	})
	if !errors.Is(err, db.ErrInsufficientStock) {
		t.Fatalf("CreateOrder() error = %v, want ErrInsufficientStock", err)
	}

	if mug.StockQuantity != 10 {
		t.Errorf("mug stock = %d, reservation not released", mug.StockQuantity)
	}
	if poster.StockQuantity != 1 {
		t.Errorf("poster stock = %d, want untouched", poster.StockQuantity)
	}
}

func TestCreateOrderRejectsIneligibleCoupon(t *testing.T) {
	t.Parallel()

	mug := &db.Product{ID: uuid.New(), Name: "Ceramic Mug", SKU: "MUG-1", Price: decimal.RequireFromString("250.00"), StockQuantity: 10}
	stock := newFakeStockReserver(mug)
	coupons := &fakeCouponChecker{check: &CouponCheck{Eligible: false, Reason: CouponReasonExpired}}
	service := NewOrderService(newFakeOrderStore(), stock, coupons, testPricer(), &fakeCanceller{}, nil, testLogger())

	_, err := service.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: uuid.New(),
		Items:      []CreateOrderItem{{ProductID: mug.ID, Quantity: 1}},
		CouponCode: "OLD10",
	})
	if !errors.Is(err, ErrCouponNotEligible) {
		t.Fatalf("CreateOrder() error = %v, want ErrCouponNotEligible", err)
	}
	if !strings.Contains(err.Error(), CouponReasonExpired) {
		t.Errorf("error %q does not carry the reason", err)
	}
	if mug.StockQuantity != 10 {
		t.Errorf("mug stock = %d, reservation not released", mug.StockQuantity)
	}
}

func TestCreateOrderAppliesCoupon(t *testing.T) {
	t.Parallel()

	mug := &db.Product{ID: uuid.New(), Name: "Ceramic Mug", SKU: "MUG-1", Price: decimal.RequireFromString("250.00"), StockQuantity: 10}
	coupon := &db.Coupon{ID: uuid.New(), Code: "SAVE10", Type: db.CouponPercentage, Value: decimal.RequireFromString("10")}
	coupons := &fakeCouponChecker{check: &CouponCheck{Eligible: true, Coupon: coupon, Discount: decimal.RequireFromString("100")}}
	service := NewOrderService(newFakeOrderStore(), newFakeStockReserver(mug), coupons, testPricer(), &fakeCanceller{}, nil, testLogger())

	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: uuid.New(),
		Items:      []CreateOrderItem{{ProductID: mug.ID, Quantity: 4}},
		CouponCode: "SAVE10",
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if want := decimal.RequireFromString("100"); !order.Discount.Equal(want) {
		t.Errorf("Discount = %s, want %s", order.Discount, want)
	}
	// Tax applies to the discounted subtotal: (1000-100) * 18%.
	if want := decimal.RequireFromString("162"); !order.Tax.Equal(want) {
		t.Errorf("Tax = %s, want %s", order.Tax, want)
	}
	if order.CouponID == nil || *order.CouponID != coupon.ID {
		t.Errorf("CouponID = %v", order.CouponID)
	}
	if len(coupons.applied) != 1 || coupons.applied[0] != coupon.ID {
		t.Errorf("applied coupons = %v", coupons.applied)
	}
}

func TestCreateOrderFailsWhenCouponSlotLost(t *testing.T) {
	t.Parallel()

	// The coupon passed Check, but a concurrent order consumed the last
	// usage slot before this one could record its own.
	mug := &db.Product{ID: uuid.New(), Name: "Ceramic Mug", SKU: "MUG-1", Price: decimal.RequireFromString("250.00"), StockQuantity: 10}
	stock := newFakeStockReserver(mug)
	coupon := &db.Coupon{ID: uuid.New(), Code: "SAVE10", Type: db.CouponPercentage, Value: decimal.RequireFromString("10")}
	coupons := &fakeCouponChecker{
		check:    &CouponCheck{Eligible: true, Coupon: coupon, Discount: decimal.RequireFromString("100")},
		applyErr: db.ErrCouponExhausted,
	}
	orders := newFakeOrderStore()
	service := NewOrderService(orders, stock, coupons, testPricer(), &fakeCanceller{}, nil, testLogger())

	_, err := service.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: uuid.New(),
		Items:      []CreateOrderItem{{ProductID: mug.ID, Quantity: 4}},
		CouponCode: "SAVE10",
	})
	if !errors.Is(err, ErrCouponNotEligible) {
		t.Fatalf("CreateOrder() error = %v, want ErrCouponNotEligible", err)
	}
	if !strings.Contains(err.Error(), CouponReasonExhausted) {
		t.Errorf("error %q does not carry the exhaustion reason", err)
	}
	if len(orders.created) != 0 {
		t.Errorf("created orders = %d, want none; the discount must not outlive the usage slot", len(orders.created))
	}
	if mug.StockQuantity != 10 {
		t.Errorf("mug stock = %d, reservation not released", mug.StockQuantity)
	}
}

func TestCreateOrderReversesCouponWhenPersistFails(t *testing.T) {
	t.Parallel()

	mug := &db.Product{ID: uuid.New(), Name: "Ceramic Mug", SKU: "MUG-1", Price: decimal.RequireFromString("250.00"), StockQuantity: 10}
	stock := newFakeStockReserver(mug)
	coupon := &db.Coupon{ID: uuid.New(), Code: "SAVE10", Type: db.CouponPercentage, Value: decimal.RequireFromString("10")}
	coupons := &fakeCouponChecker{check: &CouponCheck{Eligible: true, Coupon: coupon, Discount: decimal.RequireFromString("100")}}
	orders := newFakeOrderStore()
	orders.createErr = errors.New("connection reset")
	service := NewOrderService(orders, stock, coupons, testPricer(), &fakeCanceller{}, nil, testLogger())

	_, err := service.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: uuid.New(),
		Items:      []CreateOrderItem{{ProductID: mug.ID, Quantity: 4}},
		CouponCode: "SAVE10",
	})
	if err == nil {
		t.Fatal("CreateOrder() expected error")
	}

	if len(coupons.reversed) != 1 || coupons.reversed[0] != coupon.ID {
		t.Errorf("reversed coupons = %v, usage left behind for an unpersisted order", coupons.reversed)
	}
	if mug.StockQuantity != 10 {
		t.Errorf("mug stock = %d, reservation not released", mug.StockQuantity)
	}
}

func TestCreateOrderAlertsLowStock(t *testing.T) {
	t.Parallel()

	// Sale-path adjustments run through the inventory service, so depleting
	// stock to the threshold at checkout raises the alert.
	mug := &db.Product{ID: uuid.New(), Name: "Ceramic Mug", SKU: "MUG-1", Price: decimal.RequireFromString("250.00"), StockQuantity: 6}
	emails := newFakeEmailSender()
	inventory := NewInventoryService(newFakeStockStore(mug), emails, 5, testLogger())
	service := NewOrderService(newFakeOrderStore(), inventory, &fakeCouponChecker{}, testPricer(), &fakeCanceller{}, emails, testLogger())

	_, err := service.CreateOrder(context.Background(), CreateOrderInput{
		CustomerID: uuid.New(),
		Items:      []CreateOrderItem{{ProductID: mug.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	select {
	case product := <-emails.lowStock:
		if product.ID != mug.ID {
			t.Errorf("low stock alert for product %s, want %s", product.ID, mug.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no low stock alert after a sale depleted stock to the threshold")
	}
}

func TestCreateOrderRejectsEmptyOrder(t *testing.T) {
	t.Parallel()

	service := NewOrderService(newFakeOrderStore(), newFakeStockReserver(), &fakeCouponChecker{}, testPricer(), &fakeCanceller{}, nil, testLogger())
	_, err := service.CreateOrder(context.Background(), CreateOrderInput{CustomerID: uuid.New()})
	if !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("CreateOrder() error = %v, want ErrEmptyOrder", err)
	}
}

func TestTransitionStatusRejectsIllegalEdge(t *testing.T) {
	t.Parallel()

	order := &db.Order{ID: uuid.New(), Status: db.StatusPending}
	orders := newFakeOrderStore(order)
	service := NewOrderService(orders, newFakeStockReserver(), &fakeCouponChecker{}, testPricer(), &fakeCanceller{}, nil, testLogger())

	_, err := service.TransitionStatus(context.Background(), order.ID, db.StatusShipped)
	if !errors.Is(err, db.ErrInvalidStatusTransition) {
		t.Fatalf("TransitionStatus() error = %v, want ErrInvalidStatusTransition", err)
	}
	if order.Status != db.StatusPending {
		t.Errorf("status mutated on illegal edge: %s", order.Status)
	}
}

func TestTransitionStatusCancelledRoutesThroughCancellation(t *testing.T) {
	t.Parallel()

	order := &db.Order{ID: uuid.New(), Status: db.StatusConfirmed}
	canceller := &fakeCanceller{}
	service := NewOrderService(newFakeOrderStore(order), newFakeStockReserver(), &fakeCouponChecker{}, testPricer(), canceller, nil, testLogger())

	result, err := service.TransitionStatus(context.Background(), order.ID, db.StatusCancelled)
	if err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}
	if result == nil {
		t.Fatal("TransitionStatus() returned no cancel result")
	}
	if len(canceller.orders) != 1 || canceller.orders[0].ID != order.ID {
		t.Errorf("canceller orders = %v", canceller.orders)
	}
}

func TestCancelRejectsTerminalOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status db.OrderStatus
	}{
		{name: "delivered order", status: db.StatusDelivered},
		{name: "already cancelled order", status: db.StatusCancelled},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			order := &db.Order{ID: uuid.New(), Status: tt.status}
			canceller := &fakeCanceller{}
			service := NewOrderService(newFakeOrderStore(order), newFakeStockReserver(), &fakeCouponChecker{}, testPricer(), canceller, nil, testLogger())

			_, err := service.Cancel(context.Background(), order.ID, "too late")
			if !errors.Is(err, ErrOrderNotCancellable) {
				t.Fatalf("Cancel() error = %v, want ErrOrderNotCancellable", err)
			}
			if len(canceller.orders) != 0 {
				t.Error("cancellation flow ran for a terminal order")
			}
		})
	}
}

func TestMarkPaidConfirmsPendingOrder(t *testing.T) {
	t.Parallel()

	order := &db.Order{ID: uuid.New(), Status: db.StatusPending, PaymentStatus: db.PaymentPending}
	orders := newFakeOrderStore(order)
	service := NewOrderService(orders, newFakeStockReserver(), &fakeCouponChecker{}, testPricer(), &fakeCanceller{}, nil, testLogger())

	if err := service.MarkPaid(context.Background(), order.ID, "pi_456"); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if order.PaymentStatus != db.PaymentPaid || order.PaymentID != "pi_456" {
		t.Errorf("payment = %s/%s", order.PaymentStatus, order.PaymentID)
	}
	if order.Status != db.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", order.Status)
	}
}

func TestUpdateRefundValidatesStatus(t *testing.T) {
	t.Parallel()

	order := &db.Order{ID: uuid.New(), Status: db.StatusCancelled, RefundStatus: db.RefundFailed}
	orders := newFakeOrderStore(order)
	service := NewOrderService(orders, newFakeStockReserver(), &fakeCouponChecker{}, testPricer(), &fakeCanceller{}, nil, testLogger())

	if err := service.UpdateRefund(context.Background(), order.ID, db.RefundStatus("partial-ish")); err == nil {
		t.Fatal("UpdateRefund() accepted an unknown status")
	}
	if order.RefundStatus != db.RefundFailed {
		t.Errorf("RefundStatus = %s, mutated by a rejected update", order.RefundStatus)
	}

	if err := service.UpdateRefund(context.Background(), order.ID, db.RefundProcessed); err != nil {
		t.Fatalf("UpdateRefund() error = %v", err)
	}
	if order.RefundStatus != db.RefundProcessed {
		t.Errorf("RefundStatus = %s, want processed", order.RefundStatus)
	}
}
