package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/store"
)

// fakeState is the in-memory database. Transactions work on a clone that
// replaces the state only on commit.
type fakeState struct {
	categories map[string]bool
	products   map[string]models.Product
	orders     map[string]models.Order
	items      map[string][]models.OrderItem
	bookings   map[string]models.Booking
	intents    map[string]models.CheckoutIntent
	nextItemID int64
}

func newFakeState() *fakeState {
	return &fakeState{
		categories: map[string]bool{},
		products:   map[string]models.Product{},
		orders:     map[string]models.Order{},
		items:      map[string][]models.OrderItem{},
		bookings:   map[string]models.Booking{},
		intents:    map[string]models.CheckoutIntent{},
	}
}

func (s *fakeState) clone() *fakeState {
	c := newFakeState()
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.intents {
		c.intents[k] = v
	}
	c.nextItemID = s.nextItemID
	return c
}

type fakeStore struct {
	mu    sync.Mutex
	state *fakeState
	txErr error
	txs   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: newFakeState()}
}

func (f *fakeStore) addProduct(p models.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.CategoryID != "" {
		f.state.categories[p.CategoryID] = true
	}
	f.state.products[p.ID] = p
}

func (f *fakeStore) stock(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.products[id].Stock
}

func (f *fakeStore) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.orders)
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if f.txErr != nil {
		return f.txErr
	}
	f.txs++

	work := f.state.clone()
	if err := fn(&fakeTx{s: work}); err != nil {
		return err
	}
	f.state = work
	return nil
}

func (f *fakeStore) GetProductByID(_ context.Context, id string) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.state.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) GetProductsByIDs(_ context.Context, ids []string) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := f.state.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) RestockProduct(_ context.Context, id string, quantity int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.state.products[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	p.Stock += quantity
	f.state.products[id] = p
	return p.Stock, nil
}

func (f *fakeStore) DeleteCategory(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state.categories[id] {
		return store.ErrNotFound
	}
	for _, p := range f.state.products {
		if p.CategoryID == id {
			return store.ErrCategoryInUse
		}
	}
	delete(f.state.categories, id)
	return nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.state.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (f *fakeStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.state.orders {
		if o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetOrderItemsByOrderID(_ context.Context, orderID string) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.state.items[orderID]...), nil
}

func (f *fakeStore) ListOrders(_ context.Context, filter models.OrderFilter) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.state.orders {
		if filter.Status == "" || o.Status == filter.Status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) CreateBooking(_ context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.state.bookings {
		if existing.Status != models.BookingStatusCancelled && existing.Date.Equal(b.Date) && existing.TimeSlot == b.TimeSlot {
			return store.ErrSlotTaken
		}
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	f.state.bookings[b.ID] = *b
	return nil
}

func (f *fakeStore) GetBookingByID(_ context.Context, id string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.state.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (f *fakeStore) ListBookings(_ context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.state.bookings {
		if filter.Status == "" || b.Status == filter.Status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveCheckoutIntent(_ context.Context, intent *models.CheckoutIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.state.intents[intent.SessionID]; ok {
		return nil
	}
	if intent.IdempotencyKey != "" {
		for _, in := range f.state.intents {
			if in.IdempotencyKey == intent.IdempotencyKey {
				return store.ErrDuplicateIdempotencyKey
			}
		}
	}
	intent.CreatedAt = time.Now()
	f.state.intents[intent.SessionID] = *intent
	return nil
}

func (f *fakeStore) GetCheckoutIntent(_ context.Context, sessionID string) (*models.CheckoutIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.state.intents[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &in, nil
}

func (f *fakeStore) GetCheckoutIntentByIdempotencyKey(_ context.Context, key string) (*models.CheckoutIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, in := range f.state.intents {
		if in.IdempotencyKey == key {
			return &in, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CompleteCheckoutIntent(_ context.Context, sessionID, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.state.intents[sessionID]
	if !ok || in.CompletedAt != nil {
		return nil
	}
	now := time.Now()
	in.OrderID = orderID
	in.CompletedAt = &now
	f.state.intents[sessionID] = in
	return nil
}

type fakeTx struct {
	s *fakeState
}

func (t *fakeTx) LockProducts(_ context.Context, ids []string) (map[string]models.Product, error) {
	out := make(map[string]models.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *fakeTx) DecrementStock(_ context.Context, productID string, quantity int) (bool, error) {
	p, ok := t.s.products[productID]
	if !ok || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	t.s.products[productID] = p
	return true, nil
}

func (t *fakeTx) IncrementStock(_ context.Context, productID string, quantity int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return fmt.Errorf("product %s missing", productID)
	}
	p.Stock += quantity
	t.s.products[productID] = p
	return nil
}

func (t *fakeTx) InsertOrder(_ context.Context, order *models.Order) error {
	if order.IdempotencyKey != "" {
		for _, o := range t.s.orders {
			if o.IdempotencyKey == order.IdempotencyKey {
				return store.ErrDuplicateIdempotencyKey
			}
		}
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	t.s.orders[order.ID] = *order
	return nil
}

func (t *fakeTx) InsertOrderItems(_ context.Context, items []models.OrderItem) error {
	for i := range items {
		t.s.nextItemID++
		items[i].ID = t.s.nextItemID
		t.s.items[items[i].OrderID] = append(t.s.items[items[i].OrderID], items[i])
	}
	return nil
}

func (t *fakeTx) GetOrderForUpdate(_ context.Context, id string) (*models.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (t *fakeTx) GetOrderItems(_ context.Context, orderID string) ([]models.OrderItem, error) {
	return append([]models.OrderItem(nil), t.s.items[orderID]...), nil
}

func (t *fakeTx) UpdateOrderStatus(_ context.Context, id string, status models.OrderStatus, notes *string) error {
	o := t.s.orders[id]
	o.Status = status
	if notes != nil {
		o.InternalNotes = *notes
	}
	o.UpdatedAt = time.Now()
	t.s.orders[id] = o
	return nil
}

func (t *fakeTx) UpdatePaymentStatus(_ context.Context, id string, status models.PaymentStatus) error {
	o := t.s.orders[id]
	o.PaymentStatus = status
	o.UpdatedAt = time.Now()
	t.s.orders[id] = o
	return nil
}

func (t *fakeTx) DeleteOrder(_ context.Context, id string) error {
	if _, ok := t.s.orders[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.s.orders, id)
	delete(t.s.items, id)
	for sid, in := range t.s.intents {
		if in.OrderID == id {
			in.OrderID = ""
			t.s.intents[sid] = in
		}
	}
	return nil
}

func (t *fakeTx) GetBookingForUpdate(_ context.Context, id string) (*models.Booking, error) {
	b, ok := t.s.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *fakeTx) UpdateBookingStatus(_ context.Context, id string, status models.BookingStatus, notes *string) error {
	b := t.s.bookings[id]
	b.Status = status
	if notes != nil {
		b.InternalNotes = *notes
	}
	b.UpdatedAt = time.Now()
	t.s.bookings[id] = b
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (n *fakeNotifier) Enqueue(event models.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return true
}

func (n *fakeNotifier) ofType(eventType string) []models.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Event
	for _, e := range n.events {
		if e.Meta().EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type fakeGateway struct {
	mu        sync.Mutex
	sessions  map[string]*payment.SessionStatus
	requests  []payment.SessionRequest
	createErr error
	next      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]*payment.SessionStatus{}}
}

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.next++
	id := fmt.Sprintf("cs_test_%d", g.next)

	var amount int64
	for _, l := range req.Lines {
		amount += l.UnitAmount * int64(l.Quantity)
	}
	g.requests = append(g.requests, req)
	g.sessions[id] = &payment.SessionStatus{
		ID:            id,
		PaymentStatus: "unpaid",
		Amount:        amount,
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
	}
	return &payment.Session{ID: id, URL: "https://pay.example.com/" + id}, nil
}

func (g *fakeGateway) RetrieveSession(_ context.Context, id string) (*payment.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, payment.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) markPaid(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id].Paid = true
	g.sessions[id].PaymentStatus = "paid"
}

type fakeCache struct {
	mu          sync.Mutex
	views       map[string]*models.OrderView
	owners      map[string]string
	invalidated []string
	err         error
}

func newFakeCache() *fakeCache {
	return &fakeCache{views: map[string]*models.OrderView{}, owners: map[string]string{}}
}

func (c *fakeCache) GetOrderView(_ context.Context, orderID string) (*models.OrderView, string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, "", false, c.err
	}
	v, ok := c.views[orderID]
	return v, c.owners[orderID], ok, nil
}

func (c *fakeCache) SetOrderView(_ context.Context, email string, view *models.OrderView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[view.ID] = view
	c.owners[view.ID] = email
	return nil
}

func (c *fakeCache) InvalidateOrderView(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, orderID)
	c.invalidated = append(c.invalidated, orderID)
	return nil
}

type fakeCartStore struct {
	carts map[string]cart.Cart
	err   error
}

func newFakeCartStore() *fakeCartStore {
	return &fakeCartStore{carts: map[string]cart.Cart{}}
}

func (s *fakeCartStore) LoadCart(_ context.Context, token string) (*cart.Cart, error) {
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.carts[token]
	if !ok {
		return cart.New(), nil
	}
	c.Lines = append([]cart.Line(nil), c.Lines...)
	return &c, nil
}

func (s *fakeCartStore) SaveCart(_ context.Context, token string, c *cart.Cart) error {
	if s.err != nil {
		return s.err
	}
	s.carts[token] = cart.Cart{Lines: append([]cart.Line(nil), c.Lines...)}
	return nil
}

func (s *fakeCartStore) DeleteCart(_ context.Context, token string) error {
	delete(s.carts, token)
	return nil
}

var errDBDown = errors.New("connection refused")
