// Package memstore is an in-memory repository.Store used by service tests and
// local tooling. Records are copied on the way in and out.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"minicrm/internal/models"
	"minicrm/internal/repository"
	"minicrm/internal/rules"
)

type state struct {
	seq       int64
	customers map[string]*models.Customer
	orders    map[string]*models.Order
	segments  map[string]*models.Segment
	campaigns map[string]*models.Campaign
	logs      map[string]*models.CommunicationLog
}

func newState() *state {
	return &state{
		customers: map[string]*models.Customer{},
		orders:    map[string]*models.Order{},
		segments:  map[string]*models.Segment{},
		campaigns: map[string]*models.Campaign{},
		logs:      map[string]*models.CommunicationLog{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.customers {
		c.customers[k] = copyCustomer(v)
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range s.segments {
		c.segments[k] = copySegment(v)
	}
	for k, v := range s.campaigns {
		cp := *v
		c.campaigns[k] = &cp
	}
	for k, v := range s.logs {
		cp := *v
		c.logs[k] = &cp
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store is a repository.Store kept in process memory
type Store struct {
	mu   *sync.Mutex
	data *state
	inTx bool
	now  func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{mu: &sync.Mutex{}, data: newState(), now: time.Now}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Customers() repository.CustomerRepository { return customers{s} }
func (s *Store) Orders() repository.OrderRepository       { return orders{s} }
func (s *Store) Segments() repository.SegmentRepository   { return segments{s} }
func (s *Store) Campaigns() repository.CampaignRepository { return campaigns{s} }
func (s *Store) Logs() repository.LogRepository           { return logs{s} }

// WithinTx runs fn against a private copy of the data and publishes the copy
// only when fn succeeds. Transactions are serialized.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{mu: s.mu, data: s.data.clone(), inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

type customers struct{ s *Store }

func (r customers) Create(_ context.Context, c *models.Customer) (bool, error) {
	defer r.s.lock()()
	if _, ok := r.s.data.customers[c.CustomerID]; ok {
		return false, nil
	}
	now := r.s.now()
	c.ID = r.s.data.nextID()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.data.customers[c.CustomerID] = copyCustomer(c)
	return true, nil
}

func (r customers) GetByCustomerID(_ context.Context, customerID string) (*models.Customer, error) {
	defer r.s.lock()()
	c, ok := r.s.data.customers[customerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyCustomer(c), nil
}

func (r customers) Exists(_ context.Context, customerID string) (bool, error) {
	defer r.s.lock()()
	_, ok := r.s.data.customers[customerID]
	return ok, nil
}

func (r customers) List(_ context.Context, limit, offset int) ([]*models.Customer, error) {
	defer r.s.lock()()
	all := r.sorted()
	return window(all, limit, offset), nil
}

func (r customers) FindMatching(_ context.Context, predicate rules.Predicate) ([]*models.Customer, error) {
	defer r.s.lock()()
	matched := []*models.Customer{}
	for _, c := range r.sorted() {
		if predicate == nil || predicate.Matches(c) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func (r customers) CountMatching(ctx context.Context, predicate rules.Predicate) (int, error) {
	matched, err := r.FindMatching(ctx, predicate)
	return len(matched), err
}

func (r customers) ApplyOrder(_ context.Context, customerID string, amount decimal.Decimal, orderDate time.Time) (bool, error) {
	defer r.s.lock()()
	c, ok := r.s.data.customers[customerID]
	if !ok {
		return false, nil
	}
	c.ApplyOrder(amount, orderDate)
	c.UpdatedAt = r.s.now()
	return true, nil
}

func (r customers) sorted() []*models.Customer {
	all := make([]*models.Customer, 0, len(r.s.data.customers))
	for _, c := range r.s.data.customers {
		all = append(all, copyCustomer(c))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

type orders struct{ s *Store }

func (r orders) Create(_ context.Context, o *models.Order) (bool, error) {
	defer r.s.lock()()
	if _, ok := r.s.data.orders[o.OrderID]; ok {
		return false, nil
	}
	now := r.s.now()
	o.ID = r.s.data.nextID()
	o.CreatedAt, o.UpdatedAt = now, now
	r.s.data.orders[o.OrderID] = copyOrder(o)
	return true, nil
}

func (r orders) GetByOrderID(_ context.Context, orderID string) (*models.Order, error) {
	defer r.s.lock()()
	o, ok := r.s.data.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyOrder(o), nil
}

func (r orders) ListByCustomer(_ context.Context, customerID string) ([]*models.Order, error) {
	defer r.s.lock()()
	list := []*models.Order{}
	for _, o := range r.s.data.orders {
		if o.CustomerID == customerID {
			list = append(list, copyOrder(o))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].OrderDate.Equal(list[j].OrderDate) {
			return list[i].OrderDate.After(list[j].OrderDate)
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

type segments struct{ s *Store }

func (r segments) Create(_ context.Context, seg *models.Segment) error {
	defer r.s.lock()()
	seg.ID = r.s.data.nextID()
	seg.CreatedAt = r.s.now()
	r.s.data.segments[seg.SegmentID] = copySegment(seg)
	return nil
}

func (r segments) GetBySegmentID(_ context.Context, segmentID string) (*models.Segment, error) {
	defer r.s.lock()()
	seg, ok := r.s.data.segments[segmentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copySegment(seg), nil
}

func (r segments) List(_ context.Context) ([]*models.Segment, error) {
	defer r.s.lock()()
	list := make([]*models.Segment, 0, len(r.s.data.segments))
	for _, seg := range r.s.data.segments {
		list = append(list, copySegment(seg))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, nil
}

type campaigns struct{ s *Store }

func (r campaigns) Create(_ context.Context, c *models.Campaign) error {
	defer r.s.lock()()
	now := r.s.now()
	c.ID = r.s.data.nextID()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	r.s.data.campaigns[c.CampaignID] = &cp
	return nil
}

func (r campaigns) GetByCampaignID(_ context.Context, campaignID string) (*models.Campaign, error) {
	defer r.s.lock()()
	c, ok := r.s.data.campaigns[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r campaigns) GetWithSegment(_ context.Context, campaignID string) (*models.CampaignWithSegment, error) {
	defer r.s.lock()()
	c, ok := r.s.data.campaigns[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.withSegment(c), nil
}

func (r campaigns) List(_ context.Context, filters repository.CampaignFilters) ([]*models.CampaignWithSegment, int, error) {
	defer r.s.lock()()
	all := []*models.CampaignWithSegment{}
	for _, c := range r.s.data.campaigns {
		if filters.Status != nil && c.Status != *filters.Status {
			continue
		}
		all = append(all, r.withSegment(c))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	_, limit, offset := repository.Pagination(filters.Page, filters.PageSize, 20, 100)
	return window(all, limit, offset), len(all), nil
}

func (r campaigns) ApplyDeliveryCounts(_ context.Context, campaignID string, sent, failed int) (*models.CampaignProgress, error) {
	defer r.s.lock()()
	c, ok := r.s.data.campaigns[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	now := r.s.now()
	c.SentCount += sent
	c.FailedCount += failed
	c.PendingCount -= sent + failed
	c.UpdatedAt = now

	completed := false
	if c.Status == models.CampaignStatusRunning && c.PendingCount <= 0 {
		c.Status = models.CampaignStatusCompleted
		c.CompletedAt = &now
		completed = true
	}

	return &models.CampaignProgress{
		CampaignID:   c.CampaignID,
		SentCount:    c.SentCount,
		FailedCount:  c.FailedCount,
		PendingCount: c.PendingCount,
		Status:       c.Status,
		Completed:    completed,
	}, nil
}

func (r campaigns) withSegment(c *models.Campaign) *models.CampaignWithSegment {
	out := &models.CampaignWithSegment{Campaign: *c}
	if seg, ok := r.s.data.segments[c.SegmentID]; ok {
		out.SegmentName = seg.Name
	}
	return out
}

type logs struct{ s *Store }

func (r logs) CreateBatch(_ context.Context, batch []*models.CommunicationLog) error {
	defer r.s.lock()()
	now := r.s.now()
	for _, l := range batch {
		if l.Status == "" {
			l.Status = models.LogStatusPending
		}
		l.ID = r.s.data.nextID()
		l.CreatedAt, l.UpdatedAt = now, now
		cp := *l
		r.s.data.logs[l.MessageID] = &cp
	}
	return nil
}

func (r logs) GetByMessageID(_ context.Context, messageID string) (*models.CommunicationLog, error) {
	defer r.s.lock()()
	l, ok := r.s.data.logs[messageID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r logs) ListPending(_ context.Context, campaignID string) ([]*models.CommunicationLog, error) {
	defer r.s.lock()()
	list := r.filter(campaignID, func(l *models.CommunicationLog) bool { return l.Status == models.LogStatusPending })
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r logs) List(_ context.Context, filters repository.LogFilters) ([]*models.CommunicationLog, int, error) {
	defer r.s.lock()()
	list := r.filter(filters.CampaignID, func(l *models.CommunicationLog) bool {
		return filters.Status == nil || l.Status == *filters.Status
	})
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })

	_, limit, offset := repository.Pagination(filters.Page, filters.Limit, 50, 200)
	return window(list, limit, offset), len(list), nil
}

func (r logs) ApplyReceipts(_ context.Context, receipts []models.DeliveryReceipt) ([]models.AppliedReceipt, error) {
	defer r.s.lock()()
	now := r.s.now()
	applied := []models.AppliedReceipt{}
	for _, receipt := range receipts {
		l, ok := r.s.data.logs[receipt.MessageID]
		if !ok || l.Status != models.LogStatusPending {
			continue
		}

		l.Status = receipt.Status
		l.VendorMessageID = nonEmpty(receipt.VendorMessageID)
		l.FailureReason = nonEmpty(receipt.FailureReason)
		delivered := receipt.DeliveryTimestamp
		if delivered.IsZero() {
			delivered = now
		}
		l.DeliveryTimestamp = &delivered
		l.UpdatedAt = now

		applied = append(applied, models.AppliedReceipt{MessageID: l.MessageID, CampaignID: l.CampaignID, Status: l.Status})
	}
	return applied, nil
}

func (r logs) filter(campaignID string, keep func(*models.CommunicationLog) bool) []*models.CommunicationLog {
	list := []*models.CommunicationLog{}
	for _, l := range r.s.data.logs {
		if l.CampaignID == campaignID && keep(l) {
			cp := *l
			list = append(list, &cp)
		}
	}
	return list
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func copyCustomer(c *models.Customer) *models.Customer {
	cp := *c
	if c.City != nil {
		city := *c.City
		cp.City = &city
	}
	if c.LastOrderDate != nil {
		date := *c.LastOrderDate
		cp.LastOrderDate = &date
	}
	return &cp
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp
}

func copySegment(s *models.Segment) *models.Segment {
	cp := *s
	cp.Rules = append([]models.Rule(nil), s.Rules...)
	return &cp
}
