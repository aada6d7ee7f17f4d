package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
	"github.com/custodia-labs/ordersync/internal/logger"
)

const (
	selectSeq = `SELECT value FROM store_meta WHERE key = 'commit_seq'`
	bumpSeq   = `UPDATE store_meta SET value = value + 1 WHERE key = 'commit_seq' RETURNING value`

	orderColumns = `id, remote_id, company_id, customer_id, customer_email, customer_name, title,
		status, payment_status, total_cents, currency, order_time, modified_time, timestamp_defaulted,
		shipping_address, billing_address, tracking_number, promo_codes, lead_affiliate_id, raw, last_synced_at`

	upsertOrderSQL = `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET
			company_id = excluded.company_id,
			customer_id = excluded.customer_id,
			customer_email = excluded.customer_email,
			customer_name = excluded.customer_name,
			title = excluded.title,
			status = excluded.status,
			payment_status = excluded.payment_status,
			total_cents = excluded.total_cents,
			currency = excluded.currency,
			order_time = excluded.order_time,
			modified_time = excluded.modified_time,
			timestamp_defaulted = excluded.timestamp_defaulted,
			shipping_address = excluded.shipping_address,
			billing_address = excluded.billing_address,
			tracking_number = excluded.tracking_number,
			promo_codes = excluded.promo_codes,
			lead_affiliate_id = excluded.lead_affiliate_id,
			raw = excluded.raw,
			last_synced_at = excluded.last_synced_at
		RETURNING id`

	insertItemSQL = `
		INSERT INTO order_items (order_id, position, remote_id, product_id, product_name, quantity, unit_price_cents, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	topProductsLimit = 10
)

// session implements driven.Session. Reads observe at least seq.
type session struct {
	store *Store

	mu          sync.Mutex
	seq         uint64
	primaryOnly bool
}

var _ driven.Session = (*session)(nil)

// Bookmark returns the token for the latest commit this session has seen.
func (s *session) Bookmark() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Bookmark{Seq: s.seq}.Encode()
}

func (s *session) observe(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.seq {
		s.seq = seq
	}
	s.primaryOnly = false
}

// readDB picks the pool for the next read: the replica when it has caught
// up with the session, otherwise the primary.
func (s *session) readDB(ctx context.Context) *sql.DB {
	s.mu.Lock()
	seq, primaryOnly := s.seq, s.primaryOnly
	s.mu.Unlock()

	replica := s.store.replica
	if replica == nil || primaryOnly {
		return s.store.primary
	}
	if seq == 0 {
		return replica
	}

	var replicaSeq uint64
	if err := replica.QueryRowContext(ctx, selectSeq).Scan(&replicaSeq); err != nil {
		logger.Debug("sqlite: replica sequence unavailable, reading primary: %v", err)
		return s.store.primary
	}
	if replicaSeq >= seq {
		return replica
	}
	return s.store.primary
}

// read runs fn in a read transaction, initialising the schema and
// re-running fn once if a table is missing.
func (s *session) read(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	err := s.readOnce(ctx, op, fn)
	if isSchemaMissing(err) {
		if healErr := s.store.initSchema(); healErr != nil {
			return healErr
		}
		err = s.readOnce(ctx, op, fn)
	}
	return err
}

func (s *session) readOnce(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.readDB(ctx).BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq uint64
	if err := tx.QueryRowContext(ctx, selectSeq).Scan(&seq); err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	s.observe(seq)
	return nil
}

// write runs fn in a write transaction on the primary and advances the
// commit sequence. A missing table triggers one schema initialisation
// and one re-run.
func (s *session) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	err := s.writeOnce(ctx, op, fn)
	if isSchemaMissing(err) {
		if healErr := s.store.initSchema(); healErr != nil {
			return healErr
		}
		err = s.writeOnce(ctx, op, fn)
	}
	return err
}

func (s *session) writeOnce(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.store.primary.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	var seq uint64
	if err := tx.QueryRowContext(ctx, bumpSeq).Scan(&seq); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	s.observe(seq)
	return nil
}

// UpsertBatch writes orders in chunks of the store's chunk size. Each
// chunk is one transaction; a failed chunk is rolled back and reported
// and the remaining chunks are still written. The returned error is the
// first chunk failure, if any.
func (s *session) UpsertBatch(ctx context.Context, orders []domain.Order) (domain.UpsertResult, error) {
	var result domain.UpsertResult
	if len(orders) == 0 {
		return result, nil
	}

	now := s.store.now().UTC()
	size := s.store.chunkSize
	var firstErr error

	for index, start := 0, 0; start < len(orders); index, start = index+1, start+size {
		chunk := orders[start:min(start+size, len(orders))]

		if err := ctx.Err(); err != nil {
			result.Failed += len(orders) - start
			if firstErr == nil {
				firstErr = err
			}
			break
		}

		err := s.write(ctx, "upsert orders", func(tx *sql.Tx) error {
			for i := range chunk {
				if err := upsertOrder(ctx, tx, &chunk[i], now); err != nil {
					return fmt.Errorf("order %s: %w", chunk[i].RemoteID, err)
				}
			}
			return nil
		})
		if err != nil {
			writeErr := &domain.WriteError{Chunk: index, Err: err}
			result.Chunks = append(result.Chunks, domain.ChunkError{
				Index:     index,
				RemoteIDs: remoteIDs(chunk),
				Err:       writeErr,
			})
			result.Failed += len(chunk)
			if firstErr == nil {
				firstErr = writeErr
			}
			logger.Warn("sqlite: chunk %d (%d orders) failed: %v", index, len(chunk), err)
			continue
		}
		result.Written += len(chunk)
	}

	return result, firstErr
}

// upsertOrder fully overwrites the order row keyed by remote ID, keeping
// its local ID, and replaces its items.
func upsertOrder(ctx context.Context, tx *sql.Tx, o *domain.Order, syncedAt time.Time) error {
	id := o.ID
	if id == "" {
		id = uuid.NewString()
	}

	promo, err := json.Marshal(nonNilStrings(o.PromoCodes))
	if err != nil {
		return fmt.Errorf("marshalling promo codes: %w", err)
	}

	var orderID string
	err = tx.QueryRowContext(ctx, upsertOrderSQL,
		id, o.RemoteID, nullString(o.CompanyID), o.CustomerID,
		nullString(o.CustomerEmail), nullString(o.CustomerName), nullString(o.Title),
		string(o.Status), o.PaymentStatus, int64(o.Total), o.Currency,
		formatTime(o.OrderTime), formatTime(o.ModifiedTime), boolToInt(o.TimestampDefaulted),
		jsonObject(o.ShippingAddress), jsonObject(o.BillingAddress),
		nullString(o.TrackingNumber), string(promo), nullString(o.LeadAffiliateID),
		nullString(string(o.Raw)), formatTime(syncedAt),
	).Scan(&orderID)
	if err != nil {
		return fmt.Errorf("upserting order: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = ?", orderID); err != nil {
		return fmt.Errorf("deleting items: %w", err)
	}
	for pos, item := range o.Items {
		if _, err := tx.ExecContext(ctx, insertItemSQL,
			orderID, pos, nullString(item.RemoteID), item.ProductID, item.ProductName,
			item.Quantity, int64(item.UnitPrice), nullString(item.Notes),
		); err != nil {
			return fmt.Errorf("inserting item %d: %w", pos, err)
		}
	}
	return nil
}

// CountOrders returns the number of stored orders.
func (s *session) CountOrders(ctx context.Context) (int, error) {
	var n int
	err := s.read(ctx, "count orders", func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&n)
	})
	return n, err
}

// ListOrders returns a page of orders, newest first, with their items.
func (s *session) ListOrders(ctx context.Context, filter domain.OrderFilter) (*domain.OrderPage, error) {
	filter = filter.Normalised()

	where := ""
	var args []any
	if filter.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(filter.Status))
	}

	page := &domain.OrderPage{Orders: []domain.Order{}, Page: filter.Page, Limit: filter.Limit}
	err := s.read(ctx, "list orders", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&page.Total); err != nil {
			return fmt.Errorf("counting orders: %w", err)
		}

		rows, err := tx.QueryContext(ctx,
			"SELECT "+orderColumns+" FROM orders"+where+" ORDER BY order_time DESC, remote_id LIMIT ? OFFSET ?",
			append(args, filter.Limit, filter.Offset())...)
		if err != nil {
			return fmt.Errorf("querying orders: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			order, err := scanOrder(rows)
			if err != nil {
				return err
			}
			page.Orders = append(page.Orders, *order)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating orders: %w", err)
		}
		return loadItems(ctx, tx, page.Orders)
	})
	if err != nil {
		return nil, err
	}

	page.Pages = (page.Total + filter.Limit - 1) / filter.Limit
	return page, nil
}

// GetOrder returns an order and its items by remote ID.
func (s *session) GetOrder(ctx context.Context, remoteID string) (*domain.Order, error) {
	var order *domain.Order
	err := s.read(ctx, "get order", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE remote_id = ?", remoteID)
		o, err := scanOrder(row)
		if err != nil {
			return err
		}
		orders := []domain.Order{*o}
		if err := loadItems(ctx, tx, orders); err != nil {
			return err
		}
		order = &orders[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Metrics summarises orders placed on or after since.
func (s *session) Metrics(ctx context.Context, since time.Time) (*domain.OrderMetrics, error) {
	m := &domain.OrderMetrics{
		Since:           since.UTC(),
		StatusBreakdown: []domain.StatusBreakdown{},
		DailySales:      []domain.DailySales{},
		TopProducts:     []domain.ProductSales{},
	}
	from := formatTime(since)
	if from == nil {
		from = ""
	}

	err := s.read(ctx, "order metrics", func(tx *sql.Tx) error {
		var revenue int64
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(total_cents), 0) FROM orders WHERE order_time >= ?
		`, from).Scan(&m.OrderCount, &revenue); err != nil {
			return fmt.Errorf("summing orders: %w", err)
		}
		m.TotalRevenue = domain.Money(revenue)
		if m.OrderCount > 0 {
			m.AvgOrderValue = domain.Money(revenue / int64(m.OrderCount))
		}

		if err := queryEach(ctx, tx, `
			SELECT status, COUNT(*), COALESCE(SUM(total_cents), 0)
			FROM orders WHERE order_time >= ?
			GROUP BY status ORDER BY COUNT(*) DESC, status
		`, []any{from}, func(rows *sql.Rows) error {
			var b domain.StatusBreakdown
			var status string
			var rev int64
			if err := rows.Scan(&status, &b.Count, &rev); err != nil {
				return err
			}
			b.Status, b.Revenue = domain.OrderStatus(status), domain.Money(rev)
			m.StatusBreakdown = append(m.StatusBreakdown, b)
			return nil
		}); err != nil {
			return fmt.Errorf("status breakdown: %w", err)
		}

		if err := queryEach(ctx, tx, `
			SELECT substr(order_time, 1, 10) AS day, COUNT(*), COALESCE(SUM(total_cents), 0)
			FROM orders WHERE order_time >= ?
			GROUP BY day ORDER BY day
		`, []any{from}, func(rows *sql.Rows) error {
			var d domain.DailySales
			var rev int64
			if err := rows.Scan(&d.Date, &d.Orders, &rev); err != nil {
				return err
			}
			d.Revenue = domain.Money(rev)
			m.DailySales = append(m.DailySales, d)
			return nil
		}); err != nil {
			return fmt.Errorf("daily sales: %w", err)
		}

		if err := queryEach(ctx, tx, `
			SELECT i.product_name, COUNT(DISTINCT i.order_id), COALESCE(SUM(i.quantity * i.unit_price_cents), 0) AS revenue
			FROM order_items i JOIN orders o ON o.id = i.order_id
			WHERE o.order_time >= ?
			GROUP BY i.product_name ORDER BY revenue DESC, i.product_name
			LIMIT ?
		`, []any{from, topProductsLimit}, func(rows *sql.Rows) error {
			var p domain.ProductSales
			var rev int64
			if err := rows.Scan(&p.ProductName, &p.OrderCount, &rev); err != nil {
				return err
			}
			p.Revenue = domain.Money(rev)
			m.TopProducts = append(m.TopProducts, p)
			return nil
		}); err != nil {
			return fmt.Errorf("top products: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ==================== Helper Functions ====================

type scanner interface {
	Scan(dest ...any) error
}

// scanOrder scans one row selected with orderColumns. Items are left empty.
func scanOrder(row scanner) (*domain.Order, error) {
	var o domain.Order
	var companyID, email, name, title, tracking, affiliate, raw sql.NullString
	var orderTime, modifiedTime, syncedAt sql.NullString
	var status, shipping, billing, promo string
	var total int64
	var defaulted int

	if err := row.Scan(&o.ID, &o.RemoteID, &companyID, &o.CustomerID, &email, &name, &title,
		&status, &o.PaymentStatus, &total, &o.Currency, &orderTime, &modifiedTime, &defaulted,
		&shipping, &billing, &tracking, &promo, &affiliate, &raw, &syncedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning order: %w", err)
	}

	o.CompanyID = companyID.String
	o.CustomerEmail = email.String
	o.CustomerName = name.String
	o.Title = title.String
	o.Status = domain.OrderStatus(status)
	o.Total = domain.Money(total)
	o.OrderTime = parseTime(orderTime)
	o.ModifiedTime = parseTime(modifiedTime)
	o.TimestampDefaulted = defaulted == 1
	o.ShippingAddress = json.RawMessage(shipping)
	o.BillingAddress = json.RawMessage(billing)
	o.TrackingNumber = tracking.String
	o.LeadAffiliateID = affiliate.String
	if raw.Valid {
		o.Raw = json.RawMessage(raw.String)
	}
	o.LastSyncedAt = parseTime(syncedAt)
	o.Items = []domain.LineItem{}

	o.PromoCodes = []string{}
	if err := json.Unmarshal([]byte(promo), &o.PromoCodes); err != nil {
		return nil, fmt.Errorf("unmarshalling promo codes: %w", err)
	}

	return &o, nil
}

// loadItems fills the items of orders with one query.
func loadItems(ctx context.Context, tx *sql.Tx, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	index := make(map[string]int, len(orders))
	args := make([]any, len(orders))
	for i, o := range orders {
		index[o.ID] = i
		args[i] = o.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orders)), ",")

	return queryEach(ctx, tx, `
		SELECT order_id, remote_id, product_id, product_name, quantity, unit_price_cents, notes
		FROM order_items WHERE order_id IN (`+placeholders+`)
		ORDER BY order_id, position
	`, args, func(rows *sql.Rows) error {
		var orderID string
		var remoteID, notes sql.NullString
		var item domain.LineItem
		var price int64
		if err := rows.Scan(&orderID, &remoteID, &item.ProductID, &item.ProductName,
			&item.Quantity, &price, &notes); err != nil {
			return fmt.Errorf("scanning item: %w", err)
		}
		item.RemoteID = remoteID.String
		item.Notes = notes.String
		item.UnitPrice = domain.Money(price)
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
		return nil
	})
}

// queryEach runs query and calls fn for every row.
func queryEach(ctx context.Context, tx *sql.Tx, query string, args []any, fn func(*sql.Rows) error) error {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func remoteIDs(orders []domain.Order) []string {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.RemoteID
	}
	return ids
}

// jsonObject returns the payload as text, "{}" when absent.
func jsonObject(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullString returns nil for empty strings, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// boolToInt converts a bool to 1 (true) or 0 (false).
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
