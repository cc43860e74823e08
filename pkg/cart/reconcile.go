package cart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/darkwings/voicecart/pkg/catalog"
	"github.com/darkwings/voicecart/pkg/live/protocol"
)

// Catalog is the lookup surface the reconciler needs from the catalog
// service.
type Catalog interface {
	LookupBySKU(ctx context.Context, skus []string) ([]catalog.Product, error)
}

// Item is one priced, displayable cart line produced by joining a raw cart
// entry against the catalog. Unmatched codes keep the code as the name with
// a zero price.
type Item struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Image    string  `json:"image"`
}

// View is the reconciled cart snapshot exposed to the presentation layer.
type View struct {
	Items       []Item
	Total       float64
	Count       int
	OrderPlaced bool
}

// ReconcilerConfig tunes the reconciliation engine.
type ReconcilerConfig struct {
	// NoticeAutoDismiss is how long the order-placed notice stays up before
	// dismissing itself. Defaults to 4 seconds.
	NoticeAutoDismiss time.Duration

	// LookupTimeout bounds a single catalog lookup. Defaults to 10 seconds.
	LookupTimeout time.Duration
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.NoticeAutoDismiss <= 0 {
		c.NoticeAutoDismiss = 4 * time.Second
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 10 * time.Second
	}
}

// Reconciler joins raw cart snapshots against the catalog asynchronously.
// Every raw-cart or visibility change while visible triggers one lookup;
// a response belonging to a superseded cart or visibility state is
// discarded, so the displayed view always reflects the latest trigger.
type Reconciler struct {
	config  ReconcilerConfig
	logger  *slog.Logger
	store   *Store
	catalog Catalog

	mu          sync.Mutex
	gen         uint64
	items       []Item
	orderPlaced bool
	noticeTimer *time.Timer
	subs        []func(View)
}

// NewReconciler wires a reconciler to the store's change notifications.
func NewReconciler(store *Store, cat Catalog, config ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	config.applyDefaults()
	r := &Reconciler{
		config:  config,
		logger:  logger,
		store:   store,
		catalog: cat,
	}
	store.Subscribe(r.onStoreChange)
	return r
}

// Subscribe registers fn to run with a fresh view after every reconciliation
// or notice change.
func (r *Reconciler) Subscribe(fn func(View)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

// View returns the current reconciled snapshot.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// OrderCompleted clears both cart representations and raises the one-shot
// order notice, which auto-dismisses after the configured delay.
func (r *Reconciler) OrderCompleted() {
	r.store.Clear()

	r.mu.Lock()
	r.gen++ // suppress any in-flight lookup for the pre-order cart
	r.items = nil
	r.orderPlaced = true
	if r.noticeTimer != nil {
		r.noticeTimer.Stop()
	}
	r.noticeTimer = time.AfterFunc(r.config.NoticeAutoDismiss, r.DismissOrderNotice)
	r.mu.Unlock()

	r.notifyView()
}

// DismissOrderNotice lowers the order notice. Safe to call when it is not
// raised.
func (r *Reconciler) DismissOrderNotice() {
	r.mu.Lock()
	if r.noticeTimer != nil {
		r.noticeTimer.Stop()
		r.noticeTimer = nil
	}
	changed := r.orderPlaced
	r.orderPlaced = false
	r.mu.Unlock()
	if changed {
		r.notifyView()
	}
}

// Reset drops the reconciled view and suppresses in-flight lookups. The
// lifecycle controller calls this on session teardown; the order notice is
// deliberately left alone so a just-placed order stays acknowledged.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.gen++
	r.items = nil
	r.mu.Unlock()
	r.notifyView()
}

func (r *Reconciler) onStoreChange() {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	if !r.store.Visible() {
		return
	}
	go r.lookup(gen, r.store.Raw())
}

func (r *Reconciler) lookup(gen uint64, raw protocol.RawCart) {
	codes := make([]string, 0, len(raw))
	for _, entry := range raw {
		codes = append(codes, entry.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.LookupTimeout)
	defer cancel()
	products, err := r.catalog.LookupBySKU(ctx, codes)

	r.mu.Lock()
	if gen != r.gen {
		// A newer cart or visibility state superseded this lookup.
		r.mu.Unlock()
		r.logger.Debug("discarding stale catalog response", "codes", len(codes))
		return
	}
	if err != nil {
		// Fail safe to an empty cart rather than showing stale prices.
		r.items = nil
		r.mu.Unlock()
		r.logger.Warn("catalog lookup failed", "error", err)
		r.notifyView()
		return
	}
	r.items = join(raw, products)
	r.mu.Unlock()
	r.notifyView()
}

// join left-joins the raw cart against the catalog by SKU, preserving the
// raw cart's order.
func join(raw protocol.RawCart, products []catalog.Product) []Item {
	bySKU := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		bySKU[p.SKU] = p
	}
	items := make([]Item, 0, len(raw))
	for _, entry := range raw {
		item := Item{
			SKU:      entry.Code,
			Name:     entry.Code,
			Quantity: entry.Amount,
		}
		if p, ok := bySKU[entry.Code]; ok {
			item.Name = p.Title
			item.Price = p.Price
			item.Image = p.MobImg
		}
		items = append(items, item)
	}
	return items
}

func (r *Reconciler) viewLocked() View {
	view := View{
		Items:       append([]Item(nil), r.items...),
		OrderPlaced: r.orderPlaced,
	}
	for _, item := range r.items {
		view.Total += item.Price * float64(item.Quantity)
		view.Count += item.Quantity
	}
	return view
}

func (r *Reconciler) notifyView() {
	r.mu.Lock()
	view := r.viewLocked()
	subs := append(([]func(View))(nil), r.subs...)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(view)
	}
}
