// Package directory maps virtual payment addresses to (bank, account)
// pairs. Lookups go through a bloom filter of every handle ever linked
// (a miss there is a definite "not linked") and a TTL resolution cache
// before hitting the authoritative table.
package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/infra/observability"
	"github.com/nkhatri/upi-switch/internal/port"

	"github.com/bits-and-blooms/bloom/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("directory")

const (
	bloomCapacity      = 1_000_000
	bloomFalsePositive = 0.01
)

// Directory is the authoritative VPA registry.
type Directory struct {
	cache   port.ResolutionCache
	metrics *observability.Metrics
	logger  *zap.Logger

	mu       sync.RWMutex
	bindings map[string]*domain.VPABinding

	// seen holds every VPA that was ever linked. Unlinking cannot
	// remove from a bloom filter, so a hit only means "check the
	// table"; a miss means the VPA was never linked at all. The filter
	// is not goroutine-safe, so it carries its own lock.
	seenMu sync.RWMutex
	seen   *bloom.BloomFilter
}

// New creates a VPA directory backed by the given resolution cache.
func New(cache port.ResolutionCache, metrics *observability.Metrics, logger *zap.Logger) *Directory {
	return &Directory{
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		bindings: make(map[string]*domain.VPABinding),
		seen:     bloom.NewWithEstimates(bloomCapacity, bloomFalsePositive),
	}
}

// Link binds a VPA to an account. Re-invoking with the identical
// binding succeeds idempotently; a binding to a different account
// fails with ErrAlreadyLinked unless Relink is set, in which case the
// previous binding is replaced.
func (d *Directory) Link(ctx context.Context, req *domain.LinkVPARequest) error {
	ctx, span := tracer.Start(ctx, "Directory.Link")
	defer span.End()
	span.SetAttributes(attribute.String("vpa", req.VPA))

	vpa, err := normalize(req.VPA)
	if err != nil {
		return err
	}
	if req.BankCode == "" {
		return &domain.ErrValidation{Field: "bankCode", Message: "required"}
	}
	if req.AccountNumber == "" {
		return &domain.ErrValidation{Field: "accountNumber", Message: "required"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if existing, ok := d.bindings[vpa]; ok && existing.Active {
		if existing.BankCode == req.BankCode && existing.AccountNumber == req.AccountNumber {
			// Identical binding, idempotent success.
			if existing.Primary != req.Primary {
				existing.Primary = req.Primary
				existing.UpdatedAt = now
			}
			return nil
		}
		if !req.Relink {
			return &domain.ErrAlreadyLinked{VPA: vpa, BankCode: existing.BankCode}
		}
		d.logger.Info("vpa rebound",
			zap.String("vpa", vpa),
			zap.String("old_bank", existing.BankCode),
			zap.String("new_bank", req.BankCode),
		)
	}

	d.bindings[vpa] = &domain.VPABinding{
		VPA:           vpa,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		Primary:       req.Primary,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	d.seenMu.Lock()
	d.seen.AddString(vpa)
	d.seenMu.Unlock()
	d.cache.Invalidate(ctx, vpa)

	return nil
}

// Unlink removes a binding. Already-unlinked is a no-op success.
func (d *Directory) Unlink(ctx context.Context, req *domain.UnlinkVPARequest) error {
	ctx, span := tracer.Start(ctx, "Directory.Unlink")
	defer span.End()

	vpa, err := normalize(req.VPA)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.bindings[vpa]
	if !ok || !existing.Active {
		return nil
	}
	if req.BankCode != "" && existing.BankCode != req.BankCode {
		return &domain.ErrValidation{Field: "bankCode", Message: "vpa is linked at a different bank"}
	}

	delete(d.bindings, vpa)
	d.cache.Invalidate(ctx, vpa)
	return nil
}

// Deactivate disables a binding without removing it, so resolution
// reports Exists=true, Active=false.
func (d *Directory) Deactivate(ctx context.Context, vpa string) error {
	v, err := normalize(vpa)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.bindings[v]
	if !ok {
		return &domain.ErrNotFound{Resource: "vpa", ID: v}
	}
	existing.Active = false
	existing.UpdatedAt = time.Now()
	d.cache.Invalidate(ctx, v)
	return nil
}

// SetHolderName attaches the account holder's display name to a
// binding, surfaced by Resolve for payee confirmation screens.
func (d *Directory) SetHolderName(ctx context.Context, vpa, holderName string) error {
	v, err := normalize(vpa)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.bindings[v]
	if !ok {
		return &domain.ErrNotFound{Resource: "vpa", ID: v}
	}
	existing.HolderName = holderName
	existing.UpdatedAt = time.Now()
	d.cache.Invalidate(ctx, v)
	return nil
}

// Resolve looks up a VPA. A pure read: absence yields Exists=false
// with a nil error.
func (d *Directory) Resolve(ctx context.Context, vpa string) (*domain.Resolution, error) {
	ctx, span := tracer.Start(ctx, "Directory.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("vpa", vpa))

	v, err := normalize(vpa)
	if err != nil {
		return nil, err
	}

	// Never-linked handles short-circuit on the bloom filter.
	d.seenMu.RLock()
	seen := d.seen.TestString(v)
	d.seenMu.RUnlock()
	if !seen {
		d.metrics.IncrVPACacheMiss("bloom")
		return &domain.Resolution{Exists: false, VPA: v}, nil
	}

	if cached, ok := d.cache.Get(ctx, v); ok {
		d.metrics.IncrVPACacheHit("vpa")
		return cached, nil
	}
	d.metrics.IncrVPACacheMiss("vpa")

	// Copy the binding under the lock; Deactivate and SetHolderName
	// mutate it in place.
	d.mu.RLock()
	binding, ok := d.bindings[v]
	var snapshot domain.VPABinding
	if ok {
		snapshot = *binding
	}
	d.mu.RUnlock()

	res := &domain.Resolution{Exists: false, VPA: v}
	if ok {
		res = &domain.Resolution{
			Exists:        true,
			VPA:           v,
			BankCode:      snapshot.BankCode,
			AccountNumber: snapshot.AccountNumber,
			HolderName:    snapshot.HolderName,
			Active:        snapshot.Active,
		}
	}

	d.cache.Set(ctx, v, res)
	return res, nil
}

// normalize lowercases and validates the handle shape (local@bank).
func normalize(vpa string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(vpa))
	if v == "" {
		return "", &domain.ErrValidation{Field: "vpa", Message: "required"}
	}
	at := strings.Index(v, "@")
	if at <= 0 || at == len(v)-1 || strings.Count(v, "@") != 1 {
		return "", &domain.ErrValidation{Field: "vpa", Message: "must be of the form name@bank"}
	}
	return v, nil
}
