package clinic

import (
	"context"
	"time"

	"github.com/wolfman30/medspa-slot-booking/internal/bookingerr"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

// Directory validates reservation requests against stored clinic config.
type Directory struct {
	store  *Store
	logger *logging.Logger
	now    func() time.Time
}

// NewDirectory creates a resource directory over store.
func NewDirectory(store *Store, logger *logging.Logger) *Directory {
	if store == nil {
		panic("clinic: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Directory{store: store, logger: logger, now: time.Now}
}

// Validate returns nil when resourceID is an active practitioner of tenantID
// and slot is a future, on-grid time inside business hours. Rejections carry
// the InvalidResource kind; store failures are returned unkinded.
func (d *Directory) Validate(ctx context.Context, tenantID, resourceID string, slot time.Time) error {
	const op = "clinic.validate"
	cfg, ok, err := d.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return bookingerr.Newf(bookingerr.KindInvalidResource, op, "unknown tenant %s", tenantID)
	}

	p, found := cfg.Practitioner(resourceID)
	if !found {
		return bookingerr.Newf(bookingerr.KindInvalidResource, op, "unknown practitioner %s", resourceID)
	}
	if !p.Active {
		return bookingerr.Newf(bookingerr.KindInvalidResource, op, "practitioner %s not accepting bookings", resourceID)
	}

	now := d.now()
	if !slot.After(now) {
		return bookingerr.Newf(bookingerr.KindInvalidResource, op, "slot %s is in the past", slot.UTC().Format(time.RFC3339))
	}
	if cfg.MaxAdvanceDays > 0 && slot.After(now.AddDate(0, 0, cfg.MaxAdvanceDays)) {
		return bookingerr.Newf(bookingerr.KindInvalidResource, op, "slot beyond %d day booking window", cfg.MaxAdvanceDays)
	}
	if !cfg.Aligned(slot) {
		return bookingerr.Newf(bookingerr.KindInvalidResource, op, "slot not on %d minute grid", cfg.slotMinutes())
	}
	if !cfg.FitsHours(slot) {
		return bookingerr.Newf(bookingerr.KindInvalidResource, op, "slot outside business hours")
	}
	return nil
}
