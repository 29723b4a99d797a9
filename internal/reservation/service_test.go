package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-slot-booking/internal/audit"
	"github.com/wolfman30/medspa-slot-booking/internal/bookingerr"
	"github.com/wolfman30/medspa-slot-booking/internal/bookings"
	"github.com/wolfman30/medspa-slot-booking/internal/otp"
	"github.com/wolfman30/medspa-slot-booking/internal/slotlock"
	"github.com/wolfman30/medspa-slot-booking/internal/tenancy"
)

type stubDeliverer struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (d *stubDeliverer) Deliver(_ context.Context, contact bookings.Contact, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.codes == nil {
		d.codes = map[string]string{}
	}
	d.codes[contact.Identifier()] = code
	return d.err
}

func (d *stubDeliverer) last(contact string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codes[contact]
}

type memoryLedger struct {
	mu        sync.Mutex
	persisted map[string]*bookings.Record
	calls     int
	failNext  error
	markErr   error
}

func (l *memoryLedger) Persist(_ context.Context, d *bookings.Draft) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return "", err
	}
	if l.persisted == nil {
		l.persisted = map[string]*bookings.Record{}
	}
	if rec, ok := l.persisted[d.ID]; ok {
		return rec.ID.String(), nil
	}
	if l.liveAt(d.TenantID, d.ResourceID, d.SlotTime) {
		return "", bookingerr.Newf(bookingerr.KindSlotUnavailable, "ledger.persist", "slot already booked")
	}
	rec := &bookings.Record{
		ID:          uuid.New(),
		DraftID:     d.ID,
		TenantID:    d.TenantID,
		ResourceID:  d.ResourceID,
		SlotTime:    d.SlotTime,
		Status:      bookings.StateConfirmed,
		ContactName: d.Contact.Name,
		Phone:       d.Contact.Phone,
		Email:       d.Contact.Email,
	}
	l.persisted[d.ID] = rec
	return rec.ID.String(), nil
}

func (l *memoryLedger) GetByDraft(_ context.Context, tenantID, draftID string) (*bookings.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.persisted[draftID]
	if !ok || rec.TenantID != tenantID {
		return nil, fmt.Errorf("booking %s: %w", draftID, pgx.ErrNoRows)
	}
	cp := *rec
	return &cp, nil
}

func (l *memoryLedger) liveAt(tenantID, resourceID string, slot time.Time) bool {
	for _, rec := range l.persisted {
		if rec.TenantID == tenantID && rec.ResourceID == resourceID &&
			rec.SlotTime.Equal(slot) && rec.Status != bookings.StateCancelled {
			return true
		}
	}
	return false
}

func (l *memoryLedger) SlotTaken(_ context.Context, tenantID, resourceID string, slot time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.liveAt(tenantID, resourceID, slot), nil
}

func (l *memoryLedger) mark(tenantID, bookingID string, to bookings.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markErr != nil {
		return l.markErr
	}
	for _, rec := range l.persisted {
		if rec.ID.String() == bookingID && rec.TenantID == tenantID {
			if rec.Status != bookings.StateConfirmed {
				return fmt.Errorf("booking %s: %w", bookingID, bookings.ErrNotConfirmed)
			}
			rec.Status = to
			return nil
		}
	}
	return fmt.Errorf("booking %s: %w", bookingID, bookings.ErrNotConfirmed)
}

func (l *memoryLedger) MarkCheckedIn(_ context.Context, tenantID, bookingID string, _ time.Time) error {
	return l.mark(tenantID, bookingID, bookings.StateCheckedIn)
}

func (l *memoryLedger) MarkCancelled(_ context.Context, tenantID, bookingID string, _ time.Time) error {
	return l.mark(tenantID, bookingID, bookings.StateCancelled)
}

type directoryFunc func(ctx context.Context, tenantID, resourceID string, slot time.Time) error

func (f directoryFunc) Validate(ctx context.Context, tenantID, resourceID string, slot time.Time) error {
	return f(ctx, tenantID, resourceID, slot)
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAuditor) count(action audit.Action) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Action == action {
			n++
		}
	}
	return n
}

type harness struct {
	mr      *miniredis.Miniredis
	client  *redis.Client
	svc     *Service
	locks   *slotlock.Manager
	machine *bookings.Machine
	deliver *stubDeliverer
	ledger  *memoryLedger
	auditor *recordingAuditor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	auditor := &recordingAuditor{}
	locks := slotlock.NewManager(client, slotlock.DefaultTTL, nil)
	cfg := otp.DefaultConfig()
	cfg.Secret = "test-secret"
	codes := otp.NewService(client, cfg, nil)
	machine := bookings.NewMachine(bookings.NewStore(client), auditor, bookings.DefaultMachineConfig(), nil)
	h := &harness{
		mr:      mr,
		client:  client,
		locks:   locks,
		machine: machine,
		deliver: &stubDeliverer{},
		ledger:  &memoryLedger{},
		auditor: auditor,
	}
	h.svc = NewService(Deps{
		Locks:     locks,
		Codes:     codes,
		Machine:   machine,
		Deliverer: h.deliver,
		Ledger:    h.ledger,
		Auditor:   auditor,
	})
	return h
}

const patientPhone = "+966512345678"

var slot = time.Date(2026, 2, 8, 10, 0, 0, 0, time.UTC)

func reserveRequest() ReserveRequest {
	return ReserveRequest{
		TenantID:   "h1",
		ResourceID: "doc1",
		SlotTime:   slot,
		Contact:    bookings.Contact{Name: "Sara", Phone: patientPhone},
	}
}

func TestEndToEnd_ReserveRequestConfirm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	assert.Equal(t, bookings.StateInitiated, res.State)
	assert.True(t, h.mr.Exists("slotlock:h1:doc1:2026-02-08T10:00:00Z"))

	req, err := h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StateAwaitingOTP, req.State)
	assert.True(t, req.Delivered)
	code := h.deliver.last(patientPhone)
	require.Len(t, code, 6)

	confirmed, err := h.svc.ConfirmWithCode(ctx, res.DraftID, code)
	require.NoError(t, err)
	assert.Equal(t, bookings.StateConfirmed, confirmed.State)
	assert.NotEmpty(t, confirmed.BookingID)
	assert.Equal(t, 1, h.ledger.calls, "durable persist called exactly once")

	assert.False(t, h.mr.Exists("slotlock:h1:doc1:2026-02-08T10:00:00Z"), "lock released after persist")
	assert.False(t, h.mr.Exists(bookings.DraftKey(res.DraftID)), "draft discarded after persist")
	assert.Equal(t, 1, h.auditor.count(audit.ActionBookingPersisted))
	assert.Equal(t, 1, h.auditor.count(audit.ActionSlotLockReleased))

	// The same code cannot be replayed.
	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, code)
	assert.ErrorIs(t, err, bookingerr.ErrNotFound)
	assert.Equal(t, 1, h.ledger.calls)
}

func TestReserve_Collision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)

	other := reserveRequest()
	other.Contact = bookings.Contact{Phone: "+966500000000"}
	_, err = h.svc.Reserve(ctx, other)
	assert.ErrorIs(t, err, bookingerr.ErrSlotUnavailable)

	otherDoc := reserveRequest()
	otherDoc.ResourceID = "doc2"
	_, err = h.svc.Reserve(ctx, otherDoc)
	assert.NoError(t, err, "another practitioner at the same time is independent")

	otherTenant := reserveRequest()
	otherTenant.TenantID = "h2"
	_, err = h.svc.Reserve(ctx, otherTenant)
	assert.NoError(t, err, "another tenant at the same time is independent")
}

func TestReserve_ConcurrentOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const callers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners, busy := 0, 0
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := reserveRequest()
			req.Contact = bookings.Contact{Phone: fmt.Sprintf("+9665000000%02d", i)}
			_, err := h.svc.Reserve(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if bookingerr.Is(err, bookingerr.KindSlotUnavailable) {
				busy++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, callers-1, busy)
}

func TestReserve_InvalidResource(t *testing.T) {
	h := newHarness(t)
	h.svc.directory = directoryFunc(func(_ context.Context, _, resourceID string, _ time.Time) error {
		if resourceID != "doc1" {
			return errors.New("unknown practitioner")
		}
		return nil
	})
	ctx := context.Background()

	req := reserveRequest()
	req.ResourceID = "ghost"
	_, err := h.svc.Reserve(ctx, req)
	assert.ErrorIs(t, err, bookingerr.ErrInvalidResource)
	assert.False(t, h.mr.Exists("slotlock:h1:ghost:2026-02-08T10:00:00Z"), "no lock taken for invalid resource")

	req = reserveRequest()
	req.Contact = bookings.Contact{}
	_, err = h.svc.Reserve(ctx, req)
	assert.ErrorIs(t, err, bookingerr.ErrInvalidResource)

	_, err = h.svc.Reserve(ctx, reserveRequest())
	assert.NoError(t, err)
}

func TestRequestCode_RepeatIssuesFreshCodeWithoutTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	first, err := h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)
	second, err := h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)

	assert.NotEqual(t, first.ChallengeID, second.ChallengeID)
	assert.Equal(t, bookings.StateAwaitingOTP, second.State)

	d, err := h.machine.Get(ctx, res.DraftID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Version, "second request did not transition")
}

func TestRequestCode_DeliveryFailureIsNotRolledBack(t *testing.T) {
	h := newHarness(t)
	h.deliver.err = errors.New("carrier down")
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	req, err := h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)
	assert.False(t, req.Delivered)
	assert.Equal(t, bookings.StateAwaitingOTP, req.State)
}

func TestRequestCode_RateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := h.svc.RequestCode(ctx, res.DraftID)
		require.NoError(t, err)
	}
	_, err = h.svc.RequestCode(ctx, res.DraftID)
	assert.ErrorIs(t, err, bookingerr.ErrRateLimited)
}

func TestConfirm_LockExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)
	code := h.deliver.last(patientPhone)

	h.mr.FastForward(slotlock.DefaultTTL + time.Second)

	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, code)
	assert.ErrorIs(t, err, bookingerr.ErrLockExpired)
	assert.Zero(t, h.ledger.calls)

	// The slot is free for someone else.
	other := reserveRequest()
	other.Contact = bookings.Contact{Phone: "+966500000000"}
	_, err = h.svc.Reserve(ctx, other)
	assert.NoError(t, err)
}

func TestRequestCode_LockExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	h.mr.FastForward(slotlock.DefaultTTL + time.Second)

	_, err = h.svc.RequestCode(ctx, res.DraftID)
	assert.ErrorIs(t, err, bookingerr.ErrLockExpired)
}

func TestConfirm_WrongCodeThenRight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)
	code := h.deliver.last(patientPhone)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, wrong)
	assert.ErrorIs(t, err, bookingerr.ErrCodeInvalid)
	assert.Equal(t, 1, h.auditor.count(audit.ActionCodeRejected))

	d, err := h.machine.Get(ctx, res.DraftID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StateAwaitingOTP, d.State)

	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, code)
	require.NoError(t, err)
	assert.Equal(t, 1, h.ledger.calls)
}

func TestConfirm_CodeExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)
	code := h.deliver.last(patientPhone)

	// Past the 300s code TTL but inside the 600s lock.
	h.mr.FastForward(301 * time.Second)

	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, code)
	assert.ErrorIs(t, err, bookingerr.ErrCodeExpired)
}

func TestConfirm_BeforeRequestCodeIsInvalidTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, "123456")
	assert.ErrorIs(t, err, bookingerr.ErrInvalidTransition)
}

func TestConfirm_PersistFailureRetriesWithoutCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)
	code := h.deliver.last(patientPhone)

	h.ledger.failNext = errors.New("db down")
	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, code)
	require.Error(t, err)
	assert.Equal(t, bookingerr.KindInternal, bookingerr.KindOf(err))

	d, err := h.machine.Get(ctx, res.DraftID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StateConfirmed, d.State)
	assert.True(t, h.mr.Exists("slotlock:h1:doc1:2026-02-08T10:00:00Z"), "lock still held while persist is pending")

	confirmed, err := h.svc.ConfirmWithCode(ctx, res.DraftID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, confirmed.BookingID)
	assert.Len(t, h.ledger.persisted, 1)
}

func TestCancel_DraftReleasesSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)

	cancelled, err := h.svc.Cancel(ctx, res.DraftID, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, bookings.StateCancelled, cancelled.State)
	assert.False(t, h.mr.Exists("slotlock:h1:doc1:2026-02-08T10:00:00Z"))
	assert.False(t, h.mr.Exists(bookings.DraftKey(res.DraftID)))

	_, err = h.svc.Reserve(ctx, reserveRequest())
	assert.NoError(t, err)
}

func confirmBooking(t *testing.T, h *harness) *Reservation {
	t.Helper()
	ctx := context.Background()
	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)
	confirmed, err := h.svc.ConfirmWithCode(ctx, res.DraftID, h.deliver.last(patientPhone))
	require.NoError(t, err)
	return confirmed
}

func TestCheckIn_DurableBooking(t *testing.T) {
	h := newHarness(t)
	confirmed := confirmBooking(t, h)
	ctx := tenancy.WithTenantID(context.Background(), "h1")

	checked, err := h.svc.CheckIn(ctx, confirmed.DraftID, "staff-4")
	require.NoError(t, err)
	assert.Equal(t, bookings.StateCheckedIn, checked.State)
	assert.Equal(t, bookings.StateCheckedIn, h.ledger.persisted[confirmed.DraftID].Status)

	_, err = h.svc.CheckIn(ctx, confirmed.DraftID, "staff-4")
	assert.ErrorIs(t, err, bookingerr.ErrInvalidTransition, "terminal booking rejects further moves")
	_, err = h.svc.Cancel(ctx, confirmed.DraftID, "late")
	assert.ErrorIs(t, err, bookingerr.ErrInvalidTransition)
}

func TestCancel_DurableBooking(t *testing.T) {
	h := newHarness(t)
	confirmed := confirmBooking(t, h)
	ctx := tenancy.WithTenantID(context.Background(), "h1")

	cancelled, err := h.svc.Cancel(ctx, confirmed.DraftID, "sick")
	require.NoError(t, err)
	assert.Equal(t, bookings.StateCancelled, cancelled.State)

	_, err = h.svc.CheckIn(ctx, confirmed.DraftID, "staff-4")
	assert.ErrorIs(t, err, bookingerr.ErrInvalidTransition)
}

func TestCheckIn_UnconfirmedDraftRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.CheckIn(ctx, res.DraftID, "staff-1")
	assert.ErrorIs(t, err, bookingerr.ErrInvalidTransition)

	_, err = h.svc.CheckIn(ctx, res.DraftID, "")
	assert.Error(t, err)
}

func TestGet_ScopesByTenant(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Reserve(context.Background(), reserveRequest())
	require.NoError(t, err)

	got, err := h.svc.Get(tenancy.WithTenantID(context.Background(), "h1"), res.DraftID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StateInitiated, got.State)
	assert.False(t, got.LockExpiresAt.IsZero())
	assert.Nil(t, got.CodeAttemptsLeft, "no code issued yet")

	_, err = h.svc.Get(tenancy.WithTenantID(context.Background(), "h2"), res.DraftID)
	assert.ErrorIs(t, err, bookingerr.ErrNotFound)
}

func TestGet_FallsBackToDurableRecord(t *testing.T) {
	h := newHarness(t)
	confirmed := confirmBooking(t, h)

	got, err := h.svc.Get(tenancy.WithTenantID(context.Background(), "h1"), confirmed.DraftID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StateConfirmed, got.State)
	assert.Equal(t, confirmed.BookingID, got.BookingID)

	_, err = h.svc.Get(context.Background(), confirmed.DraftID)
	assert.ErrorIs(t, err, bookingerr.ErrNotFound, "durable lookup needs a tenant")
}

func TestReserve_ConfirmedSlotStaysUnavailable(t *testing.T) {
	h := newHarness(t)
	confirmed := confirmBooking(t, h)
	ctx := context.Background()
	require.False(t, h.mr.Exists("slotlock:h1:doc1:2026-02-08T10:00:00Z"), "lock released after confirm")

	other := reserveRequest()
	other.Contact = bookings.Contact{Phone: "+966500000000"}
	_, err := h.svc.Reserve(ctx, other)
	assert.ErrorIs(t, err, bookingerr.ErrSlotUnavailable)
	assert.False(t, h.mr.Exists("slotlock:h1:doc1:2026-02-08T10:00:00Z"), "rejected reserve gives the lock back")

	// Another resource at the same time is unaffected.
	elsewhere := other
	elsewhere.ResourceID = "doc2"
	_, err = h.svc.Reserve(ctx, elsewhere)
	require.NoError(t, err)

	// Cancelling the booking frees the slot.
	_, err = h.svc.Cancel(tenancy.WithTenantID(ctx, "h1"), confirmed.DraftID, "sick")
	require.NoError(t, err)
	_, err = h.svc.Reserve(ctx, other)
	assert.NoError(t, err)
}

func TestConfirm_SlotAlreadyInLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)

	// A booking for the slot lands in the ledger from elsewhere.
	h.ledger.persisted = map[string]*bookings.Record{
		"other-draft": {
			ID:         uuid.New(),
			DraftID:    "other-draft",
			TenantID:   "h1",
			ResourceID: "doc1",
			SlotTime:   slot,
			Status:     bookings.StateConfirmed,
		},
	}

	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, h.deliver.last(patientPhone))
	assert.ErrorIs(t, err, bookingerr.ErrSlotUnavailable)
	assert.Len(t, h.ledger.persisted, 1)
	assert.False(t, h.mr.Exists("slotlock:h1:doc1:2026-02-08T10:00:00Z"))
	assert.False(t, h.mr.Exists(bookings.DraftKey(res.DraftID)))
}

// lockThief hands the slot lock to another owner right after the code hash is read.
type lockThief struct {
	mr    *miniredis.Miniredis
	key   string
	armed bool
}

func (l *lockThief) DialHook(next redis.DialHook) redis.DialHook { return next }

func (l *lockThief) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		args := cmd.Args()
		if l.armed && cmd.Name() == "hgetall" && len(args) > 1 && strings.HasPrefix(fmt.Sprint(args[1]), "otp:code:") {
			l.armed = false
			l.mr.Del(l.key)
			_ = l.mr.Set(l.key, "intruder")
		}
		return err
	}
}

func (l *lockThief) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestConfirm_LockLostAfterCodeCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const key = "slotlock:h1:doc1:2026-02-08T10:00:00Z"

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)

	thief := &lockThief{mr: h.mr, key: key}
	h.client.AddHook(thief)
	thief.armed = true

	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, h.deliver.last(patientPhone))
	assert.ErrorIs(t, err, bookingerr.ErrLockExpired)
	assert.False(t, thief.armed, "lock was taken during confirm")
	assert.Zero(t, h.ledger.calls)

	d, err := h.machine.Get(ctx, res.DraftID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StateAwaitingOTP, d.State)
	owner, err := h.mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "intruder", owner, "the new holder keeps the slot")
}

func TestConfirm_RetryLockLostBeforePersist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const key = "slotlock:h1:doc1:2026-02-08T10:00:00Z"

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)
	h.ledger.failNext = errors.New("db down")
	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, h.deliver.last(patientPhone))
	require.Error(t, err)

	h.mr.Del(key)
	require.NoError(t, h.mr.Set(key, "intruder"))

	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, "")
	assert.ErrorIs(t, err, bookingerr.ErrLockExpired)
	assert.Equal(t, 1, h.ledger.calls, "no second persist without the lock")
}

func TestDurableMove_LedgerErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind bookingerr.Kind
	}{
		{"moved underneath", fmt.Errorf("booking x: %w", bookings.ErrNotConfirmed), bookingerr.KindConflict},
		{"driver failure", errors.New("connection reset"), bookingerr.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			confirmed := confirmBooking(t, h)
			ctx := tenancy.WithTenantID(context.Background(), "h1")

			h.ledger.markErr = tc.err
			_, err := h.svc.Cancel(ctx, confirmed.DraftID, "sick")
			require.Error(t, err)
			assert.Equal(t, tc.kind, bookingerr.KindOf(err))

			_, err = h.svc.CheckIn(ctx, confirmed.DraftID, "staff-4")
			assert.Equal(t, tc.kind, bookingerr.KindOf(err))
		})
	}
}

func TestGet_ReportsCodeAttemptsLeft(t *testing.T) {
	h := newHarness(t)
	ctx := tenancy.WithTenantID(context.Background(), "h1")

	res, err := h.svc.Reserve(ctx, reserveRequest())
	require.NoError(t, err)
	_, err = h.svc.RequestCode(ctx, res.DraftID)
	require.NoError(t, err)

	got, err := h.svc.Get(ctx, res.DraftID)
	require.NoError(t, err)
	require.NotNil(t, got.CodeAttemptsLeft)
	full := *got.CodeAttemptsLeft
	assert.Equal(t, otp.DefaultConfig().MaxAttempts, full)

	wrong := "000000"
	if h.deliver.last(patientPhone) == wrong {
		wrong = "111111"
	}
	_, err = h.svc.ConfirmWithCode(ctx, res.DraftID, wrong)
	require.Error(t, err)

	got, err = h.svc.Get(ctx, res.DraftID)
	require.NoError(t, err)
	require.NotNil(t, got.CodeAttemptsLeft)
	assert.Equal(t, full-1, *got.CodeAttemptsLeft)
}
