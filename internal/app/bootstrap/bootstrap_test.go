package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-slot-booking/internal/audit"
	"github.com/wolfman30/medspa-slot-booking/internal/bookings"
	appconfig "github.com/wolfman30/medspa-slot-booking/internal/config"
	"github.com/wolfman30/medspa-slot-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-slot-booking/internal/reservation"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Env:            "development",
		LockTTL:        600 * time.Second,
		DraftTTL:       30 * time.Minute,
		OTPTTL:         300 * time.Second,
		OTPLength:      6,
		OTPMaxAttempts: 5,
		OTPRateLimit:   3,
		OTPRateWindow:  900 * time.Second,
		OTPSecret:      "bootstrap-test-secret",
		SweepInterval:  time.Minute,
	}
}

func TestBuildRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()

	client, err := BuildRedisClient(context.Background(), cfg, logging.Default())
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestBuildRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg := testConfig()
	cfg.RedisAddr = addr

	_, err := BuildRedisClient(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestBuildRedisClient_RequiresAddr(t *testing.T) {
	_, err := BuildRedisClient(context.Background(), testConfig(), nil)
	assert.Error(t, err)
}

func TestConnectPostgresPool_RequiresURL(t *testing.T) {
	_, err := ConnectPostgresPool(context.Background(), " ")
	assert.Error(t, err)

	_, err = ConnectPostgresPool(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}

func TestOpenAuditDB_RequiresURL(t *testing.T) {
	_, err := OpenAuditDB("")
	assert.Error(t, err)
}

func TestBuildAuditRecorder_WritesToSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO booking_audit_events").
		WithArgs(sqlmock.AnyArg(), audit.ActionBookingCreated, "t1", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec, closer, err := BuildAuditRecorder(testConfig(), AuditSinks{DB: db}, nil)
	require.NoError(t, err)
	defer closer()

	rec.Record(context.Background(), audit.Event{Action: audit.ActionBookingCreated, Tenant: "t1", SubjectID: "d1"})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildAuditRecorder_SQSWithoutClient(t *testing.T) {
	cfg := testConfig()
	cfg.AuditSQSQueueURL = "https://sqs.us-east-1.amazonaws.com/123/audit"

	_, _, err := BuildAuditRecorder(cfg, AuditSinks{}, nil)
	assert.Error(t, err)
}

func TestBuildAuditRecorder_Kafka(t *testing.T) {
	cfg := testConfig()
	cfg.AuditKafkaBrokers = []string{"localhost:9092"}
	cfg.AuditKafkaTopic = "booking-audit"

	rec, closer, err := BuildAuditRecorder(cfg, AuditSinks{}, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NoError(t, closer())

	cfg.AuditKafkaTopic = ""
	_, _, err = BuildAuditRecorder(cfg, AuditSinks{}, nil)
	assert.Error(t, err)
}

func TestBuildCodeDeliverer(t *testing.T) {
	d, err := BuildCodeDeliverer(testConfig(), nil, nil)
	require.NoError(t, err)
	assert.NoError(t, d.Deliver(context.Background(), bookings.Contact{Phone: "+15551234567"}, "123456"))
	assert.NoError(t, d.Deliver(context.Background(), bookings.Contact{Email: "a@example.com"}, "123456"))

	prod := testConfig()
	prod.Env = "production"
	_, err = BuildCodeDeliverer(prod, nil, nil)
	assert.Error(t, err, "production needs a real channel")

	prod.TwilioAccountSID = "AC1"
	prod.TwilioAuthToken = "tok"
	prod.TwilioFromNumber = "+15550000000"
	d, err = BuildCodeDeliverer(prod, nil, nil)
	require.NoError(t, err)
	assert.Error(t, d.Deliver(context.Background(), bookings.Contact{Email: "a@example.com"}, "1"),
		"production has no email stub")
}

type nopLedger struct{}

func (nopLedger) Persist(context.Context, *bookings.Draft) (string, error) { return "b1", nil }
func (nopLedger) GetByDraft(context.Context, string, string) (*bookings.Record, error) {
	return nil, nil
}
func (nopLedger) SlotTaken(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}
func (nopLedger) MarkCheckedIn(context.Context, string, string, time.Time) error { return nil }
func (nopLedger) MarkCancelled(context.Context, string, string, time.Time) error { return nil }

func TestBuildCore_ReservesAgainstClinicDirectory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := testConfig()
	deliverer, err := BuildCodeDeliverer(cfg, nil, nil)
	require.NoError(t, err)
	core := BuildCore(cfg, CoreDeps{
		Redis:     client,
		Ledger:    nopLedger{},
		Auditor:   audit.NewRecorder(nil),
		Deliverer: deliverer,
		Metrics:   metrics.NewBookingMetrics(prometheus.NewRegistry()),
	}, nil)
	require.NotNil(t, core.Service)
	require.NotNil(t, core.Sweeper)

	slot := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)
	res, err := core.Service.Reserve(context.Background(), reservation.ReserveRequest{
		TenantID:   "t1",
		ResourceID: "unknown-practitioner",
		SlotTime:   slot,
		Contact:    bookings.Contact{Phone: "+15551234567"},
	})
	assert.Error(t, err, "resources must exist in the clinic directory")
	assert.Nil(t, res)

	n, err := core.Sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
