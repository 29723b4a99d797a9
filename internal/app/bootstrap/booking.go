package bootstrap

import (
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-slot-booking/internal/bookings"
	"github.com/wolfman30/medspa-slot-booking/internal/clinic"
	appconfig "github.com/wolfman30/medspa-slot-booking/internal/config"
	"github.com/wolfman30/medspa-slot-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-slot-booking/internal/otp"
	"github.com/wolfman30/medspa-slot-booking/internal/reservation"
	"github.com/wolfman30/medspa-slot-booking/internal/slotlock"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

// Core is the wired slot booking core.
type Core struct {
	Locks       *slotlock.Manager
	Codes       *otp.Service
	Machine     *bookings.Machine
	Sweeper     *bookings.Sweeper
	ClinicStore *clinic.Store
	Service     *reservation.Service
}

// CoreDeps are the collaborators built elsewhere in bootstrap.
type CoreDeps struct {
	Redis     redis.UniversalClient
	Ledger    reservation.Ledger
	Auditor   bookings.Auditor
	Deliverer reservation.Deliverer
	// Metrics is optional.
	Metrics *metrics.BookingMetrics
}

// BuildCore wires lock manager, code service, state machine, clinic
// directory and orchestrator over one Redis client.
func BuildCore(cfg *appconfig.Config, deps CoreDeps, logger *logging.Logger) *Core {
	if logger == nil {
		logger = logging.Default()
	}

	locks := slotlock.NewManager(deps.Redis, cfg.LockTTL, logger)
	codes := otp.NewService(deps.Redis, otp.Config{
		Secret:      cfg.OTPSecret,
		CodeLength:  cfg.OTPLength,
		CodeTTL:     cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
		RateLimit:   cfg.OTPRateLimit,
		RateWindow:  cfg.OTPRateWindow,
	}, logger)
	machine := bookings.NewMachine(bookings.NewStore(deps.Redis), deps.Auditor, bookings.MachineConfig{
		DraftTTL:        cfg.DraftTTL,
		AwaitingTimeout: cfg.LockTTL,
	}, logger)
	sweeper := bookings.NewSweeper(machine, logger).WithInterval(cfg.SweepInterval)
	clinicStore := clinic.NewStore(deps.Redis)

	svcDeps := reservation.Deps{
		Locks:     locks,
		Codes:     codes,
		Machine:   machine,
		Directory: clinic.NewDirectory(clinicStore, logger),
		Deliverer: deps.Deliverer,
		Ledger:    deps.Ledger,
		Auditor:   deps.Auditor,
		Logger:    logger,
	}
	if deps.Metrics != nil {
		machine.WithObserver(deps.Metrics)
		sweeper.WithObserver(deps.Metrics)
		svcDeps.Metrics = deps.Metrics
	}
	svc := reservation.NewService(svcDeps)

	return &Core{
		Locks:       locks,
		Codes:       codes,
		Machine:     machine,
		Sweeper:     sweeper,
		ClinicStore: clinicStore,
		Service:     svc,
	}
}
