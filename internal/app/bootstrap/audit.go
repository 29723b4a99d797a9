package bootstrap

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/medspa-slot-booking/internal/audit"
	appconfig "github.com/wolfman30/medspa-slot-booking/internal/config"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

// AuditSinks are the optional audit destinations beyond the structured log.
type AuditSinks struct {
	DB  *sql.DB
	SQS *sqs.Client
}

// BuildAuditRecorder fans audit events out to the log plus every configured
// sink. The returned closer flushes the Kafka writer when one was built.
func BuildAuditRecorder(cfg *appconfig.Config, sinks AuditSinks, logger *logging.Logger) (*audit.Recorder, func() error, error) {
	if logger == nil {
		logger = logging.Default()
	}
	closer := func() error { return nil }
	active := []audit.Sink{audit.NewLogSink(logger)}
	names := []string{"log"}

	if sinks.DB != nil {
		active = append(active, audit.NewSQLSink(sinks.DB))
		names = append(names, "sql")
	}
	if url := strings.TrimSpace(cfg.AuditSQSQueueURL); url != "" {
		if sinks.SQS == nil {
			return nil, closer, errors.New("bootstrap: AUDIT_SQS_QUEUE_URL set without an SQS client")
		}
		active = append(active, audit.NewSQSSink(sinks.SQS, url))
		names = append(names, "sqs")
	}
	if len(cfg.AuditKafkaBrokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.AuditKafkaBrokers, cfg.AuditKafkaTopic)
		if err != nil {
			return nil, closer, err
		}
		active = append(active, kafkaSink)
		names = append(names, "kafka")
		closer = kafkaSink.Close
	}

	logger.Info("audit sinks configured", "sinks", names)
	return audit.NewRecorder(logger, active...), closer, nil
}
