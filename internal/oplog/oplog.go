package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
	"go.uber.org/zap"
)

const logMessage = "ledger operation"

// ZapLogger forwards ledger operation records to a zap logger.
type ZapLogger struct {
	logger *zap.Logger
}

// New returns a ZapLogger; a nil logger discards every record.
func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

// LogOperation writes one structured entry. Failed operations log at error
// level, everything else at info.
func (adapter *ZapLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	fields = appendString(fields, "user_key", entry.UserKey)
	fields = appendString(fields, "booking_key", entry.BookingKey)
	fields = appendString(fields, "slot_key", entry.SlotKey)
	fields = appendString(fields, "source_key", entry.SourceKey)
	fields = appendString(fields, "actor", entry.Actor)
	fields = appendString(fields, "detail", entry.Detail)
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.StringFixed(2)))
	}
	if entry.Error != nil {
		adapter.logger.Error(logMessage, append(fields, zap.Error(entry.Error))...)
		return
	}
	adapter.logger.Info(logMessage, fields...)
}

func appendString(fields []zap.Field, key string, value string) []zap.Field {
	if value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}
