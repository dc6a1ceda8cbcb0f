// Package walletlog writes wallet operation logs through zap.
package walletlog

import (
	"context"

	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const operationMessage = "wallet operation"

// OperationLogger implements wallet.OperationLogger on top of a zap logger.
type OperationLogger struct {
	logger *zap.Logger
}

// New returns an OperationLogger. A nil logger disables output.
func New(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger}
}

// LogOperation emits one structured line per operation. Reconciliation
// mismatches log at error level, failures at warn, the rest at info.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	level := zapcore.InfoLevel
	switch entry.Status {
	case wallet.OperationStatusMismatch:
		level = zapcore.ErrorLevel
	case wallet.OperationStatusError:
		level = zapcore.WarnLevel
	}
	if checked := operationLogger.logger.Check(level, operationMessage); checked != nil {
		checked.Write(Fields(entry)...)
	}
}

// Fields converts an operation log into zap fields, omitting empty values.
func Fields(entry wallet.OperationLog) []zap.Field {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	appendString := func(key string, value string) {
		if value != "" {
			fields = append(fields, zap.String(key, value))
		}
	}
	appendString("user_id", entry.UserID.String())
	appendString("store_id", entry.StoreID.String())
	appendString("account_id", entry.AccountID.String())
	appendString("perk_type", entry.PerkType.String())
	appendString("request_id", entry.RequestID.String())
	appendString("reference", entry.Reference.String())
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.DrawnDays != 0 {
		fields = append(fields, zap.Int("drawn_days", entry.DrawnDays))
	}
	if metadata := entry.Metadata.String(); metadata != "{}" {
		fields = append(fields, zap.String("metadata", metadata))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	return fields
}
