package errprocess

import (
	"fmt"

	"chatroom_realtime_service/pkg/logger"

	"go.uber.org/zap"
)

// Wrap log cause with op and wrap it, errors.Is still match the cause
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	logger.Log.Error(op, zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}
