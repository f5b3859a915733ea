package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go_relay/internal/relay/delivery"

	"github.com/go-telegram/bot"
)

// decodeError 把 Bot API 错误解码为投递层的错误类型，只在传输边界做一次
func decodeError(op string, err error) error {
	if err == nil {
		return nil
	}

	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return &delivery.RateLimitError{
			Op:         op,
			RetryAfter: time.Duration(tooMany.RetryAfter) * time.Second,
			Err:        err,
		}
	}

	var migrateErr *bot.MigrateError
	if errors.As(err, &migrateErr) {
		reason := "chat migrated"
		if chatID, ok := migrateToChatIDFromError(err); ok {
			reason = fmt.Sprintf("chat migrated to %d", chatID)
		}
		return &delivery.FatalError{Op: op, Reason: reason, Err: err}
	}

	switch {
	case errors.Is(err, bot.ErrorForbidden):
		return &delivery.FatalError{Op: op, Reason: "forbidden", Err: err}
	case errors.Is(err, bot.ErrorUnauthorized):
		return &delivery.FatalError{Op: op, Reason: "unauthorized", Err: err}
	case errors.Is(err, bot.ErrorBadRequest):
		return &delivery.FatalError{Op: op, Reason: "bad request", Err: err}
	case errors.Is(err, bot.ErrorNotFound):
		return &delivery.FatalError{Op: op, Reason: "not found", Err: err}
	case errors.Is(err, context.Canceled):
		return err
	}

	return &delivery.RetryableError{Op: op, Err: err}
}

// migrateToChatIDFromError 提取群组升级后的新 chat id
func migrateToChatIDFromError(err error) (int64, bool) {
	if err == nil {
		return 0, false
	}

	var migrateErr *bot.MigrateError
	if !errors.As(err, &migrateErr) {
		return 0, false
	}

	chatID := int64(migrateErr.MigrateToChatID)
	if chatID == 0 {
		return 0, false
	}
	return chatID, true
}
