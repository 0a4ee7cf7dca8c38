package source

import (
	"context"
	"errors"

	"github.com/movearn/tracking-backend/internal/models"
)

var (
	// ErrUnavailable источник позиций недоступен (нет соединения с брокером и т.п.)
	ErrUnavailable = errors.New("position source unavailable")

	// ErrNoFix у источника нет известной позиции пользователя
	ErrNoFix = errors.New("no position fix for user")
)

// PositionSource контракт внешнего источника позиций.
// Сэмплы доставляются подписчику в порядке получения, по одному.
type PositionSource interface {
	// Current одноразовое чтение последней известной позиции пользователя
	Current(ctx context.Context, userID string) (*models.Sample, error)

	// Subscribe подписывает обработчик на поток сэмплов пользователя.
	// После Unsubscribe обработчик не вызывается.
	Subscribe(userID string, fn func(models.Sample)) (Subscription, error)
}

// Subscription активная подписка на поток сэмплов
type Subscription interface {
	Unsubscribe()
}
