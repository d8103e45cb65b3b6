package device

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/domain"
)

// CatchAllDevice матчит любой deviceID, для которого нет точной регистрации.
const CatchAllDevice = "*"

// ActionTranslator превращает одобренную команду комнаты в вызов конкретного
// устройства. Внешний аппаратный слой регистрирует свои трансляторы; ошибка
// транслятора уходит отправителю как отрицательный ack.
type ActionTranslator interface {
	Translate(ctx context.Context, cmd domain.ControlCommand) error
}

// TranslatorFunc — адаптер функции под интерфейс.
type TranslatorFunc func(ctx context.Context, cmd domain.ControlCommand) error

func (f TranslatorFunc) Translate(ctx context.Context, cmd domain.ControlCommand) error {
	return f(ctx, cmd)
}

type registryKey struct {
	deviceID string
	action   string
}

// Registry — таблица трансляторов, ключ (deviceID, action).
// Поиск: точное устройство, затем catch-all, затем фоллбек-логгер —
// комната без аппаратного слоя всё равно подтверждает команды.
type Registry struct {
	mu       sync.RWMutex
	byKey    map[registryKey]ActionTranslator
	fallback ActionTranslator
}

func NewRegistry() *Registry {
	return &Registry{
		byKey:    make(map[registryKey]ActionTranslator),
		fallback: loggingFallback(),
	}
}

func (r *Registry) Register(deviceID, action string, tr ActionTranslator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[registryKey{deviceID: deviceID, action: action}] = tr
}

func (r *Registry) Unregister(deviceID, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, registryKey{deviceID: deviceID, action: action})
}

// SetFallback заменяет фоллбек; nil возвращает логирующий.
func (r *Registry) SetFallback(tr ActionTranslator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr == nil {
		tr = loggingFallback()
	}
	r.fallback = tr
}

func (r *Registry) resolve(deviceID, action string) ActionTranslator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tr, ok := r.byKey[registryKey{deviceID: deviceID, action: action}]; ok {
		return tr
	}
	if tr, ok := r.byKey[registryKey{deviceID: CatchAllDevice, action: action}]; ok {
		return tr
	}
	return r.fallback
}

// Dispatch передаёт команду подходящему транслятору.
func (r *Registry) Dispatch(ctx context.Context, deviceID string, cmd domain.ControlCommand) error {
	return r.resolve(deviceID, cmd.Action).Translate(ctx, cmd)
}

func loggingFallback() ActionTranslator {
	return TranslatorFunc(func(_ context.Context, cmd domain.ControlCommand) error {
		slog.Info("device command without translator",
			"action", cmd.Action,
			"channel", cmd.Channel,
			"value", cmd.Value,
			"commandId", cmd.CommandID,
		)
		return nil
	})
}
