// Package app — верхний уровень сборки и инициализации терминального Telegram-клиента.
// Здесь связываются конфигурация, сетевой слой (gotd/telegram), менеджер апдейтов,
// диспетчер запросов и инфраструктурные сервисы. Отсюда стартует цикл обработки
// событий и обеспечивается корректный shutdown.
package app

import (
	"context"
	"fmt"
	"sync"

	"telegram-terminal/internal/adapters/telegram/core"
	"telegram-terminal/internal/domain/monitor"
	"telegram-terminal/internal/infra/config"
	"telegram-terminal/internal/infra/dispatch"
	"telegram-terminal/internal/infra/logger"
	"telegram-terminal/internal/infra/storage"
	"telegram-terminal/internal/infra/telegram/peersmgr"
	"telegram-terminal/internal/infra/telegram/session"
	"telegram-terminal/internal/support/version"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/ratelimit"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
)

// lazyUpdateHandler — обёртка, которая позволяет отложить установку
// реального обработчика апдейтов, разрывая цикл инициализации.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(realHandler telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = realHandler
}

// stateFilePerm — права на bbolt-файл состояния апдейтов.
const stateFilePerm = 0o600

// App агрегирует зависимости клиента и управляет их связью.
// Отвечает за:
//   - конфигурацию и телеграм-клиента (авторизация, API),
//   - диспетчер запросов с политикой повторов из конфигурации,
//   - маршрутизацию апдейтов на монитор входящих сообщений,
//   - запуск Runner, который оркестрирует жизненный цикл и graceful shutdown.
type App struct {
	mainCtx    context.Context      // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc   // Инициирует отмену mainCtx.
	runner     *Runner              // Оркестратор жизненного цикла и CLI.
	updMgr     *tgupdates.Manager   // Менеджер апдейтов gotd: поток событий и локальное состояние.
	peers      *peersmgr.Service    // Менеджер пиров + persist storage.
	disp       *dispatch.Dispatcher // Диспетчер запросов: повторы при лимитах и сбоях.
	mon        *monitor.Monitor     // Живой мониторинг входящих сообщений.
}

// NewApp создаёт пустой каркас приложения. Фактическая инициализация выполняется в Run().
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc) *App {
	return &App{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Run собирает клиента, менеджер апдейтов, диспетчер запросов и прочие сервисы,
// а затем стартует Runner, который оркестрирует жизненный цикл и корректное
// завершение работы. Блокируется до остановки приложения.
func (a *App) Run() error {
	logger.Info("Terminal client initializing...")
	env := config.Env()

	updDispatcher := tg.NewUpdateDispatcher()
	lazyHandler := &lazyUpdateHandler{}

	// 1) Опции MTProto-клиента: сессия, хук апдейтов, лимит исходящих запросов.
	// FLOOD_WAIT здесь не перехватывается: повторы — зона ответственности
	// диспетчера запросов, который видит серверную паузу целиком.
	options := telegram.Options{
		SessionStorage: &session.FileStorage{Path: env.SessionFile},
		UpdateHandler:  lazyHandler,
		Middlewares: []telegram.Middleware{
			ratelimit.New(
				rate.Limit(env.ThrottleRPS),
				env.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   version.Name,
			SystemVersion: "Linux",
			AppVersion:    version.Version,
		},
	}

	// Для тестовых окружений используем DC тестового стенда Telegram.
	if env.TestDC {
		options.DCList = dcs.Test()
	}

	client := telegram.NewClient(env.APIID, env.APIHash, options)

	peersSvc, peersMgrErr := peersmgr.New(client.API(), env.PeersCacheFile)
	if peersMgrErr != nil {
		return fmt.Errorf("init peers manager: %w", peersMgrErr)
	}
	a.peers = peersSvc

	// Хранилище состояния апдейтов (sequence/pts) в bbolt.
	if err := storage.EnsureDir(env.StateFile); err != nil {
		return fmt.Errorf("ensure state file dir: %w", err)
	}
	stateStorageBoltdb, err := bbolt.Open(env.StateFile, stateFilePerm, nil)
	if err != nil {
		return errors.Wrap(err, "create bolt storage")
	}
	stateStorage := boltstor.NewStateStorage(stateStorageBoltdb)

	// Менеджер апдейтов: восстановление пропусков последовательностей.
	a.updMgr = tgupdates.New(tgupdates.Config{
		Handler:      updDispatcher,
		Storage:      stateStorage,
		AccessHasher: peersSvc.Mgr,
	})

	// Реальный обработчик: апдейты проходят через peer-хук (наполняет кэш пиров)
	// и попадают в менеджер апдейтов.
	realHandler := contribstorage.UpdateHook(peersSvc.Mgr.UpdateHook(a.updMgr), peersSvc.Store())
	lazyHandler.set(realHandler)

	// Диспетчер запросов: политика повторов из .env, классификатор ошибок Telegram.
	a.disp = dispatch.New(env.RetryPolicy(), dispatch.WithClassifiers(core.Classify))

	// Монитор входящих сообщений. Обработчики подключены постоянно,
	// вывод включается командой CLI.
	a.mon = monitor.New()
	updDispatcher.OnNewMessage(a.mon.OnNewMessage)
	updDispatcher.OnNewChannelMessage(a.mon.OnNewChannelMessage)

	a.runner = NewRunner(a.mainCtx, a.mainCancel, client, a.peers, a.disp, a.mon)

	return a.runner.Run(a.updMgr)
}
