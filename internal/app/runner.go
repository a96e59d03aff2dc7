// Package app реализует верхний уровень управления жизненным циклом терминального клиента.
// Файл runner.go — точка оркестрации: здесь запускаются сервисы в правильном порядке,
// выполняется авторизация, стартует менеджер обновлений, и организуется корректный
// graceful shutdown: сначала останавливаются сервисы, затем гасится MTProto-движок.
package app

import (
	"context"
	"sync"

	"telegram-terminal/internal/adapters/cli"
	"telegram-terminal/internal/adapters/telegram/core"
	"telegram-terminal/internal/domain/commands"
	"telegram-terminal/internal/domain/monitor"
	"telegram-terminal/internal/infra/config"
	"telegram-terminal/internal/infra/dispatch"
	"telegram-terminal/internal/infra/logger"
	"telegram-terminal/internal/infra/telegram/peersmgr"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Runner инкапсулирует сценарий запуска и остановки Telegram-клиента и связанных подсистем.
// Отвечает за:
//   - авторизацию и идентификацию текущего пользователя (self),
//   - прогрев кэша пиров при первом запуске,
//   - линейный запуск сервисов в правильном порядке,
//   - корректное завершение: сначала сервисы, затем MTProto-движок.
type Runner struct {
	client        *telegram.Client     // Обёртка над MTProto-клиентом и API: логин, Self(), API-интерфейс.
	peers         *peersmgr.Service    // Сервис пиров (peers.Manager + persist storage).
	disp          *dispatch.Dispatcher // Диспетчер запросов с политикой повторов.
	mon           *monitor.Monitor     // Монитор входящих сообщений.
	mainCtx       context.Context      // Внешний контекст процесса: отменяется по Ctrl+C/сигналам.
	mainCancel    context.CancelFunc   // Функция, инициирующая общий shutdown.
	cmdExecutor   commands.Executor    // Исполнитель команд (используется CLI).
	cliService    *cli.Service         // CLI сервис для интерактивных команд.
	updatesWG     sync.WaitGroup       // WaitGroup для updates_manager.
	updatesCancel context.CancelFunc   // Функция отмены контекста для updates_manager.
}

// NewRunner подготавливает Runner с переданными зависимостями.
// Возвращает объект, готовый к запуску Run().
func NewRunner(
	mainCtx context.Context,
	mainCancel context.CancelFunc,
	client *telegram.Client,
	peers *peersmgr.Service,
	disp *dispatch.Dispatcher,
	mon *monitor.Monitor,
) *Runner {
	return &Runner{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		client:     client,
		peers:      peers,
		disp:       disp,
		mon:        mon,
	}
}

// Run — главный цикл клиента. Выполняет логин, прогрев пиров, запуск узлов,
// стартует updates.Manager и управляет корректным завершением. Блокируется до
// завершения клиентского контекста. Для MTProto-движка используется отдельный
// контекст, чтобы сервисы успели остановиться до гашения сетевого уровня.
func (r *Runner) Run(updmgr *tgupdates.Manager) error {
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	// Отслеживание сигналов запускаем сразу, чтобы Ctrl+C работал во время инициализации.
	var shutdownWG sync.WaitGroup
	shutdownWG.Go(func() {
		<-r.mainCtx.Done()
		logger.Debug("Shutdown signal received, stopping runner...")
		r.stopAllServices()
		clientCancel()
	})

	return r.client.Run(clientCtx, func(ctx context.Context) error {
		logger.Info("Terminal client running...")

		self, loginErr := r.loginSelf(ctx)
		if loginErr != nil {
			return loginErr
		}

		if err := r.initPeers(ctx); err != nil {
			return err
		}

		if err := r.startAllServices(ctx, updmgr, self.ID); err != nil {
			r.stopAllServices()
			return err
		}

		<-ctx.Done()
		shutdownWG.Wait()
		return ctx.Err()
	})
}

// loginSelf выполняет интерактивную авторизацию (если нужна) и возвращает self.
func (r *Runner) loginSelf(ctx context.Context) (*tg.User, error) {
	flow := auth.NewFlow(
		core.TerminalAuthenticator{PhoneNumber: config.Env().PhoneNumber},
		auth.SendCodeOptions{},
	)

	if err := r.client.Auth().IfNecessary(ctx, flow); err != nil {
		return nil, errors.Wrap(err, "auth")
	}

	self, err := r.client.Self(ctx)
	if err != nil {
		return nil, err
	}
	logger.Logger().Info("Logged in as:",
		zap.String("FirstName", self.FirstName),
		zap.String("LastName", self.LastName),
		zap.String("Username", self.Username),
		zap.Int64("ID", self.ID),
	)
	return self, nil
}

// initPeers поднимает кэш пиров: инициализация менеджера, загрузка сохранённых
// peers и первичная выгрузка диалогов при пустом снимке. Сетевой прогрев идёт
// через диспетчер запросов.
func (r *Runner) initPeers(ctx context.Context) error {
	if r.peers == nil {
		return nil
	}

	if err := r.peers.Mgr.Init(ctx); err != nil {
		return errors.Wrap(err, "init peers manager")
	}

	if err := r.peers.LoadFromStorage(ctx); err != nil {
		logger.Errorf("failed to load peers from storage: %v", err)
	}

	err := r.disp.Do(ctx, "messages.getDialogs", func(ctx context.Context) error {
		return r.peers.WarmupIfEmpty(ctx, r.client.API())
	})
	if err != nil {
		return errors.Wrap(err, "peers warmup")
	}

	logger.Debug("Peers warmup complete")
	return nil
}

func (r *Runner) startAllServices(ctx context.Context, updmgr *tgupdates.Manager, selfID int64) error {
	// монитор узнаёт self, чтобы помечать исходящие сообщения
	r.mon.SetSelfID(selfID)

	// command executor
	logger.Debug("initializing command executor")
	r.cmdExecutor = commands.NewExecutor(r.client, r.peers, r.disp)
	logger.Debug("command executor initialized")

	// cli
	logger.Debug("starting service cli")
	r.cliService = cli.NewService(r.cmdExecutor, r.mon, r.mainCancel)
	r.cliService.Start(ctx)
	logger.Debug("service cli started")

	// updates_manager: отдельный контекст, чтобы останавливать независимо
	logger.Debug("starting service updates_manager")
	updatesCtx, updatesCancel := context.WithCancel(ctx)
	r.updatesCancel = updatesCancel
	r.updatesWG.Go(func() {
		logger.Debug("updates_manager service: Run started")
		mgrErr := updmgr.Run(updatesCtx, r.client.API(), selfID, tgupdates.AuthOptions{
			Forget:  false,
			OnStart: r.handleUpdatesManagerStart,
		})
		if mgrErr != nil && !errors.Is(mgrErr, context.Canceled) {
			logger.Errorf("updmgr.Run return: %v", mgrErr)
			r.mainCancel()
		}
		logger.Debugf("updates_manager service: Run finished (err=%v)", mgrErr)
	})
	logger.Debug("service updates_manager started")

	return nil
}

// stopAllServices останавливает сервисы в обратном порядке запуска.
func (r *Runner) stopAllServices() {
	// updates_manager
	logger.Debug("stopping service updates_manager")
	if r.updatesCancel != nil {
		r.updatesCancel()
	}
	r.updatesWG.Wait()
	logger.Debug("service updates_manager stopped")

	// peers_manager
	if r.peers != nil {
		logger.Debug("stopping service peers_manager")
		if err := r.peers.Close(); err != nil {
			logger.Errorf("failed to stop peers_manager: %v", err)
		}
		logger.Debug("service peers_manager stopped")
	}

	// cli
	if r.cliService != nil {
		logger.Debug("stopping service cli")
		r.cliService.Stop()
		logger.Debug("service cli stopped")
	}
}

// handleUpdatesManagerStart вызывается updates.Manager при готовности подписки на обновления.
func (r *Runner) handleUpdatesManagerStart(ctx context.Context) {
	logger.Debug("Updates manager started")
}
