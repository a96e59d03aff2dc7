package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"telegram-terminal/internal/app"
	"telegram-terminal/internal/infra/config"
	"telegram-terminal/internal/infra/logger"
	"telegram-terminal/internal/infra/pr"
)

func main() {
	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assigning stdout and stderr", zap.Error(err))
	}

	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	// config.Load загружает конфигурацию из .env.
	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// logger.Init задаёт уровень, SetWriters перенаправляет выводы в подсистему pr
	// (чтобы логи не рвали строку ввода readline), InitFile подключает файл с ротацией.
	logger.Init(config.Env().LogLevel)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	if env := config.Env(); env.LogFile != "" {
		logger.InitFile(logger.FileConfig{
			Path:       env.LogFile,
			Level:      env.LogFileLevel,
			MaxSizeMB:  env.LogFileMaxSize,
			MaxBackups: env.LogFileMaxBackups,
			MaxAgeDays: env.LogFileMaxAge,
			Compress:   env.LogFileCompress,
		})
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM). stop() снимает подписку.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Собираем приложение; stop передаётся как внешняя CancelFunc (команда exit, Ctrl-C).
	a := app.NewApp(ctx, stop)

	// Запускаем основной цикл; блокируется до shutdown. Отмена контекста — штатный выход.
	if runErr := a.Run(); runErr != nil && !errors.Is(runErr, context.Canceled) {
		stop()
		logger.Fatal("app run failed", zap.Error(runErr))
	}
	stop()
	logger.Info("Graceful shutdown complete")
}
