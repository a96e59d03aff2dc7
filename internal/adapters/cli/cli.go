// Package cli — интерактивная командная консоль терминального клиента.
// Сервис стартует фоном, читает команды из readline и транслирует их в
// commands.Executor; результаты печатаются через pr. Длительные команды
// работают на контексте run-цикла, поэтому exit и Ctrl-C прерывают и их.
// Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"telegram-terminal/internal/domain/commands"
	"telegram-terminal/internal/domain/monitor"
	"telegram-terminal/internal/infra/logger"
	"telegram-terminal/internal/infra/pr"
)

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "send", description: "send <peer> <text> - send a message (@username, phone or numeric id)"},
	{name: "dialogs", description: "dialogs [refresh] - list dialogs, optionally re-fetching them"},
	{name: "monitor", description: "monitor <on|off> - toggle live printing of incoming messages"},
	{name: "dump", description: "dump <peer> <msg_id> - print a raw message object"},
	{name: "entity", description: "entity <peer> - print a raw user/chat/channel object"},
	{name: "whoami", description: "Display information about the current account"},
	{name: "version", description: "Print client version"},
	{name: "exit", description: "Stop CLI and terminate the client"},
}

// Service инкапсулирует CLI. Имеет собственный cancel, запускает цикл чтения
// команд в отдельной горутине и синхронно закрывается через Stop().
type Service struct {
	exec      commands.Executor  // исполнитель команд (сетевые вызовы через диспетчер)
	mon       *monitor.Monitor   // переключатель живого мониторинга
	stopApp   context.CancelFunc // внешняя отмена приложения (команда exit, Ctrl-C на пустой строке)
	cancel    context.CancelFunc // локальная отмена run-цикла CLI
	wg        sync.WaitGroup     // ожидание завершения фоновой горутины run
	onceStart sync.Once          // идемпотентный запуск
	onceStop  sync.Once          // идемпотентная остановка
}

// NewService создаёт CLI-сервис. Параметр stopApp используется как «глобальная»
// остановка приложения (команда exit, Ctrl-C на пустой строке).
func NewService(exec commands.Executor, mon *monitor.Monitor, stopApp context.CancelFunc) *Service {
	return &Service{exec: exec, mon: mon, stopApp: stopApp}
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы
// безопасно игнорируются. Контекст используется как родительский для run-цикла.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает CLI: посылает внешнюю остановку приложения (если предусмотрено),
// прерывает readline, отменяет локальный контекст и дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if s.stopApp != nil {
			s.stopApp()
		}
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл обработчика CLI. Печатает подсказки, устанавливает обработчики
// клавиш и в цикле читает команды построчно, передавая их в handleCommand().
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt("> ")
	pr.Println("CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	// Главный цикл чтения команд. Выход — по отмене контекста или по EOF от readline.
	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}

		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(ctx, cmd) {
			logger.Debugf("CLI: command %q requested exit", cmd)
			return
		}
	}
}

// installKeyHandlers подключает обработчики специальных клавиш для readline:
//   - '?' — печать help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке — мягкая остановка приложения (stopApp) и прерывание readline;
//   - Ctrl-C на непустой строке — очистка текущей строки (как в типичных CLI).
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	// Сохраняем предыдущий listener, чтобы не ломать поведение по умолчанию.
	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		// Быстрая справка по командам по нажатию '?'.
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		// Ctrl-C (ETX): особое поведение — либо остановка приложения, либо очистка строки.
		if key == 3 { //nolint: mnd // Ctrl-C (ETX, rune value 3)
			trimmed := strings.TrimSpace(string(line))
			if trimmed == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

// printCommandHelp печатает список поддерживаемых команд и их описания.
func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand разбирает введённую команду и выполняет соответствующее действие.
// Возвращает true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(ctx context.Context, input string) bool {
	cmd, args := splitCommand(input)
	switch cmd {
	case "help":
		printCommandHelp()
	case "send":
		s.handleSend(ctx, args)
	case "dialogs":
		s.handleDialogs(ctx, args)
	case "monitor":
		s.handleMonitor(args)
	case "dump":
		s.handleDump(ctx, args)
	case "entity":
		s.handleEntity(ctx, args)
	case "whoami":
		s.handleWhoami(ctx)
	case "version":
		s.handleVersion(ctx)
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	case "":
		// ignore
	default:
		pr.Println("unknown command:", cmd)
	}
	return false
}

// handleSend: send <peer> <text...>.
func (s *Service) handleSend(ctx context.Context, args string) {
	peer, text, ok := parseSendArgs(args)
	if !ok {
		pr.ErrPrintln("usage: send <peer> <text>")
		return
	}

	res, err := s.exec.Send(ctx, peer, text)
	if err != nil {
		pr.ErrPrintln("send error:", err)
		return
	}
	pr.Printf("Message sent to %s (random_id=%d)\n", res.Peer, res.RandomID)
}

// handleDialogs: dialogs [refresh].
func (s *Service) handleDialogs(ctx context.Context, args string) {
	refresh := false
	switch strings.TrimSpace(args) {
	case "":
	case "refresh":
		refresh = true
		pr.Println("Fetching dialogs...")
	default:
		pr.ErrPrintln("usage: dialogs [refresh]")
		return
	}

	res, err := s.exec.Dialogs(ctx, refresh)
	if err != nil {
		pr.ErrPrintln("dialogs error:", err)
		return
	}
	if len(res.Dialogs) == 0 {
		pr.Println("No dialogs cached yet. Try 'dialogs refresh'.")
		return
	}
	for _, d := range res.Dialogs {
		pr.Println(formatDialogLine(d))
	}
	pr.Printf("Total dialogs: %d\n", len(res.Dialogs))
}

// handleMonitor: monitor <on|off>.
func (s *Service) handleMonitor(args string) {
	if s.mon == nil {
		pr.ErrPrintln("monitor is not available")
		return
	}
	switch strings.TrimSpace(args) {
	case "on":
		s.mon.Enable()
		pr.Println("Monitoring enabled. Incoming messages will be printed here.")
	case "off":
		s.mon.Disable()
		pr.Println("Monitoring disabled.")
	case "":
		state := "off"
		if s.mon.Enabled() {
			state = "on"
		}
		pr.Printf("Monitoring is %s. Use 'monitor on' or 'monitor off'.\n", state)
	default:
		pr.ErrPrintln("usage: monitor <on|off>")
	}
}

// handleDump: dump <peer> <msg_id>.
func (s *Service) handleDump(ctx context.Context, args string) {
	peer, msgID, ok := parseDumpArgs(args)
	if !ok {
		pr.ErrPrintln("usage: dump <peer> <msg_id>")
		return
	}

	res, err := s.exec.Dump(ctx, peer, msgID)
	if err != nil {
		pr.ErrPrintln("dump error:", err)
		return
	}
	pr.PP(res.Message)
}

// handleEntity: entity <peer>.
func (s *Service) handleEntity(ctx context.Context, args string) {
	identifier := strings.TrimSpace(args)
	if identifier == "" {
		pr.ErrPrintln("usage: entity <peer>")
		return
	}

	res, err := s.exec.Entity(ctx, identifier)
	if err != nil {
		pr.ErrPrintln("entity error:", err)
		return
	}
	pr.Printf("Entity kind: %s\n", res.Kind)
	pr.PP(res.Raw)
}

func (s *Service) handleWhoami(ctx context.Context) {
	res, err := s.exec.Whoami(ctx)
	if err != nil {
		pr.ErrPrintln("whoami error:", err)
		return
	}
	if res.Username != "" {
		pr.Printf("You are: %s (@%s), id=%d\n", res.FullName, res.Username, res.ID)
		return
	}
	pr.Printf("You are: %s, id=%d\n", res.FullName, res.ID)
}

func (s *Service) handleVersion(ctx context.Context) {
	res, err := s.exec.Version(ctx)
	if err != nil {
		pr.ErrPrintln("version error:", err)
		return
	}
	pr.Printf("%s v%s\n", res.Name, res.Version)
}

// splitCommand отделяет имя команды от остатка строки.
func splitCommand(input string) (cmd, args string) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

// parseSendArgs разбирает "<peer> <text...>"; текст сохраняет внутренние пробелы.
func parseSendArgs(args string) (peer, text string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(parts) < 2 {
		return "", "", false
	}
	peer = strings.TrimSpace(parts[0])
	text = strings.TrimSpace(parts[1])
	if peer == "" || text == "" {
		return "", "", false
	}
	return peer, text, true
}

// parseDumpArgs разбирает "<peer> <msg_id>".
func parseDumpArgs(args string) (peer string, msgID int, ok bool) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return "", 0, false
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return fields[0], id, true
}

// formatDialogLine печатает одну строку списка диалогов.
func formatDialogLine(d commands.Dialog) string {
	label := strings.ToUpper(d.Kind[:1]) + d.Kind[1:]
	if d.Username != "-" {
		return fmt.Sprintf("%s: '%s' (@%s) id: %d", label, d.Title, d.Username, d.ID)
	}
	return fmt.Sprintf("%s: '%s' id: %d", label, d.Title, d.ID)
}

// joinCommandNames собирает строку имён команд, разделённых запятыми, для короткой подсказки.
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки помощи вида "<name> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, descriptor := range descriptors {
		lines = append(lines, fmt.Sprintf("  %-8s - %s", descriptor.name, descriptor.description))
	}
	return lines
}
