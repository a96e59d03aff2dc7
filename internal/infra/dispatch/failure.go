package dispatch

import (
	"fmt"
	"time"
)

// Kind — класс отказа операции. Определяет, как диспетчер реагирует на ошибку:
// ждать указанную сервером паузу, отступать по экспоненте или прекращать попытки.
type Kind int

const (
	// KindRateLimited — сервер явно попросил подождать (FLOOD_WAIT, retry_after и т.п.).
	// Пауза задаётся сервером и имеет приоритет над вычисляемым бэкофом.
	KindRateLimited Kind = iota + 1
	// KindTransient — временный сбой (сеть, перегрузка), повтор уместен
	// с экспоненциальной паузой на стороне клиента.
	KindTransient
	// KindFatal — повтор бессмыслен (некорректный запрос, нет прав).
	// Возвращается вызывающему немедленно.
	KindFatal
)

// String возвращает человекочитаемое имя класса отказа для логов и ошибок.
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Failure — типизированный отказ одной попытки. Операция (или классификатор)
// оборачивает исходную ошибку в Failure, чтобы диспетчер знал стратегию повтора.
// Wait заполняется только для KindRateLimited и означает обязательную паузу,
// продиктованную сервером.
type Failure struct {
	Kind Kind
	Wait time.Duration
	Err  error
}

// Error реализует error. Исходная причина доступна через Unwrap.
func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

// Unwrap отдаёт исходную ошибку для errors.Is/As по цепочке.
func (f *Failure) Unwrap() error {
	return f.Err
}

// RateLimited помечает ошибку как серверный лимит с обязательной паузой wait.
// Отрицательное wait допустимо и трактуется диспетчером как ноль.
func RateLimited(wait time.Duration, err error) error {
	return &Failure{Kind: KindRateLimited, Wait: wait, Err: err}
}

// Transient помечает ошибку как временную: повтор с клиентским бэкофом.
func Transient(err error) error {
	return &Failure{Kind: KindTransient, Err: err}
}

// Fatal помечает ошибку как неустранимую: диспетчер вернёт её без повторов.
func Fatal(err error) error {
	return &Failure{Kind: KindFatal, Err: err}
}

// AttemptRecord — журнальная запись одной попытки. Живёт только в рамках
// одного вызова Do и отдаётся наружу внутри FinalError для диагностики;
// диспетчер ничего не персистит.
type AttemptRecord struct {
	Attempt int           // номер попытки, монотонно с единицы
	Kind    Kind          // класс отказа этой попытки
	Wait    time.Duration // пауза, применённая после попытки (0 — попытка терминальна)
	Err     error         // исходная ошибка попытки
}

// FinalError — терминальный отказ диспетчера: либо повторы исчерпаны
// (лимит попыток или бюджет ожидания), либо отказ был фатальным.
// Содержит счётчики для диагностики; секретных данных не несёт по построению —
// только тайминги, класс отказа и исходную ошибку операции.
type FinalError struct {
	Op             string          // корреляционный идентификатор операции
	Kind           Kind            // класс отказа, приведший к остановке
	Attempts       int             // сколько попыток было выполнено
	CumulativeWait time.Duration   // суммарная пауза между попытками
	Records        []AttemptRecord // история попыток этого вызова
	Err            error           // последняя ошибка операции
}

// Error реализует error. Формат стабилен для логов, но не предназначен для парсинга.
func (e *FinalError) Error() string {
	return fmt.Sprintf("dispatch %s: %s after %d attempt(s), waited %s: %v",
		e.Op, e.Kind, e.Attempts, e.CumulativeWait, e.Err)
}

// Unwrap отдаёт последнюю ошибку операции.
func (e *FinalError) Unwrap() error {
	return e.Err
}
