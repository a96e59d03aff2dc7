// Package dispatch — диспетчер запросов с учётом серверных лимитов.
// Выполняет операцию и прозрачно повторяет её при отказах: серверная пауза
// (rate limit) соблюдается как есть, временные сбои повторяются с экспоненциальным
// бэкофом и джиттером, фатальные ошибки возвращаются немедленно. Повторы ограничены
// и числом попыток, и суммарным бюджетом ожидания.
//
// Диспетчер не держит разделяемого состояния между вызовами: всё состояние
// локально одному Do, поэтому параллельные Do полностью независимы и блокировки
// не нужны. Сам диспетчер не выполняет I/O — единственный его побочный эффект
// это приостановка вызывающей горутины между попытками.
package dispatch

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Policy — неизменяемая конфигурация повторов для одного вызова Do.
type Policy struct {
	// MaxAttempts ограничивает общее число попыток. Значение 1 полностью
	// отключает повторы: диспетчер становится прозрачной обёрткой.
	MaxAttempts int
	// MaxTotalWait — бюджет суммарного ожидания между попытками.
	// Суммарная пауза одного вызова Do никогда его не превышает.
	MaxTotalWait time.Duration
	// BaseBackoff — базовая пауза клиентского бэкофа; попытка N ждёт
	// BaseBackoff * 2^(N-1) (плюс джиттер, если включён).
	BaseBackoff time.Duration
	// Jitter добавляет к бэкофу случайную добавку из [0, backoff),
	// чтобы разнести повторы независимых вызовов во времени.
	Jitter bool
}

// DefaultPolicy возвращает консервативную политику по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		MaxTotalWait: 5 * time.Minute,
		BaseBackoff:  time.Second,
		Jitter:       true,
	}
}

// Validate проверяет согласованность политики. Используется на границе
// конфигурации; New дополнительно нормализует значения молча.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("dispatch: max attempts must be at least 1")
	}
	if p.MaxTotalWait < 0 {
		return errors.New("dispatch: max total wait must not be negative")
	}
	if p.BaseBackoff < 0 {
		return errors.New("dispatch: base backoff must not be negative")
	}
	return nil
}

// Classifier анализирует ошибку операции и, если распознал её формат,
// возвращает типизированный Failure. Классификаторы вызываются по цепочке
// в порядке регистрации; первый распознавший определяет класс отказа.
type Classifier func(err error) (*Failure, bool)

// Option задаёт дополнительные параметры диспетчера при создании.
type Option func(*Dispatcher)

// WithClassifiers регистрирует классификаторы ошибок транспортного слоя.
func WithClassifiers(classifiers ...Classifier) Option {
	return func(d *Dispatcher) {
		for _, c := range classifiers {
			if c != nil {
				d.classifiers = append(d.classifiers, c)
			}
		}
	}
}

// WithRandom подменяет источник случайности джиттера. Нужен детерминированным тестам.
func WithRandom(fn func() float64) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.randomFn = fn
		}
	}
}

// WithSleep подменяет функцию приостановки между попытками.
// Используется в тестах, чтобы фиксировать паузы без реального ожидания.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleepFn = fn
		}
	}
}

// Dispatcher выполняет операции по политике повторов. Безопасен для
// конкурентного использования: конфигурация после New не меняется,
// а состояние каждого вызова Do локально этому вызову.
type Dispatcher struct {
	policy      Policy
	classifiers []Classifier
	randomFn    func() float64
	sleepFn     func(ctx context.Context, d time.Duration) error
}

// New создаёт диспетчер. Некорректные поля политики нормализуются:
// MaxAttempts < 1 становится 1, отрицательные длительности — нулём.
func New(policy Policy, opts ...Option) *Dispatcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.MaxTotalWait < 0 {
		policy.MaxTotalWait = 0
	}
	if policy.BaseBackoff < 0 {
		policy.BaseBackoff = 0
	}

	d := &Dispatcher{policy: policy}
	for _, opt := range opts {
		opt(d)
	}
	if d.randomFn == nil {
		d.randomFn = rand.Float64
	}
	if d.sleepFn == nil {
		d.sleepFn = sleep
	}
	return d
}

// Policy возвращает копию действующей политики.
func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Do выполняет операцию fn с повторами по политике диспетчера.
// op — корреляционный идентификатор: попадает в FinalError для диагностики.
//
// Алгоритм:
//  1. попытка с номером 1: вызвать fn;
//  2. успех — вернуть nil немедленно, история попыток отбрасывается;
//  3. rate limit — ждать ровно серверную паузу (она приоритетнее бэкофа);
//     если попытки или бюджет исчерпаны — вернуть FinalError;
//  4. временный сбой — ждать BaseBackoff*2^(N-1) с джиттером, срезая паузу
//     по остатку бюджета; при исчерпании попыток — FinalError;
//  5. фатальный сбой — вернуть FinalError сразу, без ожидания.
//
// Отмена контекста во время ожидания прерывает цикл и возвращает ctx.Err()
// как есть — это отдельный исход, не FinalError.
func (d *Dispatcher) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	attempt := 1
	var cumWait time.Duration
	var records []AttemptRecord

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		callErr := fn(ctx)
		if callErr == nil {
			return nil
		}

		// Отмену не классифицируем: она всегда проходит наверх без повторов.
		if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
			return callErr
		}

		failure := d.classify(callErr)

		var wait time.Duration
		switch failure.Kind {
		case KindFatal:
			records = append(records, AttemptRecord{Attempt: attempt, Kind: KindFatal, Err: callErr})
			return d.finalErr(op, KindFatal, attempt, cumWait, records, callErr)

		case KindRateLimited:
			wait = failure.Wait
			if wait < 0 {
				wait = 0
			}
			// Серверная пауза не срезается: либо помещаемся в бюджет целиком,
			// либо прекращаем повторы сразу.
			if attempt >= d.policy.MaxAttempts || cumWait+wait > d.policy.MaxTotalWait {
				records = append(records, AttemptRecord{Attempt: attempt, Kind: KindRateLimited, Err: callErr})
				return d.finalErr(op, KindRateLimited, attempt, cumWait, records, callErr)
			}

		case KindTransient:
			if attempt >= d.policy.MaxAttempts {
				records = append(records, AttemptRecord{Attempt: attempt, Kind: KindTransient, Err: callErr})
				return d.finalErr(op, KindTransient, attempt, cumWait, records, callErr)
			}
			wait = d.backoff(attempt)
			// Клиентскую паузу срезаем по остатку бюджета ожидания.
			if remaining := d.policy.MaxTotalWait - cumWait; wait > remaining {
				wait = remaining
			}
			if wait < 0 {
				wait = 0
			}
		}

		records = append(records, AttemptRecord{Attempt: attempt, Kind: failure.Kind, Wait: wait, Err: callErr})

		if wait > 0 {
			if sleepErr := d.sleepFn(ctx, wait); sleepErr != nil {
				return sleepErr
			}
			cumWait += wait
		}
		attempt++
	}
}

// classify приводит ошибку операции к Failure. Приоритет: явная пометка
// через RateLimited/Transient/Fatal, затем зарегистрированные классификаторы,
// затем KindTransient по умолчанию — неизвестный сбой считаем временным,
// фатальность должна быть заявлена явно.
func (d *Dispatcher) classify(err error) *Failure {
	var tagged *Failure
	if errors.As(err, &tagged) {
		return tagged
	}
	for _, c := range d.classifiers {
		if f, ok := c(err); ok && f != nil {
			return f
		}
	}
	return &Failure{Kind: KindTransient, Err: err}
}

// backoff вычисляет клиентскую паузу перед попыткой attempt+1:
// BaseBackoff * 2^(attempt-1), опционально плюс джиттер из [0, backoff).
func (d *Dispatcher) backoff(attempt int) time.Duration {
	base := d.policy.BaseBackoff
	if base <= 0 {
		return 0
	}

	factor := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(float64(base) * factor)
	// Переполнение при больших номерах попыток: ограничиваемся бюджетом.
	if backoff <= 0 || backoff > d.policy.MaxTotalWait {
		backoff = d.policy.MaxTotalWait
	}

	if d.policy.Jitter && backoff > 0 {
		backoff += time.Duration(d.randomFn() * float64(backoff))
	}
	return backoff
}

func (d *Dispatcher) finalErr(
	op string,
	kind Kind,
	attempts int,
	cumWait time.Duration,
	records []AttemptRecord,
	last error,
) error {
	return &FinalError{
		Op:             op,
		Kind:           kind,
		Attempts:       attempts,
		CumulativeWait: cumWait,
		Records:        records,
		Err:            last,
	}
}

// sleep ждёт duration или отмену контекста. Таймер останавливается и
// дренируется, чтобы тик не протёк в последующие select.
func sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
