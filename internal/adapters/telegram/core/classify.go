// Файл classify.go преобразует ошибки Telegram API в типизированные отказы
// диспетчера запросов. Классификатор подключается через dispatch.WithClassifiers
// и определяет стратегию повтора для каждого RPC-вызова.

package core

import (
	"github.com/gotd/td/tgerr"

	"telegram-terminal/internal/infra/dispatch"
)

// Classify распознаёт ошибки MTProto-транспорта:
//   - FLOOD_WAIT / FLOOD_PREMIUM_WAIT — серверный лимит: пауза берётся из ошибки
//     и соблюдается диспетчером как есть, без добавок;
//   - остальные RPC-ошибки 4xx (BAD_REQUEST, PEER_FLOOD, UNAUTHORIZED и т. п.) —
//     фатальны: повтор того же запроса даст тот же ответ;
//   - RPC-ошибки 5xx (INTERNAL) — временные, сервер просит повторить позже.
//
// Не-RPC ошибки (сеть, таймауты транспорта) классификатор не распознаёт:
// для них диспетчер применяет свой дефолт.
func Classify(err error) (*dispatch.Failure, bool) {
	if err == nil {
		return nil, false
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &dispatch.Failure{Kind: dispatch.KindRateLimited, Wait: wait, Err: err}, true
	}

	rpc, ok := tgerr.As(err)
	if !ok {
		return nil, false
	}
	if rpc.Code >= 400 && rpc.Code < 500 {
		return &dispatch.Failure{Kind: dispatch.KindFatal, Err: err}, true
	}
	return &dispatch.Failure{Kind: dispatch.KindTransient, Err: err}, true
}
