package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"

	"telegram-terminal/internal/infra/dispatch"
)

func TestClassifyFloodWait(t *testing.T) {
	t.Parallel()

	err := tgerr.New(420, "FLOOD_WAIT_5")
	failure, ok := Classify(err)
	if !ok {
		t.Fatalf("Classify() ok = false, want flood wait recognized")
	}
	if failure.Kind != dispatch.KindRateLimited {
		t.Errorf("Kind = %v, want rate_limited", failure.Kind)
	}
	if failure.Wait != 5*time.Second {
		t.Errorf("Wait = %v, want 5s", failure.Wait)
	}
}

func TestClassifyRPCCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		kind dispatch.Kind
	}{
		{name: "bad request is fatal", err: tgerr.New(400, "PEER_ID_INVALID"), kind: dispatch.KindFatal},
		{name: "peer flood is fatal", err: tgerr.New(400, "PEER_FLOOD"), kind: dispatch.KindFatal},
		{name: "unauthorized is fatal", err: tgerr.New(401, "AUTH_KEY_UNREGISTERED"), kind: dispatch.KindFatal},
		{name: "forbidden is fatal", err: tgerr.New(403, "CHAT_WRITE_FORBIDDEN"), kind: dispatch.KindFatal},
		{name: "internal is transient", err: tgerr.New(500, "INTERNAL"), kind: dispatch.KindTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			failure, ok := Classify(tc.err)
			if !ok {
				t.Fatalf("Classify() ok = false, want rpc error recognized")
			}
			if failure.Kind != tc.kind {
				t.Errorf("Kind = %v, want %v", failure.Kind, tc.kind)
			}
		})
	}
}

func TestClassifyUnknownErrors(t *testing.T) {
	t.Parallel()

	// Не-RPC ошибки остаются нераспознанными: решение за диспетчером.
	if _, ok := Classify(errors.New("connection reset")); ok {
		t.Errorf("Classify(plain error) ok = true, want false")
	}
	if _, ok := Classify(nil); ok {
		t.Errorf("Classify(nil) ok = true, want false")
	}
}

func TestClassifyWiresIntoDispatcher(t *testing.T) {
	t.Parallel()

	// Сквозная проверка: FLOOD_WAIT из API превращается в серверную паузу диспетчера.
	var waits []time.Duration
	d := dispatch.New(
		dispatch.Policy{MaxAttempts: 2, MaxTotalWait: time.Minute, BaseBackoff: time.Second},
		dispatch.WithClassifiers(Classify),
		dispatch.WithSleep(func(_ context.Context, wait time.Duration) error {
			waits = append(waits, wait)
			return nil
		}),
	)

	calls := 0
	err := d.Do(t.Context(), "test.flood", func(_ context.Context) error {
		calls++
		if calls == 1 {
			return tgerr.New(420, "FLOOD_WAIT_3")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(waits) != 1 || waits[0] != 3*time.Second {
		t.Errorf("waits = %v, want [3s]", waits)
	}
}
