package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"venuebook/internal/app/commands"
)

// IdempotentCommand must be implemented by commands that want idempotency guarantees.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	ResultPrototype() any // should match the handler result type
}

// IdempotencyRecord is either a reservation held by an in-flight call
// (Pending) or the final outcome of a call. ErrorCode names the sentinel a
// stored failure was matched against.
type IdempotencyRecord struct {
	Key        string
	Payload    []byte
	Error      string
	ErrorCode  string
	Pending    bool
	OccurredAt time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	// Reserve inserts a pending record for key. It reports false when key
	// already holds an outcome or a reservation taken at or after staleBefore.
	Reserve(ctx context.Context, key string, at, staleBefore time.Time) (bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
	// Release drops a pending reservation so the key can be retried.
	Release(ctx context.Context, key string) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONResultCodec) Decode(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

const DefaultInFlightLease = time.Minute

var (
	errMissingPrototype = errors.New("middleware: idempotent command requires result prototype")

	// ErrReplayedFailure marks a failure stored by an earlier call with the same key.
	ErrReplayedFailure = errors.New("middleware: replayed failure")
	// ErrRequestInFlight is returned while another call holds the same key.
	ErrRequestInFlight = errors.New("middleware: request with this idempotency key is in progress")
)

// ReplayedError carries a stored failure back to the caller. It unwraps to the
// sentinel the failure was stored under, so callers classify it the same way
// as the original.
type ReplayedError struct {
	Message string
	Cause   error
}

func (e *ReplayedError) Error() string { return e.Message }

func (e *ReplayedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrReplayedFailure}
	}
	return []error{e.Cause, ErrReplayedFailure}
}

type IdempotencyOption func(*idempotency)

// ReplayErrors lists the failures that are final for a key. Any other error
// releases the key and the next call with it runs the handler again.
func ReplayErrors(errs ...error) IdempotencyOption {
	return func(m *idempotency) { m.final = append(m.final, errs...) }
}

// InFlightLease bounds how long an unfinished reservation blocks its key.
func InFlightLease(d time.Duration) IdempotencyOption {
	return func(m *idempotency) {
		if d > 0 {
			m.lease = d
		}
	}
}

func IdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(m *idempotency) {
		if now != nil {
			m.now = now
		}
	}
}

type idempotency struct {
	store IdempotencyStore
	codec ResultCodec
	final []error
	lease time.Duration
	now   func() time.Time
}

func Idempotency(store IdempotencyStore, codec ResultCodec, opts ...IdempotencyOption) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	if codec == nil {
		codec = JSONResultCodec{}
	}
	m := &idempotency{store: store, codec: codec, lease: DefaultInFlightLease, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			idCmd, ok := cmd.(IdempotentCommand)
			if !ok || idCmd.IdempotencyKey() == "" {
				return nextFn(ctx, cmd)
			}
			return m.dispatch(ctx, idCmd, nextFn)
		})
	}
}

func (m *idempotency) dispatch(ctx context.Context, cmd IdempotentCommand, next commandFunc) (any, error) {
	key := scopedKey(cmd)
	rec, found, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found && !rec.Pending {
		return m.replay(cmd, rec)
	}
	at := m.now().UTC()
	reserved, err := m.store.Reserve(ctx, key, at, at.Add(-m.lease))
	if err != nil {
		return nil, err
	}
	if !reserved {
		// Lost the race: either the other call already finished or it is
		// still running.
		rec, found, err = m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found && !rec.Pending {
			return m.replay(cmd, rec)
		}
		return nil, fmt.Errorf("%w: %s", ErrRequestInFlight, cmd.IdempotencyKey())
	}

	// The outcome is written even when the caller has gone away.
	storeCtx := context.WithoutCancel(ctx)
	result, err := next(ctx, cmd)
	if err != nil {
		sentinel := m.finalError(err)
		if sentinel == nil {
			if relErr := m.store.Release(storeCtx, key); relErr != nil {
				return nil, errors.Join(err, relErr)
			}
			return nil, err
		}
		record := IdempotencyRecord{Key: key, Error: err.Error(), ErrorCode: sentinel.Error(), OccurredAt: m.now().UTC()}
		if saveErr := m.store.Save(storeCtx, record); saveErr != nil {
			return nil, errors.Join(err, saveErr)
		}
		return nil, err
	}
	record := IdempotencyRecord{Key: key, OccurredAt: m.now().UTC()}
	if result != nil {
		payload, encErr := m.codec.Encode(result)
		if encErr != nil {
			_ = m.store.Release(storeCtx, key)
			return nil, encErr
		}
		record.Payload = payload
	}
	if saveErr := m.store.Save(storeCtx, record); saveErr != nil {
		return nil, saveErr
	}
	return result, nil
}

func (m *idempotency) finalError(err error) error {
	for _, sentinel := range m.final {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func (m *idempotency) replay(cmd IdempotentCommand, rec IdempotencyRecord) (any, error) {
	if rec.Error != "" {
		replayed := &ReplayedError{Message: rec.Error}
		for _, sentinel := range m.final {
			if sentinel.Error() == rec.ErrorCode {
				replayed.Cause = sentinel
				break
			}
		}
		return nil, replayed
	}
	proto := cmd.ResultPrototype()
	if proto == nil {
		return nil, errMissingPrototype
	}
	if len(rec.Payload) == 0 {
		return nil, nil
	}
	if err := m.codec.Decode(rec.Payload, proto); err != nil {
		return nil, err
	}
	return normalizePrototype(proto), nil
}

// scopedKey keeps equal client keys sent to different commands apart.
func scopedKey(cmd IdempotentCommand) string {
	return string(cmd.Name()) + ":" + cmd.IdempotencyKey()
}

func normalizePrototype(proto any) any {
	rv := reflect.ValueOf(proto)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return rv.Interface()
	}
	return proto
}
