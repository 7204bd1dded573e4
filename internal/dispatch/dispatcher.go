// Package dispatch translates remote commands into host application events.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmorsell/stage-remote/internal/metrics"
	"github.com/vmorsell/stage-remote/pkg/model"
	"go.uber.org/zap"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingValue   = errors.New("missing value")
	ErrInvalidValue   = errors.New("value is not a number")
)

// Emitter delivers a named event to the host application. payload is nil for
// commands without a value.
type Emitter interface {
	Emit(name string, payload any) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(name string, payload any) error

func (f EmitterFunc) Emit(name string, payload any) error {
	return f(name, payload)
}

var simpleEvents = map[model.CommandType]string{
	model.CommandPlay:          model.EventPlay,
	model.CommandPause:         model.EventPause,
	model.CommandStop:          model.EventStop,
	model.CommandNextSegment:   model.EventNextSegment,
	model.CommandPrevSegment:   model.EventPrevSegment,
	model.CommandToggleMirror:  model.EventToggleMirror,
	model.CommandResetPosition: model.EventResetPosition,
	model.CommandGoLive:        model.EventGoLive,
	model.CommandExitLive:      model.EventExitLive,
}

type Dispatcher struct {
	logger  *zap.Logger
	emitter Emitter
	metrics *metrics.Metrics
}

func NewDispatcher(logger *zap.Logger, emitter Emitter, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		logger:  logger,
		emitter: emitter,
		metrics: m,
	}
}

// Dispatch validates cmd and emits its event. Invalid or unknown commands are
// logged and dropped; Dispatch never fails the caller.
func (d *Dispatcher) Dispatch(cmd model.Command) {
	name, payload, err := Translate(cmd)
	if err != nil {
		outcome := metrics.OutcomeInvalid
		if errors.Is(err, ErrUnknownCommand) {
			outcome = metrics.OutcomeUnknown
		}
		d.metrics.Command(string(cmd.Type), outcome)
		d.logger.Warn("dropping remote command",
			zap.String("command", string(cmd.Type)),
			zap.Any("value", cmd.Value),
			zap.Error(err))
		return
	}

	d.logger.Info("executing remote command", zap.String("command", string(cmd.Type)))

	if err := d.emitter.Emit(name, payload); err != nil {
		d.metrics.Command(string(cmd.Type), metrics.OutcomeEmitError)
		d.logger.Error("failed to emit event",
			zap.String("command", string(cmd.Type)),
			zap.String("event", name),
			zap.Error(err))
		return
	}
	d.metrics.Command(string(cmd.Type), metrics.OutcomeDispatched)
}

// Translate maps cmd to an event name and payload without side effects.
func Translate(cmd model.Command) (string, any, error) {
	if name, ok := simpleEvents[cmd.Type]; ok {
		return name, nil, nil
	}

	switch cmd.Type {
	case model.CommandSetSpeed:
		speed, err := numericValue(cmd.Value)
		if err != nil {
			return "", nil, fmt.Errorf("set_speed: %w", err)
		}
		return model.EventSetSpeed, ClampSpeed(speed), nil
	case model.CommandSeek:
		position, err := numericValue(cmd.Value)
		if err != nil {
			return "", nil, fmt.Errorf("seek: %w", err)
		}
		return model.EventSeek, position, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

func ClampSpeed(v float64) float64 {
	return min(max(v, model.SpeedMin), model.SpeedMax)
}

func numericValue(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, ErrMissingValue
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidValue, v)
	}
}
