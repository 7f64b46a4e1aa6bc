package decider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"upright/internal/config"
	"upright/internal/logging"
	"upright/internal/services"
)

// Angle is a clockwise rotation in degrees.
type Angle int

// Valid angles.
const (
	Angle0   Angle = 0
	Angle90  Angle = 90
	Angle180 Angle = 180
	Angle270 Angle = 270
)

// Valid reports whether a is one of the four accepted angles.
func (a Angle) Valid() bool {
	switch a {
	case Angle0, Angle90, Angle180, Angle270:
		return true
	default:
		return false
	}
}

// Inverse returns the rotation that undoes a.
func (a Angle) Inverse() Angle {
	return Angle((360 - int(a)) % 360)
}

// ParseAngle accepts an integer or a numeric string and validates it.
func ParseAngle(value any) (Angle, error) {
	var n int
	switch v := value.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("rotation %v is not an integer", v)
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("rotation %q is not an integer", v)
		}
		n = parsed
	case nil:
		return 0, errors.New("rotation missing")
	default:
		return 0, fmt.Errorf("rotation has unsupported type %T", value)
	}
	angle := Angle(n)
	if !angle.Valid() {
		return 0, fmt.Errorf("rotation %d not in {0,90,180,270}", n)
	}
	return angle, nil
}

// Image is the input to a decision. Name is used only for diagnostics and to
// pick a file extension when the bytes must be handed over as a file.
type Image struct {
	Name string
	Data []byte
}

// Decider returns the clockwise correction for an image. Implementations must
// not modify the input and must fail rather than guess.
type Decider interface {
	Decide(ctx context.Context, img Image) (Angle, error)
}

// HealthChecker is implemented by deciders that can verify reachability
// before the pipeline starts.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Func adapts a function to the Decider interface.
type Func func(ctx context.Context, img Image) (Angle, error)

// Decide calls f.
func (f Func) Decide(ctx context.Context, img Image) (Angle, error) {
	return f(ctx, img)
}

// Inverted converts a model that reports the rotation applied to an image into
// one that reports the correction.
type Inverted struct {
	Inner Decider
}

// Decide returns (360 - inner) % 360.
func (d Inverted) Decide(ctx context.Context, img Image) (Angle, error) {
	angle, err := d.Inner.Decide(ctx, img)
	if err != nil {
		return 0, err
	}
	return angle.Inverse(), nil
}

// HealthCheck delegates to the inner decider when it supports checks.
func (d Inverted) HealthCheck(ctx context.Context) error {
	return HealthCheck(ctx, d.Inner)
}

// HealthCheck runs d's health check when it has one.
func HealthCheck(ctx context.Context, d Decider) error {
	if checker, ok := d.(HealthChecker); ok {
		return checker.HealthCheck(ctx)
	}
	return nil
}

// New builds the decider selected by cfg.Kind.
func New(cfg config.Decider, logger *slog.Logger) (Decider, error) {
	logger = logging.NewComponentLogger(logger, "decider")
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	var d Decider
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case config.DeciderCommand:
		d = NewCommand(CommandConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Model:   cfg.Model,
			Prompt:  cfg.Prompt,
			Timeout: timeout,
		}, logger)
	case config.DeciderOllama:
		d = NewOllama(OllamaConfig{
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Prompt:   cfg.Prompt,
			Timeout:  timeout,
			Attempts: cfg.TransportAttempts,
		}, logger)
	case config.DeciderHTTP:
		d = NewHTTP(HTTPConfig{
			URL:      cfg.BaseURL,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Timeout:  timeout,
			Attempts: cfg.TransportAttempts,
		}, logger)
	case config.DeciderFixed:
		angle, err := ParseAngle(cfg.FixedAngle)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "decider", "fixed angle", "invalid decider.fixed_angle", err)
		}
		d = Fixed{Angle: angle}
	default:
		return nil, services.Wrap(services.ErrConfiguration, "decider", "select kind", fmt.Sprintf("unsupported decider kind %q", cfg.Kind), nil)
	}

	if cfg.Invert {
		d = Inverted{Inner: d}
	}
	return d, nil
}

// Fixed always returns Angle.
type Fixed struct {
	Angle Angle
}

// Decide returns the configured angle.
func (f Fixed) Decide(ctx context.Context, _ Image) (Angle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f.Angle, nil
}

func decisionError(op, msg string, err error) error {
	return services.Wrap(services.ErrDecision, "decider", op, msg, err)
}
