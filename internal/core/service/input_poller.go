package service

import (
	"context"
	"strings"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/port"
	"github.com/berfenger/vedirect2mqtt/internal/metrics"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"go.uber.org/zap"
)

const SERIAL_READ_TIMEOUT = 500 * time.Millisecond

type DefaultInputPoller struct {
	Name    string
	Source  vedirect.LineSource
	Decoder *vedirect.Decoder
	Logger  *zap.Logger
}

func NewInputPoller(input config.InputConfig, schema *vedirect.Schema, logger *zap.Logger) *DefaultInputPoller {
	return NewInputPollerWithSource(input.Name, NewLineSource(input, logger), schema, logger)
}

func NewInputPollerWithSource(name string, source vedirect.LineSource, schema *vedirect.Schema, logger *zap.Logger) *DefaultInputPoller {
	logger = logger.With(zap.String("input", name))
	return &DefaultInputPoller{
		Name:    name,
		Source:  source,
		Decoder: vedirect.NewDecoder(schema, vedirect.WithLogger(logger)),
		Logger:  logger,
	}
}

// NewLineSource opens the serial device of an input, or replays its capture
// file when no device is configured.
func NewLineSource(input config.InputConfig, logger *zap.Logger) vedirect.LineSource {
	if input.Device != "" {
		return vedirect.NewSerialSource(vedirect.SerialConfig{
			Device:        input.Device,
			BaudRate:      input.BaudRate,
			MaxLineLength: input.MaxLineLength,
			ReadTimeout:   SERIAL_READ_TIMEOUT,
		}, logger.With(zap.String("input", input.Name)))
	}
	return vedirect.NewReplaySource(input.ReplayFile, input.MaxLineLength)
}

func (p *DefaultInputPoller) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Source.Open()
}

func (p *DefaultInputPoller) Close() error {
	return p.Source.Close()
}

// Poll decodes every line received since the previous call.
func (p *DefaultInputPoller) Poll() *vedirect.ChangeSet {
	cs := vedirect.NewChangeSet()
	lines := p.Source.Drain()
	if len(lines) == 0 {
		return cs
	}
	skipped := 0
	for _, line := range lines {
		if !p.Decoder.HandleLine(line, cs) && !strings.HasPrefix(line, vedirect.CHECKSUM_FIELD) {
			skipped++
		}
	}
	metrics.LinesTotal.WithLabelValues(p.Name).Add(float64(len(lines)))
	metrics.LinesSkipped.WithLabelValues(p.Name).Add(float64(skipped))
	metrics.FieldsChanged.WithLabelValues(p.Name).Add(float64(cs.Len()))
	metrics.InputFields.WithLabelValues(p.Name).Set(float64(p.Decoder.Store().Len()))
	if skipped > 0 {
		p.Logger.Debug("lines skipped", zap.Int("lines", len(lines)), zap.Int("skipped", skipped))
	}
	return cs
}

func (p *DefaultInputPoller) Snapshot() *vedirect.ChangeSet {
	return p.Decoder.Store().Snapshot()
}

func (p *DefaultInputPoller) Err() error {
	return p.Source.Err()
}

// ensure interface compliance
var _ port.InputPoller = (*DefaultInputPoller)(nil)
