package vedirect

import (
	"strings"

	"go.uber.org/zap"
)

// Decoder turns VE.Direct text lines of one input into change sets.
// Each physical input owns its own Decoder; the Schema may be shared.
type Decoder struct {
	schema    *Schema
	formatter Formatter
	store     *FieldStore
	logger    *zap.Logger
}

type DecoderOption func(*Decoder)

func WithLogger(logger *zap.Logger) DecoderOption {
	return func(d *Decoder) {
		d.logger = logger
	}
}

func NewDecoder(schema *Schema, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		schema:    schema,
		formatter: NewFormatter(schema),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.store = NewFieldStore(d.logger)
	RegisterDerivations(d.store)
	return d
}

func (d *Decoder) Store() *FieldStore {
	return d.store
}

// HandleLine decodes one raw line into cs and reports whether the line
// matched a schema field. Lines that do not match are dropped silently.
func (d *Decoder) HandleLine(line string, cs *ChangeSet) bool {
	field, value, ok := SplitLine(line)
	if !ok {
		return false
	}
	tag, ok := d.schema.TypeOf(field)
	if !ok {
		d.logger.Debug("vedirect: unknown field", zap.String("field", field))
		return false
	}
	formattedValue, formattedUnits, ok := d.formatter.Format(tag, value)
	if !ok {
		// unknown type tag, nothing is produced for this field
		d.logger.Debug("vedirect: unformatted type", zap.String("field", field), zap.String("type", string(tag)))
		return true
	}
	fieldKey := strings.ToLower(field)
	d.store.UpdateCurrentData(cs, fieldKey, formattedValue, UnitsKey(fieldKey), formattedUnits)
	return true
}

// SplitLine splits "FIELD\tVALUE\r" into its tokens with strtok semantics:
// the field runs up to the first tab, the value from there up to a carriage
// return. Empty tokens are skipped; a missing token fails the split.
func SplitLine(line string) (field, value string, ok bool) {
	field, rest, found := nextToken(line, "\t")
	if !found {
		return "", "", false
	}
	value, _, found = nextToken(rest, "\r")
	if !found {
		return "", "", false
	}
	return field, value, true
}

func nextToken(s, delims string) (token, rest string, found bool) {
	start := 0
	for start < len(s) && strings.IndexByte(delims, s[start]) >= 0 {
		start++
	}
	if start == len(s) {
		return "", "", false
	}
	end := strings.IndexAny(s[start:], delims)
	if end < 0 {
		return s[start:], "", true
	}
	return s[start : start+end], s[start+end+1:], true
}
