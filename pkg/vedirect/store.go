package vedirect

import (
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const UNITS_KEY_SUFFIX = "_units"

// FieldRecord is one slot of the current-data table.
type FieldRecord struct {
	Key   string
	Value string
}

// Listener is called after fieldKey changed, with the new value and units.
// It may write derived fields back through store.UpdateCurrentData.
type Listener func(store *FieldStore, cs *ChangeSet, fieldValue, unitsValue string) error

// FieldStore is the current-data table of one input. It must not be shared
// between inputs, and it is not safe for concurrent use: UpdateCurrentData
// and the listeners it triggers form one read-modify-notify sequence.
type FieldStore struct {
	records   map[string]*FieldRecord
	listeners map[string]Listener
	logger    *zap.Logger
}

func NewFieldStore(logger *zap.Logger) *FieldStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FieldStore{
		records:   make(map[string]*FieldRecord),
		listeners: make(map[string]Listener),
		logger:    logger,
	}
}

func UnitsKey(fieldKey string) string {
	return fieldKey + UNITS_KEY_SUFFIX
}

func (s *FieldStore) Get(key string) (FieldRecord, bool) {
	r, ok := s.records[key]
	if !ok {
		return FieldRecord{}, false
	}
	return *r, true
}

// Upsert inserts or updates key and reports whether the stored value changed.
// Records are never removed.
func (s *FieldStore) Upsert(key, value string) bool {
	r, ok := s.records[key]
	if !ok {
		s.records[key] = &FieldRecord{Key: key, Value: value}
		return true
	}
	if r.Value == value {
		return false
	}
	r.Value = value
	return true
}

func (s *FieldStore) Len() int {
	return len(s.records)
}

// Keys returns every stored key, sorted.
func (s *FieldStore) Keys() []string {
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddListener registers fn for fieldKey, replacing any previous listener.
func (s *FieldStore) AddListener(fieldKey string, fn Listener) {
	s.listeners[fieldKey] = fn
}

// UpdateCurrentData upserts a field and its units entry and records the change
// in cs. A changed field always carries its units so that consumers get a
// consistent pair. Listeners of fieldKey run after any change.
func (s *FieldStore) UpdateCurrentData(cs *ChangeSet, fieldKey, fieldValue, unitsKey, unitsValue string) {
	fieldChanged := s.Upsert(fieldKey, fieldValue)
	unitsChanged := s.Upsert(unitsKey, unitsValue)

	if !fieldChanged && !unitsChanged {
		return
	}
	cs.RecordValue(fieldKey, fieldValue)
	cs.RecordUnits(fieldKey, unitsValue)

	listener, ok := s.listeners[fieldKey]
	if !ok {
		return
	}
	if err := listener(s, cs, fieldValue, unitsValue); err != nil {
		var derr *DerivationError
		if errors.As(err, &derr) {
			s.logger.Debug("vedirect: derived update suppressed", zap.String("field", fieldKey), zap.Error(err))
			return
		}
		s.logger.Warn("vedirect: field listener failed", zap.String("field", fieldKey), zap.Error(err))
	}
}

// Snapshot returns the whole table as a change set, pairing every field with
// its units entry. Keys without a units entry are reported with empty units.
func (s *FieldStore) Snapshot() *ChangeSet {
	cs := NewChangeSet()
	for _, key := range s.Keys() {
		if strings.HasSuffix(key, UNITS_KEY_SUFFIX) {
			if _, isPair := s.records[strings.TrimSuffix(key, UNITS_KEY_SUFFIX)]; isPair {
				continue
			}
		}
		cs.RecordValue(key, s.records[key].Value)
		units := ""
		if r, ok := s.records[UnitsKey(key)]; ok {
			units = r.Value
		}
		cs.RecordUnits(key, units)
	}
	return cs
}
