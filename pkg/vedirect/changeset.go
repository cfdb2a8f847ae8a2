package vedirect

// FieldUpdate is the published record of one changed field. Both members are
// optional on the wire but a decoder always records them as a pair.
type FieldUpdate struct {
	Value *string `json:"value,omitempty"`
	Units *string `json:"units,omitempty"`
}

func (u FieldUpdate) ValueOrEmpty() string {
	if u.Value == nil {
		return ""
	}
	return *u.Value
}

func (u FieldUpdate) UnitsOrEmpty() string {
	if u.Units == nil {
		return ""
	}
	return *u.Units
}

// ChangeSet accumulates the field updates of one line or one polling cycle.
// A field appears at most once; later records overwrite earlier ones.
type ChangeSet struct {
	updates map[string]*FieldUpdate
	order   []string
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		updates: make(map[string]*FieldUpdate),
	}
}

func (cs *ChangeSet) entry(field string) *FieldUpdate {
	u, ok := cs.updates[field]
	if !ok {
		u = &FieldUpdate{}
		cs.updates[field] = u
		cs.order = append(cs.order, field)
	}
	return u
}

func (cs *ChangeSet) RecordValue(field, value string) {
	cs.entry(field).Value = &value
}

func (cs *ChangeSet) RecordUnits(field, units string) {
	cs.entry(field).Units = &units
}

func (cs *ChangeSet) Get(field string) (FieldUpdate, bool) {
	u, ok := cs.updates[field]
	if !ok {
		return FieldUpdate{}, false
	}
	return *u, true
}

// Fields returns the changed field names in first-recorded order.
func (cs *ChangeSet) Fields() []string {
	return append([]string(nil), cs.order...)
}

func (cs *ChangeSet) Len() int {
	return len(cs.order)
}

func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.order) == 0
}

// Map returns a copy of the updates keyed by field name.
func (cs *ChangeSet) Map() map[string]FieldUpdate {
	m := make(map[string]FieldUpdate, len(cs.order))
	for _, field := range cs.order {
		m[field] = *cs.updates[field]
	}
	return m
}
