package domain

// FieldValue is one decoded field as published.
type FieldValue struct {
	Field string
	Value *string
	Units *string
}

// ChangeSetEvent carries the fields of one input that changed during a
// polling cycle. Snapshot events carry the whole table.
type ChangeSetEvent struct {
	Input    string
	Topic    string
	Fields   []FieldValue
	Snapshot bool
}

func (e ChangeSetEvent) IsEmpty() bool {
	return len(e.Fields) == 0
}
