package vedirect

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TypeTag is the schema-declared interpretation of a raw field value.
type TypeTag string

const (
	TYPE_PERCENTAGE       TypeTag = "%"
	TYPE_TENTHS_PERCENT   TypeTag = "0.1 %"
	TYPE_HUNDREDTHS_VOLT  TypeTag = "0.01 V"
	TYPE_HUNDREDTHS_KWH   TypeTag = "0.01 kWh"
	TYPE_TENTHS_AMP       TypeTag = "0.1 A"
	TYPE_WATTS            TypeTag = "W"
	TYPE_COUNT            TypeTag = "count"
	TYPE_TEMPERATURE_C    TypeTag = "deg_C"
	TYPE_FIRMWARE_VERSION TypeTag = "fw"
	TYPE_MILLIAMP         TypeTag = "mA"
	TYPE_MILLIAMP_HOUR    TypeTag = "mAh"
	TYPE_MILLIVOLT        TypeTag = "mV"
	TYPE_ALARM_REASONS    TypeTag = "map_ar"
	TYPE_OFF_REASONS      TypeTag = "map_or"
	TYPE_CODED_STATE      TypeTag = "map_cs"
	TYPE_CODED_ERROR      TypeTag = "map_err"
	TYPE_CODED_MODE       TypeTag = "map_mode"
	TYPE_CODED_MPPT_STATE TypeTag = "map_mppt"
	TYPE_CODED_PRODUCT_ID TypeTag = "map_pid"
	TYPE_MINUTES          TypeTag = "min"
	TYPE_ON_OFF           TypeTag = "onoff"
	TYPE_DAY_OF_YEAR      TypeTag = "range[0..364]"
	TYPE_SECONDS          TypeTag = "sec"
	TYPE_SERIAL_NUMBER    TypeTag = "serial"
	TYPE_PLAIN_STRING     TypeTag = "string"
)

// MapName names one of the code maps of the schema document.
type MapName string

const (
	MAP_ALARM_REASONS MapName = "map_ar"
	MAP_OFF_REASONS   MapName = "map_or"
	MAP_STATE         MapName = "map_cs"
	MAP_ERROR         MapName = "map_err"
	MAP_MODE          MapName = "map_mode"
	MAP_MPPT_STATE    MapName = "map_mppt"
	MAP_PRODUCT_ID    MapName = "map_pid"
)

var ErrSchemaParse = errors.New("vedirect: schema parse failure")

// SchemaError is returned when a schema document cannot be loaded.
// No partial schema is ever returned together with it.
type SchemaError struct {
	Source string
	Reason error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("vedirect: error parsing schema '%s' [%v]", e.Source, e.Reason)
}

func (e *SchemaError) Unwrap() []error {
	return []error{ErrSchemaParse, e.Reason}
}

type FieldDefinition struct {
	Name string  `json:"name" yaml:"name"`
	Type TypeTag `json:"type" yaml:"type"`
}

type CodeMapEntry struct {
	Key   int    `json:"key" yaml:"key"`
	Label string `json:"value" yaml:"value"`
}

type ProductMapEntry struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"value" yaml:"value"`
}

type schemaDocument struct {
	Fields  []FieldDefinition `json:"fields" yaml:"fields"`
	MapAR   []CodeMapEntry    `json:"map_ar" yaml:"map_ar"`
	MapOR   []CodeMapEntry    `json:"map_or" yaml:"map_or"`
	MapCS   []CodeMapEntry    `json:"map_cs" yaml:"map_cs"`
	MapErr  []CodeMapEntry    `json:"map_err" yaml:"map_err"`
	MapMode []CodeMapEntry    `json:"map_mode" yaml:"map_mode"`
	MapMPPT []CodeMapEntry    `json:"map_mppt" yaml:"map_mppt"`
	MapPID  []ProductMapEntry `json:"map_pid" yaml:"map_pid"`
}

// Schema holds the field definitions and code maps. It is read-only after
// load and may be shared by any number of decoders.
type Schema struct {
	fields     []FieldDefinition
	fieldIndex map[string]int
	codeMaps   map[MapName][]CodeMapEntry
	productMap []ProductMapEntry
}

type SchemaFormat int

const (
	SCHEMA_FORMAT_JSON SchemaFormat = iota
	SCHEMA_FORMAT_YAML
)

// LoadSchemaFile loads a schema document, picking the decoder from the
// file extension (.yaml/.yml, anything else is JSON).
func LoadSchemaFile(path string) (*Schema, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &SchemaError{Source: path, Reason: err}
	}
	defer file.Close()

	format := SCHEMA_FORMAT_JSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = SCHEMA_FORMAT_YAML
	}
	return loadSchema(file, format, filepath.Base(path))
}

func LoadSchema(r io.Reader, format SchemaFormat) (*Schema, error) {
	return loadSchema(r, format, "reader")
}

func loadSchema(r io.Reader, format SchemaFormat, source string) (*Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &SchemaError{Source: source, Reason: err}
	}

	var doc schemaDocument
	switch format {
	case SCHEMA_FORMAT_YAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, &SchemaError{Source: source, Reason: err}
	}
	return newSchema(doc), nil
}

func newSchema(doc schemaDocument) *Schema {
	s := &Schema{
		fields:     doc.Fields,
		fieldIndex: make(map[string]int, len(doc.Fields)),
		codeMaps: map[MapName][]CodeMapEntry{
			MAP_ALARM_REASONS: doc.MapAR,
			MAP_OFF_REASONS:   doc.MapOR,
			MAP_STATE:         doc.MapCS,
			MAP_ERROR:         doc.MapErr,
			MAP_MODE:          doc.MapMode,
			MAP_MPPT_STATE:    doc.MapMPPT,
		},
		productMap: doc.MapPID,
	}
	for i, def := range doc.Fields {
		// first definition wins on duplicate names
		if _, exists := s.fieldIndex[def.Name]; !exists {
			s.fieldIndex[def.Name] = i
		}
	}
	return s
}

// TypeOf returns the type tag of a raw (case-sensitive) field name.
func (s *Schema) TypeOf(fieldName string) (TypeTag, bool) {
	i, ok := s.fieldIndex[fieldName]
	if !ok {
		return "", false
	}
	return s.fields[i].Type, true
}

func (s *Schema) Fields() []FieldDefinition {
	return append([]FieldDefinition(nil), s.fields...)
}

// MapLookup finds the label of an exact key in a numeric code map.
func (s *Schema) MapLookup(mapName MapName, key int) (string, bool) {
	for _, entry := range s.codeMaps[mapName] {
		if entry.Key == key {
			return entry.Label, true
		}
	}
	return "", false
}

// ProductLookup matches product ids as strings, e.g. "0xA053".
func (s *Schema) ProductLookup(key string) (string, bool) {
	for _, entry := range s.productMap {
		if entry.Key == key {
			return entry.Label, true
		}
	}
	return "", false
}

// MapBitsSet returns, in document order, the labels of every entry whose key
// shares at least one bit with bitmask.
func (s *Schema) MapBitsSet(mapName MapName, bitmask int) []string {
	var labels []string
	for _, entry := range s.codeMaps[mapName] {
		if entry.Key&bitmask != 0 {
			labels = append(labels, entry.Label)
		}
	}
	return labels
}
