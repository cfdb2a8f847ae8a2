package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const LABEL_INPUT = "input"

var (
	LinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vedirect_lines_total",
		Help: "The total number of protocol lines read",
	}, []string{LABEL_INPUT})
	LinesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vedirect_lines_skipped_total",
		Help: "The total number of lines that matched no schema field",
	}, []string{LABEL_INPUT})
	FieldsChanged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vedirect_fields_changed_total",
		Help: "The total number of field updates emitted",
	}, []string{LABEL_INPUT})
	PublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vedirect_mqtt_publish_errors_total",
		Help: "The total number of failed MQTT publications",
	})
	RedisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vedirect_redis_errors_total",
		Help: "The total number of failed Redis writes",
	})
	InputFields = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vedirect_input_fields",
		Help: "The number of entries in the current data table of an input",
	}, []string{LABEL_INPUT})
)
