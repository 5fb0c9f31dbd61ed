package services

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/slotworks/booking-engine/internal/services")

// recordErr marks span failed with err
func recordErr(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func uuidAttr(key string, v interface{ String() string }) attribute.KeyValue {
	return attribute.String(key, v.String())
}
