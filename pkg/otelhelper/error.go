package otelhelper

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks span as failed. Errors the caller retries later, listed in
// retryable, are recorded as events only and keep the span status unset.
func SetError(span trace.Span, err error, retryable ...error) {
	for _, target := range retryable {
		if errors.Is(err, target) {
			span.AddEvent("retryable_error", trace.WithAttributes(
				attribute.String("error", err.Error()),
			))

			return
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
