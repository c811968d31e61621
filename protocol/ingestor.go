package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

var (
	// ErrMalformed marks a message that will never decode. The transport
	// acknowledges it instead of redelivering.
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler defines callbacks for the inbound message types.
// Embed NoOpHandler and override only the methods you need. A returned
// error asks the transport to redeliver.
type MessageHandler interface {
	HandleWaybillTransit(ctx context.Context, env *Envelope, p *WaybillTransit) error
	HandleOrderNeedsScheduling(ctx context.Context, env *Envelope, p *WaybillTransit) error
	HandleVehiclePlanAvailable(ctx context.Context, env *Envelope, p *VehiclePlanAvailable) error
	HandleTaskHopCompleted(ctx context.Context, env *Envelope, p *TaskHopCompleted) error
	HandleTaskCompleted(ctx context.Context, env *Envelope, p *TaskCompleted) error
	HandleOrderRejected(ctx context.Context, env *Envelope, p *OrderRejected) error
	HandleOrderConvert(ctx context.Context, env *Envelope, p *OrderConvert) error
}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
}

// NewIngestor creates an ingestor with the given handler and filter.
func NewIngestor(handler MessageHandler, filter FilterFunc) *Ingestor {
	return &Ingestor{
		handler: handler,
		filter:  filter,
	}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
// Expired and filtered messages return nil.
func (ing *Ingestor) HandleRaw(ctx context.Context, data []byte) error {
	// Phase 1: decode routing header only
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}

	if IsExpiredHeader(&hdr) {
		log.Printf("protocol: dropping expired message %s (type=%s)", hdr.ID, hdr.Type)
		return nil
	}

	if ing.filter != nil && !ing.filter(&hdr) {
		return nil
	}

	// Phase 2: full envelope decode
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeWaybillTransit:
		return decodeAndCall(ctx, ing.handler.HandleWaybillTransit, &env)
	case TypeOrderNeedsScheduling:
		return decodeAndCall(ctx, ing.handler.HandleOrderNeedsScheduling, &env)
	case TypeVehiclePlanAvailable:
		return decodeAndCall(ctx, ing.handler.HandleVehiclePlanAvailable, &env)
	case TypeTaskHopCompleted:
		return decodeAndCall(ctx, ing.handler.HandleTaskHopCompleted, &env)
	case TypeTaskCompleted:
		return decodeAndCall(ctx, ing.handler.HandleTaskCompleted, &env)
	case TypeOrderRejected:
		return decodeAndCall(ctx, ing.handler.HandleOrderRejected, &env)
	case TypeOrderConvert:
		return decodeAndCall(ctx, ing.handler.HandleOrderConvert, &env)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
}

// decodeAndCall unmarshals the payload and calls the handler method.
func decodeAndCall[T any](ctx context.Context, fn func(context.Context, *Envelope, *T) error, env *Envelope) error {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return fn(ctx, env, &p)
}

// Permanent reports whether redelivering the message cannot help.
func Permanent(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownType)
}
