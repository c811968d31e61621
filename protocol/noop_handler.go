package protocol

import "context"

// NoOpHandler implements MessageHandler with no-op methods.
// Embed this and override only the methods you need.
type NoOpHandler struct{}

func (NoOpHandler) HandleWaybillTransit(context.Context, *Envelope, *WaybillTransit) error {
	return nil
}
func (NoOpHandler) HandleOrderNeedsScheduling(context.Context, *Envelope, *WaybillTransit) error {
	return nil
}
func (NoOpHandler) HandleVehiclePlanAvailable(context.Context, *Envelope, *VehiclePlanAvailable) error {
	return nil
}
func (NoOpHandler) HandleTaskHopCompleted(context.Context, *Envelope, *TaskHopCompleted) error {
	return nil
}
func (NoOpHandler) HandleTaskCompleted(context.Context, *Envelope, *TaskCompleted) error {
	return nil
}
func (NoOpHandler) HandleOrderRejected(context.Context, *Envelope, *OrderRejected) error {
	return nil
}
func (NoOpHandler) HandleOrderConvert(context.Context, *Envelope, *OrderConvert) error {
	return nil
}

// Compile-time check that NoOpHandler implements MessageHandler.
var _ MessageHandler = NoOpHandler{}
