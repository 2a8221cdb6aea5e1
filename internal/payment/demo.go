package payment

import (
	"context"

	"github.com/google/uuid"
)

// DemoGateway approves every request. Used when no provider is configured.
type DemoGateway struct{}

func NewDemoGateway() *DemoGateway {
	return &DemoGateway{}
}

func (g *DemoGateway) RequestPayment(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ref := req.IdempotencyKey
	if ref == "" {
		ref = uuid.NewString()
	}
	return Result{Succeeded: true, Reference: "demo-" + ref}, nil
}
