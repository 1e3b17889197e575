package mfa

import (
	"context"

	"github.com/pehchan-id/pehchan/internal/observability/logger"
)

// Gate answers the gateway's question: does this subject need a valid
// step-up marker before reaching protected pages?
type Gate struct {
	svc Service
}

func NewGate(svc Service) *Gate {
	return &Gate{svc: svc}
}

// Require reports whether step-up applies to the subject. Citizens
// without a confirmed enrollment pass through; a store failure is
// surfaced so the gateway can fail closed.
func (g *Gate) Require(ctx context.Context, subject string) (bool, error) {
	enabled, err := g.svc.Enabled(ctx, subject)
	if err != nil {
		logger.From(ctx).Warn("step-up lookup failed",
			logger.Layer("middleware"),
			logger.Component("mfa.gate"),
			logger.Err(err))
		return false, err
	}
	return enabled, nil
}
