package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stratuspay/cascade/internal/model"
)

// defaultProcessors are the backends seeded on first start: one per adapter
// type, priorities 1-4. Success rates and response times are declared
// baselines, not measurements.
func defaultProcessors() []model.Processor {
	now := time.Now().UTC()
	mk := func(name, typ string, priority int, successRate float64, responseTime int) model.Processor {
		return model.Processor{
			ID:           uuid.NewString(),
			Name:         name,
			Type:         typ,
			Priority:     priority,
			Enabled:      true,
			SuccessRate:  successRate,
			ResponseTime: responseTime,
			CreatedAt:    now,
		}
	}
	return []model.Processor{
		mk("Stripe Primary", "stripe", 1, 95, 120),
		mk("PayPal Backup", "paypal", 2, 92, 180),
		mk("Square Fallback", "square", 3, 90, 150),
		mk("Adyen Reserve", "adyen", 4, 93, 200),
	}
}

// Seed populates the processor table when it is empty. Safe to call on
// every start.
func Seed(ctx context.Context, st Store) ([]model.Processor, error) {
	existing, err := st.GetAllProcessors(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}
	seeded := defaultProcessors()
	for _, p := range seeded {
		if err := st.CreateProcessor(ctx, p); err != nil {
			return nil, err
		}
	}
	return st.GetAllProcessors(ctx)
}
