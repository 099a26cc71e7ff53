package appointment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Resolver looks for a peer practitioner to take over an appointment the
// assigned practitioner cancelled. First fit, in directory order.
type Resolver struct {
	reserver
}

func NewResolver(c *Coordinator) *Resolver {
	return &Resolver{reserver: c.reserver}
}

// Resolve reassigns appt to the first peer that is available and free at
// the original instant, persisting the change. It returns nil, nil when no
// peer qualifies; the caller then cancels normally.
func (r *Resolver) Resolve(ctx context.Context, appt *Appointment, in TransitionInput) (*Practitioner, []Effect, error) {
	peers, err := r.repo.FindPractitioners(ctx, appt.DepartmentID, appt.HospitalID)
	if err != nil {
		return nil, nil, fmt.Errorf("find peers: %w", err)
	}

	log := zerolog.Ctx(ctx)
	for _, p := range peers {
		if !p.Active || p.ID == appt.PractitionerID {
			continue
		}

		effects, err := r.reassign(ctx, p, appt, in)
		if err == nil {
			log.Info().
				Str("appointment_id", appt.ID).
				Str("from_practitioner", appt.ReassignedFrom).
				Str("to_practitioner", p.ID).
				Msg("appointment reassigned")
			return &p, effects, nil
		}
		if fallbackable(err) {
			log.Debug().Err(err).Str("practitioner_id", p.ID).Msg("peer rejected")
			continue
		}
		return nil, nil, err
	}

	return nil, nil, nil
}
