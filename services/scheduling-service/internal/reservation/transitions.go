package reservation

import "github.com/bookline/bookline/services/scheduling-service/internal/model"

// transitions lists the status setters exposed to payment and admin flows. Holds leave the
// active set through the sweeper (expired) or cancellation; nothing returns to held.
var transitions = map[model.Status][]model.Status{
	model.StatusHeld:      {model.StatusPending, model.StatusCancelled},
	model.StatusPending:   {model.StatusScheduled, model.StatusCancelled},
	model.StatusScheduled: {model.StatusCompleted, model.StatusCancelled, model.StatusNoShow},
	model.StatusCompleted: {model.StatusRefunded},
	model.StatusCancelled: {model.StatusRefunded},
	model.StatusNoShow:    {model.StatusRefunded},
}

// CanTransition reports whether a booking in from may be set to to.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
