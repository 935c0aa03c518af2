package voiceflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/biosentry/biosentry/internal/identity"
	"github.com/biosentry/biosentry/internal/intent"
	"github.com/biosentry/biosentry/internal/model"
)

// RegisterOutcome is the terminal result of [Runner.RunRegister].
type RegisterOutcome struct {
	// Status is "registered", "queued", "already_exists", "cancelled",
	// or "aborted" (no usable name was captured).
	Status string
	User   model.UserRecord
}

// RunRegister implements the Register flow: wake-word → prompt for name
// → free-form capture → name validation → LLM confirmation → camera
// capture → register_user.
func (r *Runner) RunRegister(ctx context.Context) (RegisterOutcome, error) {
	if err := r.WaitForWakeWord(ctx); err != nil {
		return RegisterOutcome{}, err
	}
	defer r.beginSession(ctx)()

	name, err := r.captureValidName(ctx)
	if err != nil {
		if errors.Is(err, ErrNoUtterance) {
			if sayErr := r.say(ctx, "I didn't catch a name. Let's try again later."); sayErr != nil {
				return RegisterOutcome{}, sayErr
			}
			return RegisterOutcome{Status: "aborted"}, nil
		}
		return RegisterOutcome{}, err
	}

	confirm, err := r.ask(ctx, fmt.Sprintf("I heard %q. Is that correct?", name), false)
	if err != nil {
		return RegisterOutcome{}, err
	}
	if confirm != intent.Affirmative {
		if err := r.say(ctx, "Okay, let's start over another time."); err != nil {
			return RegisterOutcome{}, err
		}
		return RegisterOutcome{Status: "cancelled"}, nil
	}

	img, err := r.captureImage(ctx, "Great. Please look at the camera to finish registering.")
	if err != nil {
		return RegisterOutcome{}, err
	}

	result, err := r.tools.RegisterUser(ctx, name, img, nil)
	if err != nil {
		if sayErr := r.say(ctx, "Something went wrong while registering you."); sayErr != nil {
			return RegisterOutcome{}, sayErr
		}
		return RegisterOutcome{}, fmt.Errorf("voiceflow: register: %w", err)
	}

	switch result.Status {
	case "queued":
		if err := r.say(ctx, "The recognition system is temporarily busy, so I've queued your registration; it will finish shortly."); err != nil {
			return RegisterOutcome{}, err
		}
	case "already_exists":
		if err := r.say(ctx, "It looks like you're already registered."); err != nil {
			return RegisterOutcome{}, err
		}
	default:
		if err := r.say(ctx, "You're all set, "+result.User.Name+"."); err != nil {
			return RegisterOutcome{}, err
		}
	}

	return RegisterOutcome{Status: result.Status, User: result.User}, nil
}

// captureValidName listens for a spoken name, reprompting once if the
// first attempt fails [identity.ValidateName]'s charset/length rule.
func (r *Runner) captureValidName(ctx context.Context) (string, error) {
	name, err := r.listen(ctx, "What name should I register you under?")
	if err != nil {
		return "", err
	}
	if err := identity.ValidateName(name); err == nil {
		return name, nil
	}

	name, err = r.listen(ctx, "That name isn't quite valid. Please say your name again, using only letters, spaces, apostrophes, periods, and hyphens.")
	if err != nil {
		return "", err
	}
	if err := identity.ValidateName(name); err != nil {
		return "", fmt.Errorf("voiceflow: %w: %w", ErrNoUtterance, err)
	}
	return name, nil
}
