package voiceflow

import (
	"context"
	"fmt"

	"github.com/biosentry/biosentry/internal/intent"
	"github.com/biosentry/biosentry/internal/model"
)

// RecognizeOutcome is the terminal result of [Runner.RunRecognize].
type RecognizeOutcome struct {
	// Status is "recognized", "not_recognized", or "declined" (the user
	// refused the recognition attempt, or chose not to register after a
	// miss).
	Status string
	User   *model.UserRecord
}

// RunRecognize implements the Recognize flow: wake-word → consent →
// capture image → recognize_face; on a miss, offers registration and
// reports whether the user wants to proceed (the caller chains into
// RunRegister if so).
func (r *Runner) RunRecognize(ctx context.Context) (RecognizeOutcome, error) {
	if err := r.WaitForWakeWord(ctx); err != nil {
		return RecognizeOutcome{}, err
	}
	defer r.beginSession(ctx)()

	consent, err := r.ask(ctx, "I heard you. Should I try to recognize you now?", false)
	if err != nil {
		return RecognizeOutcome{}, err
	}
	if consent != intent.Affirmative {
		if err := r.say(ctx, "Okay, never mind."); err != nil {
			return RecognizeOutcome{}, err
		}
		return RecognizeOutcome{Status: "declined"}, nil
	}

	img, err := r.captureImage(ctx, "Please look at the camera.")
	if err != nil {
		return RecognizeOutcome{}, err
	}

	result, err := r.tools.RecognizeFace(ctx, img, 0)
	if err != nil {
		if sayErr := r.say(ctx, "Something went wrong while trying to recognize you."); sayErr != nil {
			return RecognizeOutcome{}, sayErr
		}
		return RecognizeOutcome{}, fmt.Errorf("voiceflow: recognize: %w", err)
	}

	switch result.Status {
	case "recognized":
		name := ""
		if result.User != nil {
			name = result.User.Name
		}
		if err := r.say(ctx, "Welcome back, "+name+"."); err != nil {
			return RecognizeOutcome{}, err
		}
		return RecognizeOutcome{Status: "recognized", User: result.User}, nil
	default:
		offer, err := r.ask(ctx, "I don't recognize you yet. Would you like to register?", false)
		if err != nil {
			return RecognizeOutcome{}, err
		}
		if offer == intent.Affirmative {
			return RecognizeOutcome{Status: "not_recognized"}, nil
		}
		if err := r.say(ctx, "Okay, maybe next time."); err != nil {
			return RecognizeOutcome{}, err
		}
		return RecognizeOutcome{Status: "declined"}, nil
	}
}
