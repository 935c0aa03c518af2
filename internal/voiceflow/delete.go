package voiceflow

import (
	"context"
	"fmt"

	"github.com/biosentry/biosentry/internal/intent"
)

// DeleteOutcome is the terminal result of [Runner.RunDelete].
type DeleteOutcome struct {
	// Status is "ok", "not_recognized", or "cancelled".
	Status string
}

// RunDelete implements the Delete flow: identity proof via recognition →
// confirm identity (Unclear→cancel) → explain consequences → final
// confirmation (Unclear→cancel) → delete_user → goodbye. Both
// confirmations are destructive: an Unclear reply is treated as a
// cancellation, never as permission to proceed.
func (r *Runner) RunDelete(ctx context.Context) (DeleteOutcome, error) {
	if err := r.WaitForWakeWord(ctx); err != nil {
		return DeleteOutcome{}, err
	}
	defer r.beginSession(ctx)()

	img, err := r.captureImage(ctx, "Please look at the camera so I can find your profile.")
	if err != nil {
		return DeleteOutcome{}, err
	}
	recognized, err := r.tools.RecognizeFace(ctx, img, 0)
	if err != nil {
		return DeleteOutcome{}, fmt.Errorf("voiceflow: delete: recognize: %w", err)
	}
	if recognized.Status != "recognized" || recognized.User == nil {
		if err := r.say(ctx, "I couldn't find a matching profile to delete."); err != nil {
			return DeleteOutcome{}, err
		}
		return DeleteOutcome{Status: "not_recognized"}, nil
	}
	user := *recognized.User

	confirmIdentity, err := r.ask(ctx, fmt.Sprintf("I found your profile, %s. Is that you?", user.Name), true)
	if err != nil {
		return DeleteOutcome{}, err
	}
	if confirmIdentity != intent.Affirmative {
		if err := r.say(ctx, "Okay, I won't delete anything."); err != nil {
			return DeleteOutcome{}, err
		}
		return DeleteOutcome{Status: "cancelled"}, nil
	}

	finalConfirm, err := r.ask(ctx, "Deleting your profile removes your registered face and all stored information permanently, and cannot be undone. Are you sure you want to delete it?", true)
	if err != nil {
		return DeleteOutcome{}, err
	}
	if finalConfirm != intent.Affirmative {
		if err := r.say(ctx, "Okay, I won't delete anything."); err != nil {
			return DeleteOutcome{}, err
		}
		return DeleteOutcome{Status: "cancelled"}, nil
	}

	if err := r.tools.DeleteUser(ctx, user.UserID); err != nil {
		if sayErr := r.say(ctx, "Something went wrong while deleting your profile."); sayErr != nil {
			return DeleteOutcome{}, sayErr
		}
		return DeleteOutcome{}, fmt.Errorf("voiceflow: delete: %w", err)
	}

	if err := r.say(ctx, "Your profile has been deleted. Goodbye."); err != nil {
		return DeleteOutcome{}, err
	}
	return DeleteOutcome{Status: "ok"}, nil
}
