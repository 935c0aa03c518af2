package voiceflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/biosentry/biosentry/internal/intent"
	"github.com/biosentry/biosentry/internal/model"
)

// UpdateOutcome is the terminal result of [Runner.RunUpdate].
type UpdateOutcome struct {
	// Status is "ok", "not_recognized" (identity proof failed),
	// "cancelled", or "aborted".
	Status string
	User   model.UserRecord
}

// RunUpdate implements the Update flow: identity proof via recognition →
// confirm identity → choose field(s) → for each field, capture and
// confirm a new value → update_user.
func (r *Runner) RunUpdate(ctx context.Context) (UpdateOutcome, error) {
	if err := r.WaitForWakeWord(ctx); err != nil {
		return UpdateOutcome{}, err
	}
	defer r.beginSession(ctx)()

	img, err := r.captureImage(ctx, "Let's update your profile. Please look at the camera so I can find you.")
	if err != nil {
		return UpdateOutcome{}, err
	}
	recognized, err := r.tools.RecognizeFace(ctx, img, 0)
	if err != nil {
		return UpdateOutcome{}, fmt.Errorf("voiceflow: update: recognize: %w", err)
	}
	if recognized.Status != "recognized" || recognized.User == nil {
		if err := r.say(ctx, "I couldn't find a matching profile to update."); err != nil {
			return UpdateOutcome{}, err
		}
		return UpdateOutcome{Status: "not_recognized"}, nil
	}
	user := *recognized.User

	confirm, err := r.ask(ctx, fmt.Sprintf("I found your profile, %s. Is that right?", user.Name), false)
	if err != nil {
		return UpdateOutcome{}, err
	}
	if confirm != intent.Affirmative {
		if err := r.say(ctx, "Okay, I'll leave your profile as is."); err != nil {
			return UpdateOutcome{}, err
		}
		return UpdateOutcome{Status: "cancelled"}, nil
	}

	choice, err := r.captureFieldChoice(ctx)
	if err != nil {
		if errors.Is(err, ErrNoUtterance) {
			if sayErr := r.say(ctx, "I couldn't tell what you'd like to change. Let's try again later."); sayErr != nil {
				return UpdateOutcome{}, sayErr
			}
			return UpdateOutcome{Status: "aborted"}, nil
		}
		return UpdateOutcome{}, err
	}

	var newName *string
	var newMetadata map[string]string

	if choice == fieldName || choice == fieldBoth {
		name, ok, err := r.captureConfirmedValue(ctx, "What should your new name be?")
		if err != nil {
			return UpdateOutcome{}, err
		}
		if ok {
			newName = &name
		}
	}
	if choice == fieldMetadata || choice == fieldBoth {
		value, ok, err := r.captureConfirmedValue(ctx, "What new information would you like me to store?")
		if err != nil {
			return UpdateOutcome{}, err
		}
		if ok {
			newMetadata = map[string]string{"notes": value}
		}
	}

	if newName == nil && newMetadata == nil {
		if err := r.say(ctx, "Okay, I haven't changed anything."); err != nil {
			return UpdateOutcome{}, err
		}
		return UpdateOutcome{Status: "cancelled", User: user}, nil
	}

	result, err := r.tools.UpdateUser(ctx, user.UserID, newName, newMetadata)
	if err != nil {
		if sayErr := r.say(ctx, "Something went wrong while updating your profile."); sayErr != nil {
			return UpdateOutcome{}, sayErr
		}
		return UpdateOutcome{}, fmt.Errorf("voiceflow: update: %w", err)
	}

	if err := r.say(ctx, "Your profile has been updated."); err != nil {
		return UpdateOutcome{}, err
	}
	return UpdateOutcome{Status: result.Status, User: result.User}, nil
}

// captureFieldChoice asks which field(s) to change, reprompting once on
// an unclear reply before giving up.
func (r *Runner) captureFieldChoice(ctx context.Context) (fieldChoice, error) {
	reply, err := r.listen(ctx, "Would you like to change your name, your metadata, or both?")
	if err != nil {
		return fieldUnclear, err
	}
	if choice := classifyField(reply); choice != fieldUnclear {
		return choice, nil
	}

	reply, err = r.listen(ctx, "Sorry, I didn't understand. Please say name, metadata, or both.")
	if err != nil {
		return fieldUnclear, err
	}
	choice := classifyField(reply)
	if choice == fieldUnclear {
		return fieldUnclear, ErrNoUtterance
	}
	return choice, nil
}

// captureConfirmedValue listens for a free-form value and has the user
// confirm it before accepting. ok is false if the user declines or no
// usable value was ever captured, neither of which is an error.
func (r *Runner) captureConfirmedValue(ctx context.Context, prompt string) (string, bool, error) {
	value, err := r.listen(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrNoUtterance) {
			return "", false, nil
		}
		return "", false, err
	}

	confirm, err := r.ask(ctx, fmt.Sprintf("I heard %q. Should I save that?", value), false)
	if err != nil {
		return "", false, err
	}
	return value, confirm == intent.Affirmative, nil
}
