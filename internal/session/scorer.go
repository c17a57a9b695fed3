package session

import (
	"tagfinder/internal/config"
	"tagfinder/internal/model"
)

// scoreAdvertisement fuses payload and cadence evidence into a 0-100
// tracker-likelihood score and a classification. The rule table is additive
// and deterministic; every weight and threshold comes from config so the
// policy can be tuned against reference advertisements without code changes.
//
// Precedence matters: an unregistered AirTag above its own threshold is
// classified unregistered_airtag even when the score would also clear the
// generic likely bucket.
func scoreAdvertisement(w config.ScoreWeights, payload model.DecodedPayload, cadence model.CadenceStats) (int, model.Classification) {
	score := 0
	switch payload.Kind {
	case model.KindAirTagRegistered:
		score = w.RegisteredBase
		if cadence.MatchesExpected {
			score += w.RegisteredCadence
		}
		if payload.HasStatus {
			score += w.StatusBonus
		}
		if cadence.RotationObserved {
			// Live key rotation is hard to spoof with static replayed data.
			score += w.RotationBonus
		}
	case model.KindAirTagUnregistered:
		score = w.UnregisteredBase
		if cadence.MatchesExpected {
			score += w.UnregisteredCad
		}
	case model.KindFindMyGeneric:
		score = w.GenericBase
		if cadence.MatchesExpected {
			score += w.GenericCadence
		}
	default:
		// KindUnknown and KindOtherBLE carry no tracker evidence.
		return 0, model.ClassNotTracker
	}

	score = clampScore(score)

	if payload.Kind == model.KindAirTagUnregistered && score >= w.UnregThreshold {
		return score, model.ClassUnregisteredAirTag
	}
	if payload.Kind == model.KindAirTagRegistered && score >= w.ConfirmedThreshold {
		return score, model.ClassConfirmedAirTag
	}
	if score >= w.LikelyThreshold {
		return score, model.ClassLikelyFindMy
	}
	return score, model.ClassNotTracker
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
