package stage

// Tier - identity strictness 구간
//
//	> 85  exact copy
//	> 60  close match
//	> 30  key features preserved
//	else  inspiration only
type Tier int

const (
	TierInspiration Tier = iota
	TierKeyFeatures
	TierCloseMatch
	TierExactCopy
)

func TierFor(strictness int) Tier {
	switch {
	case strictness > 85:
		return TierExactCopy
	case strictness > 60:
		return TierCloseMatch
	case strictness > 30:
		return TierKeyFeatures
	default:
		return TierInspiration
	}
}

func (t Tier) String() string {
	switch t {
	case TierExactCopy:
		return "exact-copy"
	case TierCloseMatch:
		return "close-match"
	case TierKeyFeatures:
		return "key-features"
	default:
		return "inspiration"
	}
}

// masterDirective - create-master-subject 용 제목/규칙
func (t Tier) masterDirective() (title, rule string) {
	switch t {
	case TierExactCopy:
		return "ABSOLUTE EXACT COPY",
			"The face you create MUST be a 100% exact copy of the person in the reference. Eyes, nose, mouth, jaw structure and hair must all match."
	case TierCloseMatch:
		return "CLOSE MATCH",
			"The face must look VERY similar to the reference and keep every key identifying feature."
	case TierKeyFeatures:
		return "KEEP KEY FEATURES",
			"Keep the main facial features. Small changes to suit the art style are allowed."
	default:
		return "INSPIRATION",
			"Use the reference face as inspiration. Artistic interpretation is allowed."
	}
}

// compositeDirective - composite-scene 용 핵심 요구/얼굴 규칙
func (t Tier) compositeDirective() (core, face string) {
	switch t {
	case TierExactCopy:
		return "ABSOLUTE IDENTITY PRESERVATION (STRICTEST REQUIREMENT)",
			"The face MUST remain a 100% exact copy with no deviation at all."
	case TierCloseMatch:
		return "Identity preservation (STRICT)",
			"The face must stay VERY close to the reference. Keep creative changes to a minimum."
	case TierKeyFeatures:
		return "Identity preservation",
			"Keep the key facial features. Slight changes of expression are allowed."
	default:
		return "Identity as inspiration",
			"Use the reference face as inspiration. Artistic interpretation is allowed."
	}
}
