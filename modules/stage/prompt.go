package stage

import (
	"fmt"
	"strings"

	"kulai-character-server/modules/common/fallback"
	"kulai-character-server/modules/common/model"
)

const neutralBackgroundHex = "#808080"

// BuildDescribeFacePrompt - 얼굴 분석 프롬프트
// additionalCount: 추가 얼굴 이미지 수 (표정 범위 분석용)
func BuildDescribeFacePrompt(additionalCount int) string {
	expression := "Describe the expression shown in the image."
	if additionalCount > 0 {
		expression = fmt.Sprintf("You are given 1 primary face and %d additional face image(s) of the SAME person. Describe the range of expressions across ALL provided faces.", additionalCount)
	}

	return fmt.Sprintf(`Analyze the face in the PRIMARY image and write a precise description that can be used to redraw this exact person.

DESCRIBE:
1. FACE SHAPE: overall shape, jawline, cheekbones
2. EYES: shape, size, colour, eyelids, eyebrows
3. NOSE AND MOUTH: shape and proportions
4. SKIN: tone, texture, notable marks
5. HAIR: colour, length, style, parting
6. EXPRESSION: %s

STRICT RULES:
- Describe ONLY the face and hair
- Do NOT mention clothing, accessories below the neck, pose or background

OUTPUT: a single paragraph of plain text, no headings or lists.`, expression)
}

// BuildDescribeOutfitPrompt - 의상 분석 프롬프트
func BuildDescribeOutfitPrompt(color model.ColorPolicy) string {
	colorRule := "Keep and describe the ORIGINAL colours of every garment exactly."
	if !color.KeepOriginal {
		hex := fallback.HexColor(color.TargetHex, "#ffffff")
		colorRule = fmt.Sprintf("Describe the garments as if their main colour were %s. Keep materials, patterns and cut unchanged.", hex)
	}

	return fmt.Sprintf(`Analyze the outfit in this image and write a precise description that can be used to dress another character in it.

DESCRIBE:
1. GARMENTS: every visible piece, layering order, fit and cut
2. MATERIALS: fabric, texture, sheen
3. DETAILS: buttons, zippers, prints, logos, trims
4. FOOTWEAR AND ACCESSORIES if visible

COLOUR: %s

STRICT RULES:
- Describe ONLY the outfit
- Do NOT mention the wearer, their body, face, pose or the background

OUTPUT: a single paragraph of plain text, no headings or lists.`, colorRule)
}

// MasterInput - create-master-subject 입력
// FaceImages 가 있으면 FaceText 보다 우선
type MasterInput struct {
	FaceText   string
	FaceImages []model.Image
	OutfitText string
	Profile    model.CharacterProfile
	Art        model.ArtDirection
}

// BuildMasterSubjectPrompt - 중립 포즈/회색 배경의 기준 캐릭터 프롬프트
func BuildMasterSubjectPrompt(in MasterInput) string {
	title, rule := TierFor(in.Art.IDStrictness).masterDirective()
	var b strings.Builder

	fmt.Fprintf(&b, "Create a full-body reference image of a single %s character.\n\n", styleLabel(in.Art.Style))

	if len(in.FaceImages) > 0 {
		fmt.Fprintf(&b, "FACE IDENTITY (%s):\n", title)
		b.WriteString("- The FIRST image is the primary face reference.\n")
		if len(in.FaceImages) > 1 {
			fmt.Fprintf(&b, "- The next %d image(s) show the same person and define the range of expressions.\n", len(in.FaceImages)-1)
		}
		fmt.Fprintf(&b, "- %s\n", rule)
		b.WriteString("- If the text description below conflicts with the reference images, the IMAGES win.\n")
		if in.FaceText != "" {
			fmt.Fprintf(&b, "- Supplementary description: %s\n", in.FaceText)
		}
	} else {
		fmt.Fprintf(&b, "FACE (%s):\n- %s\n", title, in.FaceText)
	}

	fmt.Fprintf(&b, "\nOUTFIT:\n- %s\n", in.OutfitText)

	p := in.Profile
	fmt.Fprintf(&b, `
BODY:
- Gender: %s
- Age: %d
- Height: %s
- Weight: %s
- Build: %s
`, p.Gender, p.Age, p.Height, p.Weight, p.Build)

	fmt.Fprintf(&b, `
CRITICAL REQUIREMENTS:
- Standing straight, arms relaxed, facing the camera (neutral pose)
- Neutral expression
- Plain flat neutral grey background (%s), no props, no scenery
- Even studio lighting
- Exactly one person in frame, full body visible
`, neutralBackgroundHex)

	writeQuality(&b, in.Art)
	b.WriteString("\nOUTPUT: Generate ONLY the image, no text or explanations.")
	return b.String()
}

// BuildIsolatePrompt - 배경 제거 프롬프트
func BuildIsolatePrompt() string {
	return `Remove the background from this image completely.

CRITICAL REQUIREMENTS:
- Keep the character exactly as is: same face, hair, outfit, colours and proportions
- Replace everything else with a fully transparent background
- Do NOT add shadows, outlines, glow or any new elements
- Do NOT crop the character

OUTPUT: Generate ONLY the image, no text or explanations.`
}

// BuildCleanBackgroundPrompt - 배경에서 인물 제거 + 포즈 메타데이터 JSON
func BuildCleanBackgroundPrompt() string {
	return "Remove every person from this background image and fill the area naturally so the scene looks untouched.\n\n" +
		"Also describe where the removed person was, using ONLY this JSON format in a ```json code block:\n" +
		"```json\n" +
		`{"location": "where in the frame the person stood", "scale": "how much of the frame height they occupied", "angle": "camera angle and body orientation", "lighting": "direction and colour of light on the person"}` + "\n" +
		"```\n\n" +
		"If there was no person, describe where a person would naturally stand.\n\n" +
		"OUTPUT: the cleaned image AND the JSON block."
}

// CompositeInput - composite-scene 입력
type CompositeInput struct {
	Subject       model.Image
	Background    model.Image
	Art           model.ArtDirection
	Pose          *model.PoseMetadata
	FaceReference *model.Image
	Width         int
	Height        int
}

// BuildCompositePrompt - 격리된 캐릭터를 배경에 합성
func BuildCompositePrompt(in CompositeInput) string {
	core, face := TierFor(in.Art.IDStrictness).compositeDirective()
	var b strings.Builder

	b.WriteString(`Place the character from the FIRST image into the scene from the SECOND image.
`)
	if !in.FaceReference.IsZero() {
		b.WriteString("The THIRD image is the original face reference for identity.\n")
	}

	fmt.Fprintf(&b, "\n%s:\n- %s\n- Keep the outfit exactly as in the first image.\n", core, face)

	if in.Pose != nil {
		fmt.Fprintf(&b, `
PLACEMENT:
- Location: %s
- Scale: %s
- Angle: %s
`, in.Pose.Location, in.Pose.Scale, in.Pose.Angle)
		if p := strings.TrimSpace(in.Art.Pose); p != "" {
			fmt.Fprintf(&b, "- Pose: %s\n", p)
		}
	} else if p := strings.TrimSpace(in.Art.Pose); p != "" {
		fmt.Fprintf(&b, "\nPOSE: %s. Choose a natural location and scale for the scene.\n", p)
	}

	if e := strings.TrimSpace(in.Art.Expression); e != "" {
		fmt.Fprintf(&b, "\nEXPRESSION: %s\n", e)
	}

	b.WriteString("\nLIGHTING:\n")
	if in.Pose != nil && in.Pose.Lighting != "" && in.Pose.Lighting != model.UnknownLighting {
		fmt.Fprintf(&b, "- Match this lighting: %s\n", in.Pose.Lighting)
	}
	b.WriteString("- Match the scene's light direction, colour temperature and shadows on the character.\n")

	fmt.Fprintf(&b, `
OUTPUT SIZE (HARD REQUIREMENT):
- The output image MUST be exactly %dx%d pixels, the same as the background image.
`, in.Width, in.Height)

	writeQuality(&b, in.Art)
	b.WriteString("\nOUTPUT: Generate ONLY the image, no text or explanations.")
	return b.String()
}

// BuildVariantPrompt - 포즈만 변경
func BuildVariantPrompt(pose string) string {
	return fmt.Sprintf(`Redraw this image with the character in a NEW POSE: %s

CRITICAL REQUIREMENTS:
- Keep the SAME person: identical face, hair and body
- Keep the SAME outfit, colours and accessories
- Keep the SAME background, camera framing and lighting
- Keep the SAME art style and rendering quality
- ONLY the pose may change

OUTPUT: Generate ONLY the image, no text or explanations.`, pose)
}

func styleLabel(s model.ArtStyle) string {
	if !s.Valid() {
		return strings.ToLower(string(model.StylePhotographic))
	}
	return strings.ToLower(string(s))
}

func writeQuality(b *strings.Builder, art model.ArtDirection) {
	fmt.Fprintf(b, "\nSTYLE: %s\n", styleLabel(art.Style))
	switch art.Quality {
	case model.Quality4K:
		b.WriteString("QUALITY: ultra detailed, 4K resolution rendering\n")
	case model.Quality8K:
		b.WriteString("QUALITY: extremely detailed, 8K resolution rendering\n")
	}
	if extra := strings.TrimSpace(art.AdditionalPrompt); extra != "" {
		fmt.Fprintf(b, "ADDITIONAL: %s\n", extra)
	}
}
