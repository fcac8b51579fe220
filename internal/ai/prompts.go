package ai

import (
	"fmt"
	"strings"
)

var planOutlines = map[int]string{
	1:  "a single landing page",
	5:  "Home, About, Services, Gallery or Case Studies, Contact",
	10: "Home, About, Services, four individual service pages, Case Studies or Gallery, FAQs, Contact",
}

func specPrompt(answers []byte, planPages int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You plan websites for UK small businesses.

Produce one JSON object, the Website Build Spec, for a %d-page site (%s).
Write in en-GB with British spelling. Keep copy short and conversion-focused and do not make claims the customer did not supply.

Rules:
- Respond with JSON only, no markdown and no commentary.
- Section types must be one of: %s.
- Produce exactly %d pages, each with seo.title (60 characters at most) and seo.meta_description (155 characters at most).
- Include navigation.header_links and navigation.footer_links built from the pages.
- If brand colours are missing leave the hex fields empty and choose branding.design_vibe from the tone and industry.

Top-level keys: spec_version ("%s"), tenant, branding, contact, service_area, navigation, pages, global_blocks, assets, change_policy_hints.
Each page has id, title, slug, purpose, seo and sections; each section has type and props.

Onboarding answers:
%s
`, planPages, planOutlines[planPages], strings.Join(AllowedBlockTypes, ", "), planPages, SpecVersion, answers)
	return b.String()
}

func seedPrompt(spec []byte, planPages int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a UK copywriter turning a Website Build Spec into importable CMS content.

Respond with JSON only, no markdown and no commentary. Use British English and the tone of voice in the spec.
Write real copy for every block: no placeholders and no lorem ipsum.

Output shape:
{
  "settings": {"siteName": "", "tagline": "", "phone": "", "email": "", "address": "", "theme": {"primary": "", "secondary": ""}},
  "navigation": {"header": [{"label": "", "href": ""}], "footer": [{"label": "", "href": ""}]},
  "pages": [{"title": "", "slug": "", "metaTitle": "", "metaDescription": "", "blocks": [{"type": "hero", "variant": "", "content": {}}]}]
}

Rules:
- Exactly %d pages. metaTitle is 60 characters at most and metaDescription 155 at most.
- Every block type is the type of the spec section it came from and content is an object.
- Links to the contact page use "/contact" when that page exists and "#contact" otherwise.

Build Spec:
%s
`, planPages, spec)
	return b.String()
}

func withFeedback(prompt, lastErr string) string {
	if lastErr == "" {
		return prompt
	}
	return prompt + "\nYour previous response was rejected: " + lastErr + "\nFix these problems and respond with JSON only.\n"
}
