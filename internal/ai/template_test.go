package ai

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mdollan-source/payg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }

const answersJSON = `{
	"step0": {"industry": "plumbing"},
	"step1": {
		"businessName": "Acme Plumbing",
		"services": [{"name": "Boiler Repair"}, {"name": "Bathroom Fitting"}, {"name": "Leak Detection"}, {"name": "Boiler Repair!"}],
		"primaryLocation": "Leeds",
		"phone": "0113 000 0000",
		"email": "hello@acme.test",
		"ctaPreference": "call_now"
	},
	"step2": {"primaryColourHex": "#003366", "tagline": "No drips"}
}`

func TestTemplateGenerator_AllPlansValidate(t *testing.T) {
	g := NewTemplateGenerator(fixedNow)
	for _, plan := range []int{1, 5, 10} {
		tenant := &types.Tenant{ID: "t1", BusinessName: "Acme", PlanPages: plan}

		spec, err := g.GenerateSpec(context.Background(), tenant, json.RawMessage(answersJSON))
		require.NoError(t, err, "plan %d", plan)
		assert.Equal(t, TemplateGeneratorName, spec.Generator)
		parsed, err := ValidateSpec(spec.Output, plan)
		require.NoError(t, err)
		assert.Len(t, parsed.Pages, plan)

		seed, err := g.GenerateSeed(context.Background(), tenant, spec.Output)
		require.NoError(t, err, "plan %d", plan)
		site, err := ValidateSeed(seed.Output, plan)
		require.NoError(t, err)
		assert.Equal(t, "Acme Plumbing", site.Settings.SiteName)
		assert.Equal(t, "/", site.Pages[0].Slug)
	}
}

func TestTemplateGenerator_SpecContent(t *testing.T) {
	g := NewTemplateGenerator(fixedNow)
	res, err := g.GenerateSpec(context.Background(), &types.Tenant{PlanPages: 10}, json.RawMessage(answersJSON))
	require.NoError(t, err)

	var spec BuildSpec
	require.NoError(t, sonic.Unmarshal(res.Output, &spec))
	assert.Equal(t, "Call Now", spec.Contact.CTAPrimary)
	assert.Equal(t, "© 2025 Acme Plumbing", spec.Footer.Footer.CopyrightText)

	var slugs []string
	for _, p := range spec.Pages {
		slugs = append(slugs, p.Slug)
	}
	assert.Contains(t, slugs, "/services/boiler-repair")
	assert.Contains(t, slugs, "/services/bathroom-fitting")
	assert.Len(t, slugs, 10)

	for _, link := range spec.Navigation.HeaderLinks {
		assert.False(t, strings.HasPrefix(link.Href, "/services/"), "service pages stay out of the header: %s", link.Href)
	}
	assert.Len(t, spec.Navigation.FooterLinks, 10)
}

func TestTemplateGenerator_PlanFallsBackToAnswers(t *testing.T) {
	g := NewTemplateGenerator(fixedNow)
	answers := `{"step0":{"planPages":1},"step1":{"businessName":"Solo","email":"a@b.test"}}`
	res, err := g.GenerateSpec(context.Background(), &types.Tenant{}, json.RawMessage(answers))
	require.NoError(t, err)
	_, err = ValidateSpec(res.Output, 1)
	assert.NoError(t, err)
}

func TestTemplateGenerator_BadInput(t *testing.T) {
	g := NewTemplateGenerator(fixedNow)
	_, err := g.GenerateSpec(context.Background(), &types.Tenant{}, json.RawMessage(`{"step1":`))
	assert.Error(t, err)

	_, err = g.GenerateSeed(context.Background(), &types.Tenant{}, json.RawMessage(`nope`))
	assert.Error(t, err)
}

func TestTemplateGenerator_SeedCarriesServices(t *testing.T) {
	g := NewTemplateGenerator(fixedNow)
	tenant := &types.Tenant{PlanPages: 5}
	spec, err := g.GenerateSpec(context.Background(), tenant, json.RawMessage(answersJSON))
	require.NoError(t, err)
	seed, err := g.GenerateSeed(context.Background(), tenant, spec.Output)
	require.NoError(t, err)

	var site types.SiteSeed
	require.NoError(t, sonic.Unmarshal(seed.Output, &site))
	assert.JSONEq(t, `{"primary":"#003366","secondary":""}`, string(site.Settings.Theme))

	found := false
	for _, b := range site.Pages[0].Blocks {
		if b.Type == "services_grid" {
			found = true
			assert.Contains(t, string(b.Content), "Boiler Repair")
		}
	}
	assert.True(t, found)
}
