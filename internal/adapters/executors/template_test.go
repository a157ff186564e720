package executors

import (
	"testing"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRender(t *testing.T) {
	item := domain.Item{
		"nome":   "Clínica Sorriso",
		"amount": float64(4990),
		"data":   map[string]any{"object": map[string]any{"customer": "cus_123"}},
	}
	env := map[string]string{"SUPABASE_URL": "https://db.example.com"}

	tests := []struct {
		raw  string
		want string
	}{
		{"plain text", "plain text"},
		{"{{ env.SUPABASE_URL }}/rest/v1/clinicas", "https://db.example.com/rest/v1/clinicas"},
		{"Hello {{nome}}!", "Hello Clínica Sorriso!"},
		{"{{ data.object.customer }}:{{ amount }}", "cus_123:4990"},
		{"{{ data.object }}", `{"customer":"cus_123"}`},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			tmpl, err := ParseTemplate(tt.raw)
			require.NoError(t, err)
			got, err := tmpl.Render(item, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateValueKeepsType(t *testing.T) {
	tmpl, err := ParseTemplate("{{ amount }}")
	require.NoError(t, err)

	value, err := tmpl.Value(domain.Item{"amount": float64(12)}, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(12), value)
}

func TestParseTemplateRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"{{ open", "close }}", "{{}}", "{{ two words }}"} {
		_, err := ParseTemplate(raw)
		require.Error(t, err, raw)
		var vErr *domain.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, domain.RuleTemplate, vErr.Rule)
	}
}

func TestTemplateMissingValues(t *testing.T) {
	tmpl, err := ParseTemplate("{{ email }}")
	require.NoError(t, err)
	_, err = tmpl.Render(domain.Item{}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
	assert.Contains(t, err.Error(), "email")

	tmpl, err = ParseTemplate("{{ env.MISSING }}")
	require.NoError(t, err)
	_, err = tmpl.Render(domain.Item{}, map[string]string{})
	assert.True(t, domain.IsValidationError(err))
}

func TestTemplateFields(t *testing.T) {
	tmpl, err := ParseTemplate("{{ env.HOST }}/{{ clinic_id }}/{{ plan.name }}")
	require.NoError(t, err)
	assert.Equal(t, []string{"clinic_id", "plan.name"}, tmpl.Fields())
}
