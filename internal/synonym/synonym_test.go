package synonym

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls    int
	response string
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Complete(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.response, nil
}

func TestExpandIsMemoizedByLowercaseTrimmedTerm(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{response: "papelaria, material escolar, expediente"}
	svc := New(provider)

	first, err := svc.Expand(context.Background(), "Papel")
	require.NoError(t, err)
	second, err := svc.Expand(context.Background(), "  papel  ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.calls)
}

func TestExpandCapsAtFiveTerms(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{response: "a, b, c, d, e, f, g"}
	svc := New(provider)

	terms, err := svc.Expand(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, terms, maxSynonyms)
}

func TestBuildDisjunctionDedupesCaseInsensitively(t *testing.T) {
	t.Parallel()
	got := BuildDisjunction("Papel", []string{"papel", "Papelaria"})
	assert.Equal(t, `"Papel" OR "Papelaria"`, got)
}
