package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatisticalExtract_FindsNamedEntities(t *testing.T) {
	s := NewStatistical()
	res, err := s.Extract(context.Background(), "Barack Obama was born in Hawaii and worked with Google.")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Entities)
}

func TestStatisticalHealthCheck_HealthyByDefault(t *testing.T) {
	s := NewStatistical()
	h := s.HealthCheck(context.Background())
	assert.Equal(t, "healthy", h.Status)
}

func TestNew_SelectsVariant(t *testing.T) {
	assert.IsType(t, &Statistical{}, New("statistical"))
	assert.IsType(t, &Regex{}, New("regex"))
	assert.IsType(t, &Regex{}, New(""))
}
