package zone

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockergrid/core/internal/config"
)

func twoZoneDoc() config.Document {
	return config.Document{
		Features: config.Features{ZonesEnabled: true},
		Hardware: config.Hardware{RelayCards: []config.RelayCard{
			{SlaveAddress: 1, Channels: 16, Enabled: true},
			{SlaveAddress: 2, Channels: 16, Enabled: true},
			{SlaveAddress: 3, Channels: 16, Enabled: true},
			{SlaveAddress: 4, Channels: 16, Enabled: true},
		}},
		Zones: []config.Zone{
			{ID: "mens", Enabled: true, RelayCards: []int{1, 2}, Ranges: []config.Range{{Start: 1, End: 32}}},
			{ID: "womens", Enabled: true, RelayCards: []int{3, 4}, Ranges: []config.Range{{Start: 33, End: 64}}},
		},
	}
}

func TestResolveLastInRangeMapsToChannel16OfLastCard(t *testing.T) {
	doc := twoZoneDoc()
	m, err := Resolve(doc, 32)
	require.NoError(t, err)
	require.Equal(t, Mapping{ZoneID: "mens", SlaveAddress: 2, Channel: 16}, m)
}

func TestResolveOnePastCapacityNotFound(t *testing.T) {
	doc := twoZoneDoc()
	_, err := Resolve(doc, 65)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveFirstLockerOfSecondZone(t *testing.T) {
	doc := twoZoneDoc()
	m, err := Resolve(doc, 33)
	require.NoError(t, err)
	require.Equal(t, Mapping{ZoneID: "womens", SlaveAddress: 3, Channel: 1}, m)
}

func TestLegacyLinearMappingWhenZonesDisabled(t *testing.T) {
	doc := config.Document{Features: config.Features{ZonesEnabled: false}}
	m, err := Resolve(doc, 17)
	require.NoError(t, err)
	require.Equal(t, Mapping{SlaveAddress: 2, Channel: 1}, m)
}
