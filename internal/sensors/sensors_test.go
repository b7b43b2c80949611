package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseList(t *testing.T) {
	ids, err := ParseList("aht20,bmp280")
	require.NoError(t, err)
	assert.Equal(t, []string{"aht20", "bmp280"}, ids)

	ids, err = ParseList(" AHT20 , ds18b20 ")
	require.NoError(t, err)
	assert.Equal(t, []string{"aht20", "ds18b20"}, ids)
	assert.Equal(t, "aht20,ds18b20", JoinList(ids))
}

func TestParseListErrors(t *testing.T) {
	for _, raw := range []string{"", "  ", "aht20,", ",aht20", "aht20,,bmp280", "aht20,AHT20", "aht 20", "bmp280;aht20"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseList(raw)
			require.ErrorIs(t, err, ErrInvalidList)
		})
	}
}

func TestCheckList(t *testing.T) {
	assert.NoError(t, CheckList([]string{"aht20", "bmp280"}))
	assert.ErrorIs(t, CheckList(nil), ErrInvalidList)
	assert.ErrorIs(t, CheckList([]string{"aht20", "aht20"}), ErrInvalidList)
	assert.ErrorIs(t, CheckList([]string{"AHT20"}), ErrInvalidList)
	assert.ErrorIs(t, CheckList([]string{"a,b"}), ErrInvalidList)
}

func TestCatalog(t *testing.T) {
	def, ok := Lookup("bmp280")
	require.True(t, ok)
	assert.Equal(t, "i2c", def.Bus)
	assert.Len(t, def.Measurements, 2)

	assert.Equal(t, []string{"mystery"}, Unknown([]string{"aht20", "mystery", "bmp280"}))
	assert.Contains(t, KnownIDs(), "aht20")

	seen := map[string]bool{}
	for _, s := range AllSensors {
		assert.False(t, seen[s.ID], "duplicate catalog id %s", s.ID)
		seen[s.ID] = true
		assert.NoError(t, checkID(s.ID))
	}
}
