package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreDefaults(t *testing.T) {
	store, _ := NewMemory()
	ctx := context.Background()
	clinic := uuid.New()

	assert.True(t, store.GetBool(ctx, KeyAllowWalkIns, DefaultAllowWalkIns, clinic))
	assert.False(t, store.GetBool(ctx, KeyAutoCallNext, DefaultAutoCallNext, clinic))
	assert.Equal(t, 30, store.GetInt(ctx, KeyMaxWaitMinutes, DefaultMaxWaitMinutes, clinic))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, store.GetList(ctx, KeyPriorityLevels, DefaultPriorityLevels(), clinic))
}

func TestStoreClinicOverridesGlobal(t *testing.T) {
	store, src := NewMemory()
	ctx := context.Background()
	clinic, other := uuid.New(), uuid.New()

	src.Set(uuid.Nil, KeyMaxWaitMinutes, "45")
	src.Set(clinic, KeyMaxWaitMinutes, "20")

	assert.Equal(t, 20, store.GetInt(ctx, KeyMaxWaitMinutes, 30, clinic))
	assert.Equal(t, 45, store.GetInt(ctx, KeyMaxWaitMinutes, 30, other))

	src.Delete(clinic, KeyMaxWaitMinutes)
	assert.Equal(t, 45, store.GetInt(ctx, KeyMaxWaitMinutes, 30, clinic))
}

func TestStoreBadValuesFallBack(t *testing.T) {
	store, src := NewMemory()
	ctx := context.Background()
	clinic := uuid.New()

	src.Set(clinic, KeyAutoCallNext, "maybe")
	src.Set(clinic, KeyMaxWaitMinutes, "half an hour")
	src.Set(clinic, KeyPriorityLevels, "[]")

	assert.False(t, store.GetBool(ctx, KeyAutoCallNext, false, clinic))
	assert.Equal(t, 30, store.GetInt(ctx, KeyMaxWaitMinutes, 30, clinic))
	assert.Equal(t, []int{1, 2}, store.GetList(ctx, KeyPriorityLevels, []int{1, 2}, clinic))
}

type failingSource struct{}

func (failingSource) Lookup(context.Context, uuid.UUID, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func TestStoreSourceErrorUsesDefault(t *testing.T) {
	store := NewStore(failingSource{})
	assert.True(t, store.GetBool(context.Background(), KeyAllowWalkIns, true, uuid.New()))
}

func TestParseBool(t *testing.T) {
	for in, want := range map[string]bool{
		"true": true, "1": true, "Yes": true, " on ": true,
		"false": false, "0": false, "no": false, "OFF": false,
	} {
		got, err := ParseBool(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseBool("sometimes")
	assert.Error(t, err)
}

func TestParseList(t *testing.T) {
	got, err := ParseList("[1, 3, 5]")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, got)

	got, err = ParseList(" 1, 2,,4 ")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, got)

	_, err = ParseList("1,two")
	assert.Error(t, err)

	assert.Equal(t, "1,2,3", FormatList([]int{1, 2, 3}))
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		key, in, want string
	}{
		{KeyAllowWalkIns, "Yes", "true"},
		{KeyAutoCallNext, "0", "false"},
		{KeyMaxWaitMinutes, " 45 ", "45"},
		{KeyPriorityLevels, "[1, 2, 3]", "1,2,3"},
	}
	for _, c := range cases {
		got, err := Normalize(c.key, c.in)
		require.NoError(t, err, c.key)
		assert.Equal(t, c.want, got, c.key)
	}

	_, err := Normalize(KeyMaxWaitMinutes, "-5")
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = Normalize(KeyPriorityLevels, "")
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = Normalize(KeyAllowWalkIns, "perhaps")
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = Normalize("queue.colour", "blue")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestEffective(t *testing.T) {
	store, src := NewMemory()
	ctx := context.Background()
	clinic := uuid.New()
	require.NoError(t, src.Put(ctx, clinic, KeyPriorityLevels, "1,3"))

	got := Effective(ctx, store, clinic)
	assert.Len(t, got, len(Keys()))
	assert.Equal(t, []int{1, 3}, got[KeyPriorityLevels])
	assert.Equal(t, true, got[KeyAllowWalkIns])
	assert.Equal(t, 30, got[KeyMaxWaitMinutes])
}
