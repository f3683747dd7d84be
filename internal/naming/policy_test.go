package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

func TestRelocatePolicy_Derive(t *testing.T) {
	src := domain.NewObjectAddress("app-incoming", "my photo.jpg")

	plan, err := RelocatePolicy().Derive(src)
	require.NoError(t, err)

	assert.Equal(t, src, plan.Source)
	assert.Equal(t, domain.NewObjectAddress("app-processed", "my photo.jpg"), plan.Primary)
	require.NotNil(t, plan.Archive)
	assert.Equal(t, domain.NewObjectAddress("app-raw", "my photo.jpg"), *plan.Archive)
	assert.True(t, plan.DeleteSource)
	assert.Equal(t, []domain.ObjectAddress{plan.Primary, *plan.Archive}, plan.Destinations())
}

func TestSuffixPolicy_Derive(t *testing.T) {
	plan, err := SuffixPolicy().Derive(domain.NewObjectAddress("photos", "cat.png"))
	require.NoError(t, err)

	assert.Equal(t, domain.NewObjectAddress("photos-resized", "resized-cat.png"), plan.Primary)
	assert.Nil(t, plan.Archive)
	assert.False(t, plan.DeleteSource)
	assert.Len(t, plan.Destinations(), 1)
}

func TestBucketRule_ReplacesFirstOccurrenceOnly(t *testing.T) {
	rule := BucketRule{Find: "incoming", Replace: "processed"}
	assert.Equal(t, "processed-incoming", rule.Apply("incoming-incoming"))
	assert.Equal(t, "unrelated", rule.Apply("unrelated"))
	assert.Equal(t, "b-x", BucketRule{Suffix: "-x"}.Apply("b"))
}

func TestDerive_IsPure(t *testing.T) {
	policy := RelocatePolicy()
	src := domain.NewObjectAddress("team-incoming-eu", "a/b/c.jpg")

	first, err := policy.Derive(src)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := policy.Derive(src)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	for _, dst := range first.Destinations() {
		assert.NotEqual(t, src.Bucket, dst.Bucket)
	}
}

func TestDerive_DestinationEqualsSource(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		src    domain.ObjectAddress
	}{
		{
			name:   "primary marker absent",
			policy: RelocatePolicy(),
			src:    domain.NewObjectAddress("photos", "x.jpg"),
		},
		{
			name:   "identity primary rule",
			policy: Policy{},
			src:    domain.NewObjectAddress("incoming-photos", "x.jpg"),
		},
		{
			name: "archive collides",
			policy: Policy{
				Primary: BucketRule{Suffix: "-thumbs"},
				Archive: &BucketRule{Find: "nothing", Replace: "raw"},
			},
			src: domain.NewObjectAddress("incoming-photos", "x.jpg"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.policy.Derive(tt.src)
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindInvalidConfiguration), "got %v", err)
		})
	}
}

func TestDerive_IncompleteSource(t *testing.T) {
	_, err := RelocatePolicy().Derive(domain.NewObjectAddress("app-incoming", ""))
	assert.True(t, domain.IsKind(err, domain.KindInvalidConfiguration))
}

func TestPreset(t *testing.T) {
	p, err := Preset("")
	require.NoError(t, err)
	assert.Equal(t, RelocatePolicy(), p)

	p, err = Preset("SUFFIX")
	require.NoError(t, err)
	assert.Equal(t, SuffixPolicy(), p)

	_, err = Preset("bogus")
	assert.Error(t, err)
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, `primary="incoming"->"processed" archive="incoming"->"raw" delete_source=true`, RelocatePolicy().String())
	assert.Equal(t, `primary=+"-resized" key_prefix="resized-" delete_source=false`, SuffixPolicy().String())
}
