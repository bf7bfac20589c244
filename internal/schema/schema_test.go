package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *RecordSchema {
	s, err := NewRecordSchema(
		FieldMerge{Name: "username"},
		FieldMerge{Name: "password"},
		FieldMerge{Name: "times_used", Strategy: Commutative},
		FieldMerge{Name: "scheme", CompositeRoot: "origin"},
		FieldMerge{Name: "host", CompositeRoot: "origin"},
	)
	require.NoError(t, err)
	return s
}

func TestValidateDedupeFieldsAllComposite(t *testing.T) {
	s := testSchema(t)
	require.NoError(t, s.ValidateDedupeFields([]string{"scheme", "host"}))
}

func TestValidateDedupeFieldsAllPlain(t *testing.T) {
	s := testSchema(t)
	require.NoError(t, s.ValidateDedupeFields([]string{"username", "password"}))
}

func TestValidateDedupeFieldsMixedRejected(t *testing.T) {
	s := testSchema(t)
	err := s.ValidateDedupeFields([]string{"username", "scheme"})
	require.Error(t, err)
}

func TestValidateDedupeFieldsUnknown(t *testing.T) {
	s := testSchema(t)
	err := s.ValidateDedupeFields([]string{"nonexistent"})
	require.Error(t, err)
}

func TestResolveCommutativeAlwaysSums(t *testing.T) {
	f := FieldMerge{Name: "times_used", Strategy: Commutative}
	require.Equal(t, Sum, f.Resolve(ConflictInput{}))
	require.Equal(t, Sum, f.Resolve(ConflictInput{LocalChanged: true, RemoteChanged: true}))
}

func TestResolveLatestWins(t *testing.T) {
	f := FieldMerge{Name: "password", Strategy: LatestWins}
	require.Equal(t, KeepShared, f.Resolve(ConflictInput{}))
	require.Equal(t, TakeLocal, f.Resolve(ConflictInput{LocalChanged: true}))
	require.Equal(t, TakeRemote, f.Resolve(ConflictInput{RemoteChanged: true}))
	require.Equal(t, TakeLocal, f.Resolve(ConflictInput{LocalChanged: true, RemoteChanged: true, LocalNewer: true}))
	require.Equal(t, TakeRemote, f.Resolve(ConflictInput{LocalChanged: true, RemoteChanged: true, LocalNewer: false}))
}
