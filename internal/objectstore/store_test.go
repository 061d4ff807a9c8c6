package objectstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	calls []Handle
	fail  map[string]error
}

func (l *countingLoader) Load(ctx context.Context, h Handle) (Object, error) {
	l.calls = append(l.calls, h)
	if err, ok := l.fail[h.Name]; ok {
		return nil, err
	}
	return NewRecord(h.Name, h.Type, map[string]any{"name": h.Name}), nil
}

func TestStore_Get_CachesConsecutiveAccess(t *testing.T) {
	loader := &countingLoader{}
	store := New(loader.Load)
	h := Handle{Name: "rec01", Type: TypeRecording}

	first, err := store.Get(context.Background(), h)
	require.NoError(t, err)
	second, err := store.Get(context.Background(), h)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, loader.calls, 1)
	assert.Equal(t, 1, store.Loads())
}

func TestStore_Get_KeysByNameAndType(t *testing.T) {
	loader := &countingLoader{}
	store := New(loader.Load)

	_, err := store.Get(context.Background(), Handle{Name: "s1", Type: TypeRecording})
	require.NoError(t, err)
	_, err = store.Get(context.Background(), Handle{Name: "s1", Type: TypeAnatomy})
	require.NoError(t, err)

	assert.Len(t, loader.calls, 2)
	assert.Equal(t, 2, store.Len())
}

func TestStore_Get_LoadError(t *testing.T) {
	cause := errors.New("file missing")
	loader := &countingLoader{fail: map[string]error{"broken": cause}}
	store := New(loader.Load)

	obj, err := store.Get(context.Background(), Handle{Name: "broken", Type: TypeGroup})

	assert.Nil(t, obj)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObjectLoad)
	assert.ErrorIs(t, err, cause)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "broken", loadErr.Handle.Name)
	assert.Equal(t, 0, store.Len(), "failed loads are not cached")
}

func TestStore_Get_RejectsTypeNone(t *testing.T) {
	store := New((&countingLoader{}).Load)

	_, err := store.Get(context.Background(), Handle{Name: "", Type: TypeNone})

	assert.ErrorIs(t, err, ErrObjectLoad)
}

func TestStore_Get_NilObject(t *testing.T) {
	store := New(func(ctx context.Context, h Handle) (Object, error) { return nil, nil })

	_, err := store.Get(context.Background(), Handle{Name: "x", Type: TypeRecording})

	assert.ErrorIs(t, err, ErrObjectLoad)
}

func TestStore_InvalidateAndPurge(t *testing.T) {
	loader := &countingLoader{}
	store := New(loader.Load)
	h := Handle{Name: "fs01", Type: TypeAnatomy}
	ctx := context.Background()

	_, _ = store.Get(ctx, h)
	store.Invalidate(h)
	_, ok := store.Peek(h)
	assert.False(t, ok)

	_, _ = store.Get(ctx, h)
	assert.Len(t, loader.calls, 2)

	store.Purge()
	assert.Equal(t, 0, store.Len())
}

func TestStore_LoaderMayUseStore(t *testing.T) {
	var store *Store
	store = New(func(ctx context.Context, h Handle) (Object, error) {
		rec := NewRecord(h.Name, h.Type, map[string]any{"own": 1})
		if h.Type != TypeRecording {
			return rec, nil
		}
		anat, err := store.Get(ctx, Handle{Name: "fs01", Type: TypeAnatomy})
		if err != nil {
			return nil, err
		}
		return rec.WithLink(anat), nil
	})

	obj, err := store.Get(context.Background(), Handle{Name: "rec01", Type: TypeRecording})
	require.NoError(t, err)

	_, cached := store.Peek(Handle{Name: "fs01", Type: TypeAnatomy})
	assert.True(t, cached)
	assert.Equal(t, 2, store.Loads())
	linked, ok := obj.(Linked)
	require.True(t, ok)
	assert.Equal(t, "fs01", linked.Link().Name())
}

func TestRecord_AttributesMergeOverLink(t *testing.T) {
	anat := NewRecord("fs01", TypeAnatomy, map[string]any{"spacing": "oct6", "shared": "anatomy"})
	rec := NewRecord("rec01", TypeRecording, map[string]any{"shared": "recording"}).WithLink(anat)

	attrs := rec.Attributes()

	assert.Equal(t, "oct6", attrs["spacing"])
	assert.Equal(t, "recording", attrs["shared"])
	assert.Equal(t, []string{"shared", "spacing"}, AttributeKeys(rec))
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{in: "Anatomy", want: TypeAnatomy},
		{in: "FSMRI", want: TypeAnatomy},
		{in: "meeg", want: TypeRecording},
		{in: "recording", want: TypeRecording},
		{in: "Group", want: TypeGroup},
		{in: "Other", want: TypeNone},
		{in: "", want: TypeNone},
		{in: "subject", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandle_Equality(t *testing.T) {
	a := Handle{Name: "rec01", Type: TypeRecording}
	b := Handle{Name: "rec01", Type: TypeRecording}
	c := Handle{Name: "rec01", Type: TypeAnatomy}

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "recording/rec01", a.String())
}
