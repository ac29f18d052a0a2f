package typeconv

import (
	"io"
	"mime/multipart"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type color int

type level string

func (l *level) UnmarshalText(b []byte) error {
	*l = level("L-" + string(b))
	return nil
}

type flat struct {
	ID    int
	Name  string
	When  time.Time
	Tags  []string
	Body  io.Reader
	inner int
}

type nested struct {
	ID    int
	Child flat
}

type twoStreams struct {
	A io.Reader
	B map[string][]*multipart.FileHeader
}

func TestCanConvertFromString(t *testing.T) {
	t.Parallel()

	yes := []any{"", true, 1, int8(1), uint64(1), 1.5, float32(1), []byte("x"),
		time.Time{}, time.Second, color(1), level(""), net.IP{}, new(int), new(time.Time)}
	for _, v := range yes {
		assert.True(t, CanConvertFromString(reflect.TypeOf(v)), "%T", v)
	}

	no := []any{struct{}{}, flat{}, []int{}, map[string]int{}, new(*int), make(chan int)}
	for _, v := range no {
		assert.False(t, CanConvertFromString(reflect.TypeOf(v)), "%T", v)
	}
	assert.False(t, CanConvertFromString(nil))
}

func TestIsCollection(t *testing.T) {
	t.Parallel()

	a := assert.New(t)
	a.True(IsCollection(reflect.TypeFor[[]int]()))
	a.True(IsCollection(reflect.TypeFor[[3]string]()))
	a.True(IsCollection(reflect.TypeFor[map[string]float64]()))
	a.True(IsCollection(reflect.TypeFor[[]time.Time]()))
	a.False(IsCollection(reflect.TypeFor[[]byte]()))
	a.False(IsCollection(reflect.TypeFor[[]flat]()))
	a.False(IsCollection(reflect.TypeFor[map[string][]int]()))
	a.False(IsCollection(reflect.TypeFor[int]()))
}

func TestSpecialTypes(t *testing.T) {
	t.Parallel()

	a := assert.New(t)
	a.True(IsStream(reflect.TypeFor[io.Reader]()))
	a.False(IsStream(reflect.TypeFor[io.ReadCloser]()))
	a.True(IsFileSet(reflect.TypeFor[map[string][]*multipart.FileHeader]()))
	a.False(IsFileSet(reflect.TypeFor[map[string]string]()))
	a.True(IsSpecial(reflect.TypeFor[io.Reader]()))
}

func TestIsPlainParameterSet(t *testing.T) {
	t.Parallel()

	scalars := []reflect.Type{reflect.TypeFor[int](), reflect.TypeFor[string]()}
	withSlice := append(scalars, reflect.TypeFor[[]int]())

	assert.True(t, IsPlainParameterSet(scalars, false))
	assert.True(t, IsPlainParameterSet(withSlice, true))
	assert.False(t, IsPlainParameterSet(withSlice, false))
	assert.False(t, IsPlainParameterSet([]reflect.Type{reflect.TypeFor[flat]()}, true))
	assert.True(t, IsPlainParameterSet(nil, false))
}

func TestIsPlainType(t *testing.T) {
	t.Parallel()

	a := assert.New(t)
	a.True(IsPlainType(reflect.TypeFor[flat](), true))
	a.True(IsPlainType(reflect.TypeFor[*flat](), true))
	a.False(IsPlainType(reflect.TypeFor[flat](), false))
	a.False(IsPlainType(reflect.TypeFor[nested](), true))
	a.False(IsPlainType(reflect.TypeFor[twoStreams](), true))
	a.False(IsPlainType(reflect.TypeFor[time.Time](), true))
	a.False(IsPlainType(reflect.TypeFor[int](), true))
}

func TestConvertString(t *testing.T) {
	t.Parallel()

	v, err := ConvertString("42", reflect.TypeFor[int]())
	require.NoError(t, err)
	assert.Equal(t, 42, v.Interface())

	v, err = ConvertString("1.5s", reflect.TypeFor[time.Duration]())
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, v.Interface())

	v, err = ConvertString("2024-01-02T03:04:05Z", reflect.TypeFor[time.Time]())
	require.NoError(t, err)
	assert.Equal(t, 2024, v.Interface().(time.Time).Year())

	v, err = ConvertString("warn", reflect.TypeFor[level]())
	require.NoError(t, err)
	assert.Equal(t, level("L-warn"), v.Interface())

	v, err = ConvertString("", reflect.TypeFor[*int]())
	require.NoError(t, err)
	assert.Nil(t, v.Interface())

	v, err = ConvertString("7", reflect.TypeFor[*int]())
	require.NoError(t, err)
	assert.Equal(t, 7, *v.Interface().(*int))

	_, err = ConvertString("notanumber", reflect.TypeFor[int]())
	assert.Error(t, err)

	_, err = ConvertString("x", reflect.TypeFor[flat]())
	assert.Error(t, err)
}

func TestConvertValues(t *testing.T) {
	t.Parallel()

	v, err := ConvertValues([]string{"1", "2", "3"}, reflect.TypeFor[[]int]())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, v.Interface())

	v, err = ConvertValues([]string{"a, b"}, reflect.TypeFor[[]string]())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, v.Interface())

	v, err = ConvertValues([]string{"1", "2"}, reflect.TypeFor[[3]int]())
	require.NoError(t, err)
	assert.Equal(t, [3]int{1, 2, 0}, v.Interface())

	_, err = ConvertValues([]string{"1", "2", "3", "4"}, reflect.TypeFor[[3]int]())
	assert.Error(t, err)

	v, err = ConvertValues([]string{"a:1", "b:2"}, reflect.TypeFor[map[string]int]())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, v.Interface())

	_, err = ConvertValues([]string{"a"}, reflect.TypeFor[map[string]int]())
	assert.Error(t, err)

	v, err = ConvertValues([]string{"9", "10"}, reflect.TypeFor[int]())
	require.NoError(t, err)
	assert.Equal(t, 9, v.Interface())

	v, err = ConvertValues(nil, reflect.TypeFor[string]())
	require.NoError(t, err)
	assert.Equal(t, "", v.Interface())
}
