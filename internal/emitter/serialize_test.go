package emitter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dumpable struct{ Name string }

func (d dumpable) ModelDump() map[string]any { return map[string]any{"name": d.Name} }

type plainStruct struct {
	Public  string
	private string
}

// Testable property #6: safe_serialize's output must always round-trip
// through a standard JSON encoder.
func assertJSONRoundTrips(t *testing.T, v any) {
	t.Helper()
	_, err := json.Marshal(SafeSerialize(v))
	require.NoError(t, err)
}

func TestSafeSerialize_Primitives(t *testing.T) {
	assert.Equal(t, "hi", SafeSerialize("hi"))
	assert.Equal(t, 42, SafeSerialize(42))
	assert.Equal(t, true, SafeSerialize(true))
	assertJSONRoundTrips(t, "hi")
}

func TestSafeSerialize_Time(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	out := SafeSerialize(ts)
	assert.Equal(t, "2026-07-31T12:00:00Z", out)
}

func TestSafeSerialize_Bytes(t *testing.T) {
	out := SafeSerialize([]byte("hello"))
	assert.Equal(t, "b64:aGVsbG8=", out)
}

func TestSafeSerialize_Map(t *testing.T) {
	out := SafeSerialize(map[string]int{"a": 1, "b": 2})
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, m["a"])
	assertJSONRoundTrips(t, map[string]int{"a": 1})
}

func TestSafeSerialize_Slice(t *testing.T) {
	out := SafeSerialize([]int{1, 2, 3})
	assert.Equal(t, []any{1, 2, 3}, out)
}

func TestSafeSerialize_ModelDump(t *testing.T) {
	out := SafeSerialize(dumpable{Name: "x"})
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "x", m["name"])
}

func TestSafeSerialize_StructFieldDictionary(t *testing.T) {
	out := SafeSerialize(plainStruct{Public: "v", private: "hidden"})
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v", m["Public"])
	_, hasPrivate := m["private"]
	assert.False(t, hasPrivate)
}

func TestSafeSerialize_Nil(t *testing.T) {
	assert.Nil(t, SafeSerialize(nil))
}

func TestSafeSerialize_Error(t *testing.T) {
	err := assertErr{"boom"}
	out := SafeSerialize(err)
	assert.Equal(t, "boom", out)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestSafeSerializeSet_SortsAndStringifies(t *testing.T) {
	set := map[fakeStringer]struct{}{
		{"b"}: {}, {"a"}: {}, {"c"}: {},
	}
	out := SafeSerializeSet(set)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

type fakeStringer struct{ s string }

func (f fakeStringer) String() string { return f.s }
