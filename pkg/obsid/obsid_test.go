package obsid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_KeyOrderInsensitive(t *testing.T) {
	tests := []struct {
		name string
		p1   string
		p2   string
	}{
		{"flat object", `{"a":1,"b":2}`, `{"b":2,"a":1}`},
		{"whitespace", `{"a": 1, "b": [1, 2]}`, `{"b":[1,2],"a":1}`},
		{"nested", `{"x":{"q":true,"p":null},"y":"s"}`, `{"y":"s","x":{"p":null,"q":true}}`},
		{"large numbers", `{"n":12345678901234567890}`, ` {"n":12345678901234567890} `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1, err := ID("users", tt.p1)
			require.NoError(t, err)
			id2, err := ID("users", tt.p2)
			require.NoError(t, err)
			assert.Equal(t, id1, id2)
		})
	}
}

func TestID_Deterministic(t *testing.T) {
	id1, err := ID("counter", "{}")
	require.NoError(t, err)
	id2, err := ID("counter", "{}")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.LessOrEqual(t, id1, uint32(Mask))
}

func TestID_Distinguishes(t *testing.T) {
	base, err := ID("counter", `{"a":1}`)
	require.NoError(t, err)

	otherName, err := ID("counter2", `{"a":1}`)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherName)

	otherPayload, err := ID("counter", `{"a":2}`)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherPayload)

	// Swapping name and payload content must not collide.
	a, err := ID(`"x"`, `"y"`)
	require.NoError(t, err)
	b, err := ID(`"y"`, `"x"`)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestID_EmptyPayload(t *testing.T) {
	empty, err := ID("counter", "")
	require.NoError(t, err)

	again, err := ID("counter", "")
	require.NoError(t, err)
	assert.Equal(t, empty, again)

	obj, err := ID("counter", "{}")
	require.NoError(t, err)
	assert.NotEqual(t, empty, obj, "no payload and an empty object are different observables")
}

func TestID_InvalidPayload(t *testing.T) {
	for _, payload := range []string{`{`, `not json`, `{"a":1} {"b":2}`, `{"a":1}x`} {
		t.Run(payload, func(t *testing.T) {
			_, err := ID("counter", payload)
			if !errors.Is(err, ErrEncoding) {
				t.Fatalf("expected ErrEncoding, got %v", err)
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"b":2,"a":1}`, `{"a":1,"b":2}`},
		{` [ 3 , 1 ] `, `[3,1]`},
		{`{"html":"<b>&"}`, `{"html":"<b>&"}`},
		{`1.50`, `1.5`},
		{`{"n":1e3,"m":-0}`, `{"m":0,"n":1000}`},
		{`{"s":"\u00e9"}`, `{"s":"é"}`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	got, err := Canonicalize("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestID_EquivalentNumbers(t *testing.T) {
	want, err := ID("chat", `{"room":1}`)
	require.NoError(t, err)

	for _, payload := range []string{`{"room":1.0}`, `{"room":1e0}`, `{ "room" : 10E-1 }`} {
		got, err := ID("chat", payload)
		require.NoError(t, err)
		assert.Equal(t, want, got, payload)
	}
}

func TestCanonicalize_Invalid(t *testing.T) {
	for _, payload := range []string{`{`, `0x10`, `+1`, `{"a":1} {"b":2}`, `{"a":1,"a":2}`, `NaN`} {
		_, err := Canonicalize(payload)
		assert.ErrorIs(t, err, ErrEncoding, payload)
	}
}
