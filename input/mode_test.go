package input

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSelector(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
	}{
		{"4", FixedLength(4)},
		{"0", FixedLength(0)},
		{`\r`, DelimiterByte('\r')},
		{`\x02`, DelimiterByte(0x02)},
		{`"\n"`, DelimiterByte('\n')},
		{";", DelimiterByte(';')},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			sel, err := ParseSelector(tc.in)
			require.NoError(t, err)
			m, err := sel.Mode()
			require.NoError(t, err)
			require.Equal(t, tc.want, m)
		})
	}

	sel, err := ParseSelector("")
	require.NoError(t, err)
	require.False(t, sel.IsSet())

	for _, bad := range []string{"-3", "ab", `\r\n`} {
		_, err := ParseSelector(bad)
		require.ErrorIs(t, err, ErrConfiguration, bad)
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent("data")
	require.NoError(t, err)
	require.Equal(t, EventData, ev)

	ev, err = ParseEvent("error")
	require.NoError(t, err)
	require.Equal(t, EventError, ev)

	_, err = ParseEvent("close")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestMode_Accessors(t *testing.T) {
	n, ok := FixedLength(7).Length()
	require.True(t, ok)
	require.Equal(t, 7, n)
	_, ok = FixedLength(7).Delimiter()
	require.False(t, ok)

	d, ok := DelimiterByte('\r').Delimiter()
	require.True(t, ok)
	require.Equal(t, byte('\r'), d)
	_, ok = DelimiterByte('\r').Length()
	require.False(t, ok)

	require.Equal(t, "fixed(7)", FixedLength(7).String())
	require.Equal(t, `delimiter('\r')`, DelimiterByte('\r').String())
	require.Equal(t, FixedLength(0), Mode{})
}
