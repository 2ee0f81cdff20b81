package checksum

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_KnownVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scheme Scheme
		data   string
		want   string
	}{
		{name: "md5 empty", scheme: SchemeMD5, data: "", want: "d41d8cd98f00b204e9800998ecf8427e"},
		{name: "md5 abc", scheme: SchemeMD5, data: "abc", want: "900150983cd24fb0d6963f7d28e17f72"},
		{name: "blake3 empty", scheme: SchemeBLAKE3, data: "", want: "af1349b9f5f9a1a6a0404dea36dcc949"},
		{name: "blake3 abc", scheme: SchemeBLAKE3, data: "abc", want: "6437b3ac38465133ffb63b75273a8db5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Sum(tt.scheme, []byte(tt.data)).String())
		})
	}
}

func TestSumReader_MatchesSum(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("lossless "), 10000)
	for _, scheme := range []Scheme{SchemeMD5, SchemeBLAKE3} {
		digest, n, err := SumReader(scheme, bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), n)
		assert.Equal(t, Sum(scheme, data), digest, scheme.String())
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	data := []byte("abc")
	want := Sum(SchemeMD5, data)
	assert.True(t, Verify(SchemeMD5, data, want))
	assert.False(t, Verify(SchemeMD5, []byte("abd"), want))
	assert.False(t, Verify(SchemeBLAKE3, data, want))
}

func TestParseScheme(t *testing.T) {
	t.Parallel()

	for _, scheme := range []Scheme{SchemeMD5, SchemeBLAKE3} {
		parsed, err := ParseScheme(scheme.String())
		require.NoError(t, err)
		assert.Equal(t, scheme, parsed)
		assert.True(t, parsed.Valid())
	}

	_, err := ParseScheme("sha1")
	assert.Error(t, err)
	assert.False(t, Scheme(9).Valid())
	assert.Equal(t, "unknown(9)", Scheme(9).String())
}
