package guard

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "apiguard/pkg/domain-errors"
)

// explodingReader fails the test if anything reads from it. Used to prove
// the declared-length pre-check rejects without buffering the body.
type explodingReader struct{ t *testing.T }

func (e explodingReader) Read([]byte) (int, error) {
	e.t.Fatal("body was read despite an oversized Content-Length")
	return 0, io.EOF
}

func TestDeclaredLengthAtLimitAccepted(t *testing.T) {
	req := httptest.NewRequest("POST", "/x", strings.NewReader(strings.Repeat("a", 10)))
	req.ContentLength = 10

	assert.NoError(t, checkDeclaredLength(req, 10))
}

func TestDeclaredLengthOverLimitRejectedWithoutReading(t *testing.T) {
	req := httptest.NewRequest("POST", "/x", explodingReader{t})
	req.ContentLength = 11

	err := checkDeclaredLength(req, 10)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodePayloadTooLarge, dErrors.CodeOf(err))

	var de *dErrors.Error
	require.ErrorAs(t, err, &de)
	details, ok := de.Details.(map[string]int64)
	require.True(t, ok)
	assert.Equal(t, int64(11), details["actualBytes"])
	assert.Equal(t, int64(10), details["maxBytes"])
}

func TestReadBodyAtLimitAccepted(t *testing.T) {
	req := httptest.NewRequest("POST", "/x", strings.NewReader(strings.Repeat("a", 10)))

	body, err := readBody(req, 10)
	require.NoError(t, err)
	assert.Len(t, body, 10)
}

func TestReadBodyOverLimitRejected(t *testing.T) {
	// No Content-Length; the client understates and the recount catches it.
	req := httptest.NewRequest("POST", "/x", strings.NewReader(strings.Repeat("a", 11)))
	req.ContentLength = -1

	_, err := readBody(req, 10)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodePayloadTooLarge, dErrors.CodeOf(err))
}

func TestReadBodyRewindsForDownstream(t *testing.T) {
	req := httptest.NewRequest("POST", "/x", strings.NewReader(`{"a":1}`))

	body, err := readBody(req, 100)
	require.NoError(t, err)

	again, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, again, "handlers must still be able to read the body")
}

func TestParseJSON(t *testing.T) {
	v, err := parseJSON([]byte(`{"name":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x"}, v)

	_, err = parseJSON([]byte(`{"name":`))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeValidation, dErrors.CodeOf(err),
		"malformed JSON is a validation failure, never a size failure")
}

func TestHasBody(t *testing.T) {
	assert.True(t, hasBody("POST"))
	assert.True(t, hasBody("PUT"))
	assert.True(t, hasBody("PATCH"))
	assert.False(t, hasBody("GET"))
	assert.False(t, hasBody("DELETE"))
	assert.False(t, hasBody("HEAD"))
}
