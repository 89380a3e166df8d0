package accesslog

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestMaskHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("Authorization", "Bearer sk-abcdefghijklmnop")
	header.Set("X-Api-Key", "sk-123")
	header.Set("Api-Key", "0123456789abcdefgh")
	header.Set("Content-Type", "application/json")

	masked := MaskHeaders(header)
	assert.Equal(t, "Bearer sk-ab*****op", masked.Get("Authorization"))
	assert.Equal(t, "*****", masked.Get("X-Api-Key"))
	assert.Equal(t, "0123456789ab*****gh", masked.Get("Api-Key"))
	assert.Equal(t, "application/json", masked.Get("Content-Type"))

	// The original header is untouched.
	assert.Equal(t, "Bearer sk-abcdefghijklmnop", header.Get("Authorization"))
}

func TestMaskValue_BoundaryLengths(t *testing.T) {
	assert.Equal(t, "*****", maskValue(""))
	// Exactly 16 is still fully masked; 17 keeps prefix and suffix.
	assert.Equal(t, "*****", maskValue("0123456789abcdef"))
	assert.Equal(t, "0123456789ab*****fg", maskValue("0123456789abcdefg"))
}

func TestHeadersJSON(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Add("Accept", "text/html")
	header.Add("Accept", "application/json")

	parsed := gjson.Parse(HeadersJSON(header))
	assert.Equal(t, "application/json", parsed.Get("content-type").String())
	assert.Equal(t, "text/html, application/json", parsed.Get("accept").String())

	assert.Equal(t, "", HeadersJSON(nil))
}
