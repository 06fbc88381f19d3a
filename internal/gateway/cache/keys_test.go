package cache

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildKey_Shape(t *testing.T) {
	key := BuildKey(http.MethodGet, "/v1/bookings/b-1", "", "")
	assert.Equal(t, "GET /v1/bookings/b-1", key)

	key = BuildKey(http.MethodGet, "/v1/bookings", "status=confirmed", "user-42")
	assert.Equal(t, "GET /v1/bookings?status=confirmed|scope=user-42", key)
}

func TestBuildKey_QueryOrderDoesNotMatter(t *testing.T) {
	a := BuildKey(http.MethodGet, "/v1/requests", "status=open&category=plumbing", "")
	b := BuildKey(http.MethodGet, "/v1/requests", "category=plumbing&status=open", "")
	assert.Equal(t, a, b)

	a = BuildKey(http.MethodGet, "/v1/requests", "tag=b&tag=a", "")
	b = BuildKey(http.MethodGet, "/v1/requests", "tag=a&tag=b", "")
	assert.Equal(t, a, b, "repeated parameter values are sorted within the key")
}

func TestBuildKey_EquivalentEncodingsCollide(t *testing.T) {
	a := BuildKey(http.MethodGet, "/v1/requests", "q=hello+world", "")
	b := BuildKey(http.MethodGet, "/v1/requests", "q=hello%20world", "")
	assert.Equal(t, a, b)
}

func TestBuildKey_TrailingSlashCollapses(t *testing.T) {
	a := BuildKey(http.MethodGet, "/v1/bookings", "", "")
	b := BuildKey(http.MethodGet, "/v1/bookings/", "", "")
	assert.Equal(t, a, b)

	root := BuildKey(http.MethodGet, "/", "", "")
	assert.Equal(t, "GET /", root)
}

func TestBuildKey_DiscriminatesRequestShape(t *testing.T) {
	base := BuildKey(http.MethodGet, "/v1/bookings", "status=open", "user-42")

	assert.NotEqual(t, base, BuildKey(http.MethodHead, "/v1/bookings", "status=open", "user-42"))
	assert.NotEqual(t, base, BuildKey(http.MethodGet, "/v1/requests", "status=open", "user-42"))
	assert.NotEqual(t, base, BuildKey(http.MethodGet, "/v1/bookings", "status=closed", "user-42"))
	assert.NotEqual(t, base, BuildKey(http.MethodGet, "/v1/bookings", "status=open", "user-7"),
		"identity-scoped entries are never shared across callers")
	assert.NotEqual(t, base, BuildKey(http.MethodGet, "/v1/bookings", "status=open", ""),
		"anonymous and scoped requests never collide")
}

func TestBuildKey_MalformedQueryParticipatesVerbatim(t *testing.T) {
	a := BuildKey(http.MethodGet, "/v1/requests", "q=%zz&x=1", "")
	b := BuildKey(http.MethodGet, "/v1/requests", "x=1&q=%zz", "")
	assert.NotEqual(t, a, b, "unparseable queries are not normalized")
	assert.Contains(t, a, "q=%zz&x=1")
}
