package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcludeList(t *testing.T) {

	el := NewExcludeList([]string{"http://localhost/ping", " /health$ ", "", "/health$"})
	assert.Equal(t, 2, el.Len())

	assert.True(t, el.Excluded("http://localhost/ping"))
	assert.True(t, el.Excluded("http://localhost:8080/health"))
	assert.False(t, el.Excluded("http://localhost:8080/health/deep"))
	assert.False(t, el.Excluded("http://localhost/"))
}

func TestExcludeListNil(t *testing.T) {

	var el *ExcludeList
	assert.False(t, el.Excluded("anything"))
	assert.Equal(t, 0, el.Len())
}

func TestExcludeListExactOnly(t *testing.T) {

	el := NewExcludeList([]string{"/search?q=(draft", "/api/v1.0/ping"})
	assert.Equal(t, 2, el.Len())
	assert.Equal(t, []string{"/api/v1.0/ping"}, el.Patterns())

	if !el.Excluded("/search?q=(draft") {
		t.Fatal("Invalid exclusion, exact url with a broken pattern must match")
	}
	assert.False(t, el.Excluded("/search?q=(draft2"))
	assert.False(t, el.Excluded("/search"))
	assert.True(t, el.Excluded("/api/v1.0/ping"))
}
