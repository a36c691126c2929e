package common

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestUtilsTraceID(t *testing.T) {

	s := TraceIDUint64ToHex(0)
	if len(s) != 32 {
		t.Fatal("Wrong trace ID lenght")
	}

	i := TraceIDHexToUint64(s)
	if i != 0 {
		t.Fatal("Wrong trace ID hex")
	}

	s = TraceIDUint64ToHex(1)
	if s != "00000000000000000000000000000001" {
		t.Fatal("Wrong trace ID num")
	}

	i = TraceIDHexToUint64(s)
	if i != 1 {
		t.Fatal("Wrong trace ID hex")
	}

	s = TraceIDUint64ToHex(uint64(math.Pow(2, 32)))
	if s != "00000000000000000000000100000000" {
		t.Fatal("Wrong trace ID num")
	}

	i = TraceIDHexToUint64(s)
	if i != uint64(math.Pow(2, 32)) {
		t.Fatal("Wrong trace ID hex")
	}

	if TraceIDHexToUint64("not-hex") != 0 {
		t.Fatal("Valid trace ID hex")
	}
}

func TestUtilsSpanID(t *testing.T) {

	s := SpanIDUint64ToHex(0)
	if len(s) != 16 {
		t.Fatal("Wrong span ID lenght")
	}

	s = SpanIDUint64ToHex(1)
	if s != "0000000000000001" {
		t.Fatal("Wrong span ID num")
	}

	i := SpanIDHexToUint64(s)
	if i != 1 {
		t.Fatal("Wrong span ID hex")
	}

	s = SpanIDUint64ToHex(uint64(math.Pow(2, 32)))
	if s != "0000000100000000" {
		t.Fatal("Wrong span ID num")
	}
}

func TestUtilsKeyValues(t *testing.T) {

	os.Setenv("WEBTRACE_TEST_KEY", "from-env")
	defer os.Unsetenv("WEBTRACE_TEST_KEY")

	m := GetKeyValues("tag1=value1,,tag2=${WEBTRACE_TEST_KEY:none},tag3=${WEBTRACE_MISSING_KEY:value3},broken")
	assert.Equal(t, map[string]string{
		"tag1": "value1",
		"tag2": "from-env",
		"tag3": "value3",
	}, m)

	assert.Equal(t, []string{"tag1=value1", "tag2=from-env", "tag3=value3"}, MapToArray(m))
}

type nameError struct{ name string }

func (e *nameError) Error() string { return fmt.Sprintf("name '%s' is not defined", e.name) }

func TestUtilsErrorKind(t *testing.T) {

	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "nameError", ErrorKind(&nameError{name: "x"}))
	assert.Equal(t, "fundamental", ErrorKind(errors.New("boom")))
	assert.Equal(t, "nameError", ErrorKind(errors.Wrap(&nameError{name: "x"}, "wrapped")))

	assert.Equal(t, "Canceled", ErrorKind(errors.WithStack(context.Canceled)))
	assert.Equal(t, "DeadlineExceeded", ErrorKind(fmt.Errorf("fetch: %w", context.DeadlineExceeded)))
}

func TestUtilsErrorStack(t *testing.T) {

	assert.Equal(t, "", ErrorStack(nil))
	assert.Equal(t, "", ErrorStack(&nameError{name: "x"}))

	stack := ErrorStack(errors.Wrap(&nameError{name: "x"}, "handler failed"))
	assert.Contains(t, stack, "TestUtilsErrorStack")
}
