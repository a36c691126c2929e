package common

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"path"
	"reflect"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/devopsext/utils"
	"github.com/pkg/errors"
	"github.com/rs/xid"
)

func IsEmpty(s string) bool {
	s1 := strings.TrimSpace(s)
	return len(s1) == 0
}

func MakeHttpClient(timeout int) *http.Client {

	var transport = &http.Transport{
		Dial:                (&net.Dialer{Timeout: time.Duration(timeout) * time.Second}).Dial,
		TLSHandshakeTimeout: time.Duration(timeout) * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
	}

	var client = &http.Client{
		Timeout:   time.Duration(timeout) * time.Second,
		Transport: transport,
	}

	return client
}

func getLastPath(s string, limit int) string {

	index := 0
	dir := s
	var arr []string

	for !IsEmpty(dir) {
		if index >= limit {
			break
		}
		index++
		arr = append([]string{path.Base(dir)}, arr...)
		dir = path.Dir(dir)
	}
	return path.Join(arr...)
}

func GetCallerInfo(offset int) (string, string, int) {

	pc := make([]uintptr, 15)
	n := runtime.Callers(offset, pc)
	frames := runtime.CallersFrames(pc[:n])
	frame, _ := frames.Next()

	function := getLastPath(frame.Function, 1)
	file := getLastPath(frame.File, 3)
	line := frame.Line

	return function, file, line
}

func HasElem(s interface{}, elem interface{}) bool {

	arrV := reflect.ValueOf(s)

	if arrV.Kind() == reflect.Slice {
		for i := 0; i < arrV.Len(); i++ {

			// XXX - panics if slice element points to an unexported struct field
			// see https://golang.org/pkg/reflect/#Value.Interface
			if arrV.Index(i).Interface() == elem {
				return true
			}
		}
	}
	return false
}

// IsNil is true for nil and for an interface holding a nil pointer.
func IsNil(v interface{}) bool {

	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func GetGuid() string {
	guid := xid.New()
	return guid.String()
}

// GetKeyValues parses "k1=v1,k2=${ENV:default}" lists.
func GetKeyValues(s string) map[string]string {

	pairs := strings.Split(s, ",")
	m := make(map[string]string)

	for _, p := range pairs {

		if IsEmpty(p) {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k, v := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])

		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
			ed := strings.SplitN(v[2:len(v)-1], ":", 2)
			e, d := ed[0], ""
			if len(ed) > 1 {
				d = ed[1]
			}
			v = utils.EnvGet(e, "").(string)
			if v == "" && d != "" {
				v = d
			}
		}
		m[k] = v
	}
	return m
}

func MapToArray(m map[string]string) []string {

	var arr []string
	for k, v := range m {
		arr = append(arr, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(arr)
	return arr
}

func TraceIDUint64ToHex(id uint64) string {
	return fmt.Sprintf("%032x", id)
}

func TraceIDHexToUint64(s string) uint64 {
	return lowHexToUint64(s)
}

func SpanIDUint64ToHex(id uint64) string {
	return fmt.Sprintf("%016x", id)
}

func SpanIDHexToUint64(s string) uint64 {
	return lowHexToUint64(s)
}

func lowHexToUint64(s string) uint64 {

	if len(s) > 16 {
		s = s[len(s)-16:]
	}
	i, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return i
}

// ErrorKind returns the package-less type name of the cause of err, "HTTPError" for *web.HTTPError.
// Context errors are named after their canonical codes.
func ErrorKind(err error) string {

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	}
	name := reflect.TypeOf(errors.Cause(err)).String()
	name = strings.TrimLeft(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ErrorStack returns the first stack trace found in the err chain, or "".
func ErrorStack(err error) string {

	for err != nil {
		if st, ok := err.(stackTracer); ok {
			return strings.TrimSpace(fmt.Sprintf("%+v", st.StackTrace()))
		}
		err = errors.Unwrap(err)
	}
	return ""
}
