package assert

import "fmt"

// NotNil panics if value is nil, `name` is optional and only used to
// make the panic message easier to trace.
func NotNil(value any, name ...string) {
	if value == nil {
		panic(fmt.Sprintf("expected %s to be not nil", describe(name)))
	}
}

// NotEmptyStr panics if str is empty.
func NotEmptyStr(str string, name ...string) {
	if str == "" {
		panic(fmt.Sprintf("expected %s to be a non-empty string", describe(name)))
	}
}

// Positive panics if n <= 0.
func Positive(n int, name ...string) {
	if n <= 0 {
		panic(fmt.Sprintf("expected %s to be positive, got %d", describe(name), n))
	}
}

func describe(name []string) string {
	if len(name) == 0 {
		return "value"
	}
	return name[0]
}
