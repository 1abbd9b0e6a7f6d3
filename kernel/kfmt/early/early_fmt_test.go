package early

import "testing"

func captureOutput(fn func()) string {
	var buf []byte
	SetSink(func(b byte) { buf = append(buf, b) })
	defer SetSink(nil)
	fn()
	return string(buf)
}

func TestPrintfVerbs(t *testing.T) {
	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"no verbs here", nil, "no verbs here"},
		{"%s", []interface{}{"hi"}, "hi"},
		{"%5s", []interface{}{"hi"}, "   hi"},
		{"%d", []interface{}{42}, "42"},
		{"%d", []interface{}{-42}, "-42"},
		{"%4d", []interface{}{-42}, " -42"},
		{"%o", []interface{}{8}, "10"},
		{"%x", []interface{}{255}, "0xff"},
		{"%t", []interface{}{true}, "true"},
		{"%t", []interface{}{false}, "false"},
		{"100%%", nil, "100%"},
		{"[%d:%s]", []interface{}{1, "a"}, "[1:a]"},
	}

	for _, spec := range specs {
		got := captureOutput(func() { Printf(spec.format, spec.args...) })
		if got != spec.exp {
			t.Errorf("format %q: expected %q; got %q", spec.format, spec.exp, got)
		}
	}
}

func TestPrintfMissingAndExtraArgs(t *testing.T) {
	got := captureOutput(func() { Printf("%d") })
	if got != string(errMissingArg) {
		t.Errorf("expected missing-arg marker; got %q", got)
	}

	got = captureOutput(func() { Printf("no verbs", 1, 2) })
	if got != "no verbs"+string(errExtraArg)+string(errExtraArg) {
		t.Errorf("expected extra-arg markers; got %q", got)
	}
}

func TestPrintfWrongType(t *testing.T) {
	got := captureOutput(func() { Printf("%d", "not a number") })
	if got != string(errWrongArgType) {
		t.Errorf("expected wrong-type marker; got %q", got)
	}
}

func TestSetSinkNilDiscardsOutput(t *testing.T) {
	SetSink(nil)
	// Must not panic even though nothing observes the output.
	Printf("%s", "discarded")
}
