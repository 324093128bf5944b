package cdp

import (
	"context"
	"errors"
	"testing"
)

func TestCommandAllowList(t *testing.T) {
	allowed := []string{"goto", "focus", "click", "hover", "type", "waitForSelector",
		"setViewport", "setDefaultTimeout", "setDefaultNavigationTimeout",
		"title", "url", "content", "pdf", "screenshot"}
	for _, m := range allowed {
		if !CommandAllowed(m) {
			t.Fatalf("CommandAllowed(%q) = false, want true", m)
		}
	}

	rejected := []string{"evaluate", "exposeFunction", "setCookie", "deleteCookie", "close", ""}
	for _, m := range rejected {
		if CommandAllowed(m) {
			t.Fatalf("CommandAllowed(%q) = true, want false", m)
		}
	}
}

func TestInvokeRejectsOutsideAllowList(t *testing.T) {
	p := &Page{}
	_, err := p.Invoke(context.Background(), "evaluate", []any{"1+1"})
	if err == nil {
		t.Fatal("Invoke(evaluate) = nil error, want rejection")
	}
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeCommandRejected {
		t.Fatalf("Invoke(evaluate) error = %v, want COMMAND_REJECTED", err)
	}
}

func TestArgHelpers(t *testing.T) {
	t.Run("string_ok", func(t *testing.T) {
		s, err := argString([]any{"#login"}, 0, "selector")
		if err != nil || s != "#login" {
			t.Fatalf("argString() = %q, %v", s, err)
		}
	})

	t.Run("string_missing", func(t *testing.T) {
		if _, err := argString(nil, 0, "selector"); err == nil {
			t.Fatal("argString(missing) = nil error")
		}
	})

	t.Run("string_wrong_type", func(t *testing.T) {
		if _, err := argString([]any{42}, 0, "selector"); err == nil {
			t.Fatal("argString(int) = nil error")
		}
	})

	t.Run("int_from_json_number", func(t *testing.T) {
		// JSON request bodies decode numbers as float64.
		n, err := argInt([]any{float64(1280)}, 0, "width")
		if err != nil || n != 1280 {
			t.Fatalf("argInt() = %d, %v", n, err)
		}
	})
}

func TestIsTransient(t *testing.T) {
	transient := []string{
		"Execution context was destroyed, most likely because of a navigation",
		"rpcc: the connection is closing: Target closed",
		"Cannot find context with specified id",
	}
	for _, msg := range transient {
		if !IsTransient(errors.New(msg)) {
			t.Fatalf("IsTransient(%q) = false, want true", msg)
		}
	}
	if IsTransient(errors.New("connection refused")) {
		t.Fatal("IsTransient(connection refused) = true, want false")
	}
	if IsTransient(nil) {
		t.Fatal("IsTransient(nil) = true")
	}
}

func TestRewriteWSHost(t *testing.T) {
	got := rewriteWSHost("ws://127.0.0.1:9222/devtools/browser/abc", "172.28.0.1", 9223)
	if got != "ws://172.28.0.1:9223/devtools/browser/abc" {
		t.Fatalf("rewriteWSHost() = %q", got)
	}
}

func TestJoinHostPortBracketsIPv6Literals(t *testing.T) {
	cases := []struct {
		addr string
		port int
		want string
	}{
		{"127.0.0.1", 9222, "127.0.0.1:9222"},
		{"::1", 9222, "[::1]:9222"},
		{"localhost", 9222, "localhost:9222"},
	}
	for _, tc := range cases {
		if got := joinHostPort(tc.addr, tc.port); got != tc.want {
			t.Fatalf("joinHostPort(%q, %d) = %q, want %q", tc.addr, tc.port, got, tc.want)
		}
	}
}
