package log

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

type stackCarrier interface{ StackPCs() []uintptr }

type pcCarrier interface{ PC() uintptr }

// ownFrame reports frames that belong to the logging/error plumbing and
// should not appear as the "interesting" part of a stack.
func ownFrame(fn string) bool {
	return strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.") ||
		strings.Contains(fn, "/internal/xerrors.")
}

// renderStack prints func/file:line pairs, dropping leading plumbing frames
// and stopping at the runtime.
func renderStack(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	started := false
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !started && !ownFrame(fr.Function) {
			started = true
		}
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// errorChain lists the distinct messages seen while unwrapping err,
// including the direct members of an errors.Join.
func errorChain(err error) []string {
	var out []string
	prev := ""
	add := func(msg string) {
		if msg != prev {
			out = append(out, msg)
			prev = msg
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			add(e.Error())
		}
	}
	return out
}

// errorLinks describes up to max links of the chain with the position each
// link was created at, when known. The outermost link is always present.
func errorLinks(err error, max int) []map[string]any {
	var links []map[string]any
	depth := 0
	for e := err; e != nil && (max <= 0 || depth < max); e = errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fn, file, line, ok := "", "", 0, false
		switch c := e.(type) {
		case pcCarrier:
			fn, file, line, ok = frameAt(c.PC())
		case stackCarrier:
			fn, file, line, ok = firstForeignFrame(c.StackPCs())
		}
		if ok {
			link["func"], link["file"], link["line"] = fn, file, line
		}
		if depth == 0 || ok {
			links = append(links, link)
		}
		depth++
	}
	return links
}

func frameAt(pc uintptr) (fn, file string, line int, ok bool) {
	if pc == 0 {
		return "", "", 0, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function, fr.File, fr.Line, true
}

func firstForeignFrame(pcs []uintptr) (fn, file string, line int, ok bool) {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if fr.Function != "" && !strings.HasPrefix(fr.Function, "runtime.") && !ownFrame(fr.Function) {
			return fr.Function, fr.File, fr.Line, true
		}
		if !more {
			return "", "", 0, false
		}
	}
}

// errorTypes returns the first non-wrapper type in the chain and the type
// of the innermost error.
func errorTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		u := t
		for u.Kind() == reflect.Pointer {
			u = u.Elem()
		}
		if strings.Contains(u.PkgPath(), "/internal/xerrors") {
			continue
		}
		if u.PkgPath() == "fmt" && u.Name() == "wrapError" {
			continue
		}
		surface = t.String()
		break
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}

	last := err
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		last = e
	}
	return surface, fmt.Sprintf("%T", last)
}
