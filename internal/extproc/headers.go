package extproc

import (
	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"

	"github.com/kuadrant/policy-pipeline/internal/attr"
)

// headersFromProto converts an Envoy HeaderMap into the shared Headers
// model, using Value and falling back to RawValue when Value is empty, since
// the wire format allows either.
func headersFromProto(hdrs *corev3.HeaderMap) *attr.Headers {
	out := attr.NewHeaders()
	if hdrs == nil {
		return out
	}
	for _, h := range hdrs.GetHeaders() {
		value := h.GetValue()
		if value == "" && len(h.GetRawValue()) > 0 {
			value = string(h.GetRawValue())
		}
		out.Append(h.GetKey(), value)
	}
	return out
}

// diffHeaderMutation compares before/after snapshots of a header map and
// returns the HeaderMutation that turns before into after. A header whose
// value list is unchanged is left alone; a header present in before but
// absent from after is removed; anything else is rewritten wholesale via
// OVERWRITE_IF_EXISTS_OR_ADD for the first value and APPEND_IF_EXISTS_OR_ADD
// for the rest, following the host's own replace-then-append convention.
func diffHeaderMutation(before, after *attr.Headers) *extprocv3.HeaderMutation {
	if before == nil {
		before = attr.NewHeaders()
	}
	if after == nil {
		after = attr.NewHeaders()
	}

	var names []string
	seen := make(map[string]bool)
	addNames := func(h *attr.Headers) {
		for _, e := range h.Entries() {
			key := lower(e.Name)
			if !seen[key] {
				seen[key] = true
				names = append(names, e.Name)
			}
		}
	}
	addNames(before)
	addNames(after)

	mutation := &extprocv3.HeaderMutation{}
	for _, name := range names {
		beforeVals := before.GetAll(name)
		afterVals := after.GetAll(name)
		if equalValues(beforeVals, afterVals) {
			continue
		}
		if len(afterVals) == 0 {
			mutation.RemoveHeaders = append(mutation.RemoveHeaders, name)
			continue
		}
		for i, v := range afterVals {
			action := corev3.HeaderValueOption_APPEND_IF_EXISTS_OR_ADD
			if i == 0 {
				action = corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD
			}
			mutation.SetHeaders = append(mutation.SetHeaders, &corev3.HeaderValueOption{
				Header:       &corev3.HeaderValue{Key: name, RawValue: []byte(v)},
				AppendAction: action,
			})
		}
	}
	if len(mutation.SetHeaders) == 0 && len(mutation.RemoveHeaders) == 0 {
		return nil
	}
	return mutation
}

func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
