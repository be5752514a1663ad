package extproc

import (
	"context"
	"testing"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/stretchr/testify/require"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/blueprint"
	"github.com/kuadrant/policy-pipeline/internal/config"
	"github.com/kuadrant/policy-pipeline/internal/expr"
)

func httpHeaders(pairs ...string) *extprocv3.HttpHeaders {
	hm := &corev3.HeaderMap{}
	for i := 0; i+1 < len(pairs); i += 2 {
		hm.Headers = append(hm.Headers, &corev3.HeaderValue{Key: pairs[i], Value: pairs[i+1]})
	}
	return &extprocv3.HttpHeaders{Headers: hm}
}

func newTestFactory(t *testing.T) *blueprint.Factory {
	t.Helper()
	env, err := expr.NewEnvironment()
	require.NoError(t, err)

	cfg := config.Config{
		ActionSets: []config.ActionSetConfig{
			{
				Name: "annotate",
				RouteRuleConditions: config.RouteRuleConditions{
					Hostnames: []string{"api.example.com"},
				},
				Actions: []config.ActionConfig{
					{
						Headers: []config.HeaderMutationConfig{
							{Map: "request", Op: "set", Name: "x-policy", Value: "'applied'"},
						},
					},
				},
			},
		},
	}
	f, err := blueprint.New(cfg, env, blueprint.Options{})
	require.NoError(t, err)
	return f
}

func TestHandleRequestHeadersAppliesMutationForMatchingHost(t *testing.T) {
	s := NewServer(newTestFactory(t), attr.NewDefaultTypeRegistry(), nil, Options{})
	st := s.newStream(context.Background())

	resp, err := s.handle(context.Background(), st, &extprocv3.ProcessingRequest{
		Request: &extprocv3.ProcessingRequest_RequestHeaders{
			RequestHeaders: httpHeaders(":authority", "api.example.com", ":method", "GET", ":path", "/widgets"),
		},
	})
	require.NoError(t, err)

	rh := resp.GetRequestHeaders()
	require.NotNil(t, rh)
	require.True(t, st.built)
	require.Equal(t, "annotate", st.actionSet)

	mutation := rh.GetResponse().GetHeaderMutation()
	require.NotNil(t, mutation)
	found := false
	for _, h := range mutation.GetSetHeaders() {
		if h.GetHeader().GetKey() == "x-policy" {
			found = true
			require.Equal(t, "applied", string(h.GetHeader().GetRawValue()))
		}
	}
	require.True(t, found, "expected x-policy header mutation")
}

func TestHandleRequestHeadersSkipsNonMatchingHost(t *testing.T) {
	s := NewServer(newTestFactory(t), attr.NewDefaultTypeRegistry(), nil, Options{})
	st := s.newStream(context.Background())

	resp, err := s.handle(context.Background(), st, &extprocv3.ProcessingRequest{
		Request: &extprocv3.ProcessingRequest_RequestHeaders{
			RequestHeaders: httpHeaders(":authority", "other.example.com", ":method", "GET", ":path", "/"),
		},
	})
	require.NoError(t, err)
	require.False(t, st.built)
	require.True(t, st.skip)
	require.NotNil(t, resp.GetRequestHeaders())
	require.NotNil(t, resp.ModeOverride)
}

func TestHandleRequestBodyPassesThroughWhenUnbuilt(t *testing.T) {
	s := NewServer(newTestFactory(t), attr.NewDefaultTypeRegistry(), nil, Options{})
	st := s.newStream(context.Background())
	st.skip = true

	resp, err := s.handle(context.Background(), st, &extprocv3.ProcessingRequest{
		Request: &extprocv3.ProcessingRequest_RequestBody{RequestBody: &extprocv3.HttpBody{}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.GetRequestBody())
}
