package output

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/clirelay/internal/template"
)

func tmpl(t template.Template) *template.Template { return &t }

func TestResolveBodyPrecedence(t *testing.T) {
	onSuccess := tmpl(template.String("ok:%STDOUT%"))
	onError := tmpl(template.String("err:%STDERR%:%CODE%"))

	tests := []struct {
		name     string
		policy   Policy
		outcome  Outcome
		body     string
		selected Selection
	}{
		{
			name:     "spawn failure with on_error",
			policy:   Policy{OnSuccess: onSuccess, OnError: onError},
			outcome:  SpawnFailed("exec: \"nope\": executable file not found in $PATH"),
			body:     "err:exec: \"nope\": executable file not found in $PATH:1",
			selected: SelectedOnError,
		},
		{
			name:     "spawn failure without on_error",
			policy:   Policy{OnSuccess: onSuccess},
			outcome:  SpawnFailed("permission denied"),
			body:     "Error: permission denied\nCode: 1",
			selected: SelectedErrorFallback,
		},
		{
			name:     "stderr with on_error",
			policy:   Policy{OnSuccess: onSuccess, OnError: onError},
			outcome:  Completed("out", "bad", 2),
			body:     "err:bad:2",
			selected: SelectedOnError,
		},
		{
			name:     "stderr without on_error uses on_success",
			policy:   Policy{OnSuccess: onSuccess},
			outcome:  Completed("out", "warning", 0),
			body:     "ok:out",
			selected: SelectedOnSuccess,
		},
		{
			name:     "non-zero exit without stderr uses on_success",
			policy:   Policy{OnSuccess: onSuccess, OnError: onError},
			outcome:  Completed("partial", "", 3),
			body:     "ok:partial",
			selected: SelectedOnSuccess,
		},
		{
			name:     "nothing configured with stderr",
			outcome:  Completed("out", "boom", 4),
			body:     "Error: boom\nCode: 4",
			selected: SelectedErrorFallback,
		},
		{
			name:     "nothing configured clean run",
			outcome:  Completed("hi\n", "", 0),
			body:     "hi\n",
			selected: SelectedStdoutFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Resolve(tt.policy, tt.outcome, "")
			assert.Equal(t, tt.body, string(resp.Body))
			assert.Equal(t, tt.selected, resp.Selected)
			assert.Equal(t, ContentTypeText, resp.ContentType)
		})
	}
}

func TestResolveContentTypePrecedence(t *testing.T) {
	structured := tmpl(template.Map(template.F("out", template.String("%STDOUT%"))))
	plain := tmpl(template.String("%STDOUT%"))
	done := Completed("x", "", 0)

	tests := []struct {
		name     string
		policy   Policy
		override string
		expected string
	}{
		{"override beats policy and structure", Policy{OnSuccess: structured, ContentType: "text/csv"}, "text/html", "text/html"},
		{"policy beats structure", Policy{OnSuccess: structured, ContentType: "text/csv"}, "", "text/csv"},
		{"structure implies json", Policy{OnSuccess: structured}, "", ContentTypeJSON},
		{"plain default", Policy{OnSuccess: plain}, "", ContentTypeText},
		{"override beats plain default", Policy{OnSuccess: plain}, "application/xml", "application/xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Resolve(tt.policy, done, tt.override).ContentType)
		})
	}
}

func TestResolveStructuredOnError(t *testing.T) {
	policy := Policy{
		OnError: tmpl(template.Map(
			template.F("code", template.String("%CODE%")),
			template.F("msg", template.String("%STDERR%")),
		)),
	}

	resp := Resolve(policy, Completed("", "boom", 2), "")
	assert.Equal(t, ContentTypeJSON, resp.ContentType)
	assert.Equal(t, "{\n    \"code\": \"2\",\n    \"msg\": \"boom\"\n}", string(resp.Body))

	var got map[string]string
	require.NoError(t, json.Unmarshal(resp.Body, &got))
	assert.Equal(t, map[string]string{"code": "2", "msg": "boom"}, got)
}

func TestResolveIsIdempotent(t *testing.T) {
	policy := Policy{
		OnSuccess: tmpl(template.Map(
			template.F("z", template.String("%STDOUT%")),
			template.F("a", template.Seq(template.String("%CODE%"), template.Literal(1))),
		)),
	}
	outcome := Completed("<b>&</b>", "", 0)

	first := Resolve(policy, outcome, "")
	second := Resolve(policy, outcome, "")
	assert.Equal(t, first, second)
	assert.Contains(t, string(first.Body), `"<b>&</b>"`)
}

func TestResolveStringUnderJSONContentType(t *testing.T) {
	t.Run("valid json is indented", func(t *testing.T) {
		resp := Resolve(Policy{ContentType: "application/json; charset=utf-8"}, Completed(`{"a":[1,2]}`, "", 0), "")
		assert.Equal(t, "{\n    \"a\": [\n        1,\n        2\n    ]\n}", string(resp.Body))
	})

	t.Run("plain text is quoted", func(t *testing.T) {
		resp := Resolve(Policy{}, Completed("hello\n", "", 0), "application/json")
		assert.Equal(t, `"hello\n"`, string(resp.Body))
	})
}

func TestIsJSON(t *testing.T) {
	assert.True(t, IsJSON("application/json"))
	assert.True(t, IsJSON("Application/JSON; charset=utf-8"))
	assert.True(t, IsJSON("application/problem+json"))
	assert.False(t, IsJSON("text/plain"))
	assert.False(t, IsJSON(""))
}
