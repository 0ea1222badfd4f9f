// Package template implements the placeholder mini-language used by command
// definitions.
//
// Placeholders:
//   - %PARAM{name}%        request parameter, "" when absent
//   - %PARAM{name:split}%  same, but split on whitespace into separate arguments
//     (only meaningful to ExpandArgs)
//   - %BODY%               raw request body, "" when absent
//   - %STDOUT%, %STDERR%, %CODE%  process result; only recognized when a Result is
//     bound, otherwise left as literal text
//
// Expansion is a single left-to-right pass. Substituted values are never
// re-scanned, so a parameter whose value contains "%BODY%" is passed through
// literally.
//
// A Template is either a plain string or a nested structure of sequences and
// mappings whose string leaves are expanded. Non-string leaves pass through
// unchanged. Mappings keep their declaration order so that serialized output is
// byte-identical across runs.
package template
