package ai

import "testing"

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```JSON {\"a\":1}```":     `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"  {\"a\":1}  ":            `{"a":1}`,
		"{\"a\":1}\n```":           `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripFences(in); got != want {
			t.Fatalf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeLenientToleratesCommentsAndTrailingCommas(t *testing.T) {
	text := `{
		// model commentary
		"RootCause": "off by one", /* inline */
		"EXPLANATION": "loop runs one step too far",
		"suggestedFix": "use < instead of <=",
		"correctedCode": "for i := 0; i < n; i++ { fmt.Println(\"a // b, }\") }",
	}`
	var r Result
	if err := decodeLenient(text, &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.RootCause != "off by one" || r.Explanation != "loop runs one step too far" {
		t.Fatalf("case-insensitive fields not matched: %+v", r)
	}
	if r.CorrectedCode != `for i := 0; i < n; i++ { fmt.Println("a // b, }") }` {
		t.Fatalf("string content altered: %q", r.CorrectedCode)
	}
}

func TestDecodeLenientExtractsWrappedObject(t *testing.T) {
	var r Result
	if err := decodeLenient(`Here is the analysis: {"rootCause":"x"} hope it helps`, &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.RootCause != "x" {
		t.Fatalf("unexpected root cause %q", r.RootCause)
	}
}

func TestDecodeLenientRejectsBrokenJSON(t *testing.T) {
	var r Result
	for _, text := range []string{`{"rootCause": "x"`, ``, `{"rootCause": }`} {
		if err := decodeLenient(text, &r); err == nil {
			t.Fatalf("expected error for %q", text)
		}
	}
}
