package extract

import "testing"

func TestExtractBothBlocks(t *testing.T) {
	text := "Here is your component:\n\n```jsx\nconst Button = () => <button>Hi</button>;\n```\n\nAnd the styles:\n\n```css\n.button { color: red; }\n```\n\nEnjoy!"
	res := Extract(text)
	if res.Markup != "const Button = () => <button>Hi</button>;" {
		t.Fatalf("unexpected markup: %q", res.Markup)
	}
	if res.Style != ".button { color: red; }" {
		t.Fatalf("unexpected style: %q", res.Style)
	}
}

func TestExtractTSXFence(t *testing.T) {
	res := Extract("```tsx\nexport const X = () => null;\n```")
	if res.Markup != "export const X = () => null;" {
		t.Fatalf("tsx fence not extracted: %q", res.Markup)
	}
}

func TestExtractFirstBlockWins(t *testing.T) {
	text := "```jsx\nfirst\n```\nsome prose\n```jsx\nsecond\n```\n```css\n.a {}\n```\n```css\n.b {}\n```"
	res := Extract(text)
	if res.Markup != "first" {
		t.Fatalf("expected first jsx block, got %q", res.Markup)
	}
	if res.Style != ".a {}" {
		t.Fatalf("expected first css block, got %q", res.Style)
	}
}

func TestExtractNonGreedyAcrossLanguages(t *testing.T) {
	// The jsx capture must stop at its own closing fence, not swallow the
	// css block that follows.
	text := "```jsx\n<div />\n```\n```css\ndiv { margin: 0; }\n```"
	res := Extract(text)
	if res.Markup != "<div />" {
		t.Fatalf("jsx capture leaked past its fence: %q", res.Markup)
	}
	if res.Style != "div { margin: 0; }" {
		t.Fatalf("unexpected style: %q", res.Style)
	}
}

func TestExtractPreservesInnerWhitespace(t *testing.T) {
	inner := "const x = 1;\n\n  const y = 2;\n\tconst z = 3;"
	res := Extract("```jsx\n" + inner + "\n```")
	if res.Markup != inner {
		t.Fatalf("inner whitespace altered:\nwant %q\ngot  %q", inner, res.Markup)
	}
}

func TestExtractMissingBlocks(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"plain prose", "Sure! Here is how you would build a button component."},
		{"empty string", ""},
		{"mistagged language", "```javascript\nconst a = 1;\n```"},
		{"unterminated fence", "```jsx\nconst a = 1;"},
		{"bare fence without language", "```\nconst a = 1;\n```"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Extract(tc.text)
			if res.HasMarkup() || res.HasStyle() {
				t.Fatalf("expected no extraction, got markup=%q style=%q", res.Markup, res.Style)
			}
		})
	}
}

func TestExtractStyleOnly(t *testing.T) {
	res := Extract("Only styling this time:\n```css\nbody { margin: 0; }\n```")
	if res.HasMarkup() {
		t.Fatalf("unexpected markup: %q", res.Markup)
	}
	if res.Style != "body { margin: 0; }" {
		t.Fatalf("unexpected style: %q", res.Style)
	}
}

func TestExtractTrailingSpacesAfterTag(t *testing.T) {
	res := Extract("```jsx  \n<span />\n```")
	if res.Markup != "<span />" {
		t.Fatalf("fence with trailing spaces not matched: %q", res.Markup)
	}
}
