package portal

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestExtractTokens(t *testing.T) {
	cases := []struct {
		name string
		html string
		want TokenSet
	}{
		{
			name: "empty document",
			html: "",
			want: TokenSet{},
		},
		{
			name: "no hidden inputs",
			html: `<form><input type="text" name="q" value="x"><input type="submit" value="go"></form>`,
			want: TokenSet{},
		},
		{
			name: "hidden and untyped inputs",
			html: `<input type="hidden" name="xkxnm" value="2024">
				<input name="xkxqm" value="3">
				<input type="text" name="visible" value="no">`,
			want: TokenSet{"xkxnm": "2024", "xkxqm": "3"},
		},
		{
			name: "type is case-insensitive",
			html: `<input type="HIDDEN" name="a" value="1"><input type=" Hidden " name="b" value="2">`,
			want: TokenSet{"a": "1", "b": "2"},
		},
		{
			name: "id is used when there is no name",
			html: `<input type="hidden" id="firstKklxdm" value="01">`,
			want: TokenSet{"firstKklxdm": "01"},
		},
		{
			name: "first occurrence wins",
			html: `<input type="hidden" name="a" value="first"><input type="hidden" name="a" value="second">`,
			want: TokenSet{"a": "first"},
		},
		{
			name: "missing value is empty",
			html: `<input type="hidden" name="a">`,
			want: TokenSet{"a": ""},
		},
		{
			name: "inputs without a key are skipped",
			html: `<input type="hidden" value="orphan">`,
			want: TokenSet{},
		},
		{
			name: "malformed markup",
			html: `<div><input type="hidden" name="a" value="1"<<<>></span><input name=b value=2`,
			want: nil,
		},
		{
			name: "keys are case sensitive",
			html: `<input type="hidden" name="Key" value="1"><input type="hidden" name="key" value="2">`,
			want: TokenSet{"Key": "1", "key": "2"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var got TokenSet
			require.NotPanics(t, func() {
				got = ExtractTokens(c.html)
			})
			require.NotNil(t, got)
			if c.want == nil {
				return
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Fatalf("unexpected tokens (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	cases := []struct {
		name     string
		base     TokenSet
		override TokenSet
		want     TokenSet
	}{
		{
			name:     "explicit empty override keeps base",
			base:     TokenSet{"a": "1"},
			override: TokenSet{"a": ""},
			want:     TokenSet{"a": "1"},
		},
		{
			name:     "non-empty override wins",
			base:     TokenSet{"a": "1"},
			override: TokenSet{"a": "2"},
			want:     TokenSet{"a": "2"},
		},
		{
			name:     "both empty stays empty",
			base:     TokenSet{"a": ""},
			override: TokenSet{"a": ""},
			want:     TokenSet{"a": ""},
		},
		{
			name:     "keys only in override are kept",
			base:     TokenSet{"a": "1", "b": ""},
			override: TokenSet{"b": "2", "c": ""},
			want:     TokenSet{"a": "1", "b": "2", "c": ""},
		},
		{
			name:     "nil sets",
			base:     nil,
			override: nil,
			want:     TokenSet{},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Merge(c.base, c.override)
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Fatalf("unexpected merge (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeDoesNotAlias(t *testing.T) {
	base := TokenSet{"a": "1"}
	override := TokenSet{"b": "2"}
	merged := Merge(base, override)
	merged["a"] = "changed"
	require.Equal(t, "1", base["a"])
	require.NotContains(t, override, "a")
}

func TestMissing(t *testing.T) {
	tokens := TokenSet{"a": "1", "b": "", "d": "4"}
	require.Equal(t, []string{"b", "c"}, tokens.Missing([]string{"c", "b", "a", "c"}))
	require.Empty(t, tokens.Missing([]string{"a", "d"}))

	_, ok := tokens.Lookup("b")
	require.True(t, ok)
	_, ok = tokens.Lookup("c")
	require.False(t, ok)
	require.Equal(t, "", tokens.Get("c"))
	require.Equal(t, []string{"a", "b", "d"}, tokens.Keys())
}
