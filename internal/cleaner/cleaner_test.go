package cleaner

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		opts Options
		want string
	}{
		{
			name: "strips presentation attributes",
			in:   `<table width="100%" cellpadding="0" class="x"><tr><td style="color:red" align="left">Hi</td></tr></table>`,
			opts: DefaultOptions(),
			want: "<table>\n<tr>\n<td>Hi</td>\n</tr>\n</table>",
		},
		{
			name: "removes scripts styles and comments",
			in:   "<div>\n<style>.a{}</style><script>x()</script><!-- c --><p>Text</p></div>",
			opts: DefaultOptions(),
			want: "<div>\n<p>Text</p>\n</div>",
		},
		{
			name: "drops tracking pixel and link attributes",
			in:   `<a href="https://x" target="_blank" rel="noopener" data-track="1">Post</a><img src="https://t/tracking.gif">`,
			opts: DefaultOptions(),
			want: `<a href="https://x">Post</a>`,
		},
		{
			name: "removes empty elements but keeps void ones",
			in:   `<p>A</p><span> </span><br><div></div>`,
			opts: DefaultOptions(),
			want: "<p>A</p>\n<br>",
		},
		{
			name: "preserve structure keeps ids",
			in:   `<div id="main">A</div>`,
			opts: Options{PreserveStructure: true},
			want: `<div id="main">A</div>`,
		},
		{
			name: "extract text only",
			in:   `<div><style>p{}</style><p>Hello</p><p style="display: none">hidden</p><p>world</p></div>`,
			opts: Options{ExtractTextOnly: true},
			want: "Hello world",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in, tt.opts); got != tt.want {
				t.Errorf("Clean() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}
